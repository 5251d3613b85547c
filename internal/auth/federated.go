package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/catfacts/internal/model"
	"github.com/hitoshi/catfacts/internal/repository"
	"golang.org/x/oauth2"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	SubjectID string
	Email     string
	Name      string
	Provider  string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// AuthCodeURL はstateとPKCE verifierを埋め込んだ認証URLを生成する。
	AuthCodeURL(state, verifier string) string
	// Exchange は認可コードをトークンに交換し、ユーザー情報を取得する。
	Exchange(ctx context.Context, code, verifier string) (*OAuthUserInfo, error)
}

// FederatedState はフェデレーテッドログイン試行の状態。
type FederatedState int

const (
	FederatedIdle FederatedState = iota
	FederatedAwaitingCallback
	FederatedCompleted
	FederatedFailed
)

// String は状態名を返す。
func (s FederatedState) String() string {
	switch s {
	case FederatedIdle:
		return "idle"
	case FederatedAwaitingCallback:
		return "awaiting_callback"
	case FederatedCompleted:
		return "completed"
	case FederatedFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PendingFederatedLogin はコールバックまでブラウザ側に保持させる試行情報。
type PendingFederatedLogin struct {
	State    string
	Verifier string
}

// FederatedStart はログイン開始時にクライアントへ返す情報。
type FederatedStart struct {
	RedirectURL string
	Pending     PendingFederatedLogin
}

// CallbackParams はIdPからのコールバックパラメータ。
type CallbackParams struct {
	Code  string
	State string
	Error string
}

// FederatedBroker はGoogleログインの試行を生成し、IdPのユーザーをローカルユーザーに解決する。
type FederatedBroker struct {
	provider OAuthProvider
	users    repository.UserRepository
	now      func() time.Time
}

// NewFederatedBroker はFederatedBrokerを生成する。
func NewFederatedBroker(provider OAuthProvider, users repository.UserRepository) *FederatedBroker {
	return &FederatedBroker{
		provider: provider,
		users:    users,
		now:      time.Now,
	}
}

// NewLogin はIdle状態の新しいログイン試行を生成する。
func (b *FederatedBroker) NewLogin() *FederatedLogin {
	return &FederatedLogin{broker: b, state: FederatedIdle}
}

// Resume はブラウザが保持していた試行情報からコールバック待ちの試行を復元する。
// 試行情報が欠けている場合はFailed状態の試行を返す。
func (b *FederatedBroker) Resume(pending PendingFederatedLogin) *FederatedLogin {
	if pending.State == "" || pending.Verifier == "" {
		return &FederatedLogin{broker: b, state: FederatedFailed}
	}
	return &FederatedLogin{broker: b, state: FederatedAwaitingCallback, pending: pending}
}

// FederatedLogin は1回分のフェデレーテッドログイン試行。
// Idle → AwaitingCallback → Completed の順にのみ遷移し、失敗時はFailedで終端する。
type FederatedLogin struct {
	broker  *FederatedBroker
	state   FederatedState
	pending PendingFederatedLogin
}

// State は現在の状態を返す。
func (l *FederatedLogin) State() FederatedState {
	return l.state
}

// Begin はstateとPKCE verifierを生成し、IdPへのリダイレクトURLを返す。
func (l *FederatedLogin) Begin() (*FederatedStart, error) {
	if l.state != FederatedIdle {
		return nil, l.fail("begin called in state " + l.state.String())
	}

	state, err := generateToken(stateTokenBytes)
	if err != nil {
		return nil, l.fail("failed to generate state: " + err.Error())
	}

	l.pending = PendingFederatedLogin{
		State:    state,
		Verifier: oauth2.GenerateVerifier(),
	}
	l.state = FederatedAwaitingCallback

	return &FederatedStart{
		RedirectURL: l.broker.provider.AuthCodeURL(l.pending.State, l.pending.Verifier),
		Pending:     l.pending,
	}, nil
}

// Complete はコールバックを検証し、IdPのユーザーをローカルユーザーに解決する。
// 失敗した場合は理由によらずFEDERATION_FAILEDを返し、ユーザーは作成されない。
func (l *FederatedLogin) Complete(ctx context.Context, params CallbackParams) (*model.User, error) {
	if l.state != FederatedAwaitingCallback {
		return nil, l.fail("complete called in state " + l.state.String())
	}
	if params.Error != "" {
		return nil, l.fail("provider returned error: " + params.Error)
	}
	if subtle.ConstantTimeCompare([]byte(params.State), []byte(l.pending.State)) != 1 {
		return nil, l.fail("state mismatch")
	}
	if params.Code == "" {
		return nil, l.fail("missing authorization code")
	}

	info, err := l.broker.provider.Exchange(ctx, params.Code, l.pending.Verifier)
	if err != nil {
		return nil, l.fail(err.Error())
	}
	if info == nil || info.SubjectID == "" || info.Email == "" {
		return nil, l.fail("provider assertion lacks subject or email")
	}

	user, err := l.broker.resolveUser(ctx, info)
	if err != nil {
		return nil, l.fail(err.Error())
	}

	l.state = FederatedCompleted
	slog.Info("federated login completed",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user, nil
}

func (l *FederatedLogin) fail(reason string) error {
	l.state = FederatedFailed
	slog.Warn("federated login failed", slog.String("reason", reason))
	return model.NewFederationFailedError()
}

// resolveUser はsubject ID → メールアドレス（紐付け） → 新規作成の順にユーザーを解決する。
func (b *FederatedBroker) resolveUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	user, err := b.users.FindByFederatedID(ctx, info.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by federated id: %w", err)
	}
	if user != nil {
		return user, nil
	}

	email := model.NormalizeEmail(info.Email)

	// 同じメールアドレスの作成競合に負けた場合は紐付けとして1回だけやり直す
	for attempt := 0; attempt < 2; attempt++ {
		user, err := b.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
		if user != nil {
			if user.HasFederatedID() && user.FederatedID != info.SubjectID {
				return nil, fmt.Errorf("email is linked to another federated identity: user_id=%s", user.ID)
			}
			if err := b.users.AttachFederatedID(ctx, user.ID, info.SubjectID); err != nil {
				return nil, fmt.Errorf("failed to attach federated id: %w", err)
			}
			user.FederatedID = info.SubjectID
			slog.Info("federated identity linked to existing user", slog.String("user_id", user.ID))
			return user, nil
		}

		now := b.now()
		newUser := &model.User{
			ID:          uuid.New().String(),
			Username:    federatedUsername(info),
			Email:       email,
			FederatedID: info.SubjectID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err = b.users.Create(ctx, newUser)
		if err == nil {
			slog.Info("new federated user created", slog.String("user_id", newUser.ID))
			return newUser, nil
		}
		if errors.Is(err, repository.ErrFederatedIDTaken) {
			// 同じsubjectの初回ログインが先に完了している
			winner, findErr := b.users.FindByFederatedID(ctx, info.SubjectID)
			if findErr != nil {
				return nil, fmt.Errorf("failed to find user by federated id: %w", findErr)
			}
			if winner != nil {
				return winner, nil
			}
			return nil, fmt.Errorf("failed to create federated user: %w", err)
		}
		if !model.HasCode(err, model.ErrCodeDuplicateEmail) {
			return nil, fmt.Errorf("failed to create federated user: %w", err)
		}
	}

	return nil, fmt.Errorf("could not resolve federated user")
}

// federatedUsername はIdPの表示名、なければメールアドレスのローカル部をユーザー名にする。
func federatedUsername(info *OAuthUserInfo) string {
	if name := strings.TrimSpace(info.Name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(info.Email, "@")
	return local
}
