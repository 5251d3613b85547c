// Package auth はローカル認証、Googleログイン、セッション管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/catfacts/internal/model"
	"github.com/hitoshi/catfacts/internal/repository"
	"github.com/hitoshi/catfacts/internal/security"
)

const (
	// MinPasswordBytes はパスワードの最小バイト長。
	MinPasswordBytes = 8
	// MaxUsernameLength はユーザー名の最大文字数。
	MaxUsernameLength = 255
)

// dummySecret は未登録メールアドレスでのログイン時に照合するダミーのパスワード。
const dummySecret = "catfacts-timing-equalizer"

// Authenticator はメールアドレスとパスワードによる登録・ログインを提供する。
type Authenticator struct {
	users       repository.UserRepository
	hasher      security.PasswordHasher
	dummyDigest string
	now         func() time.Time
}

// NewAuthenticator はAuthenticatorを生成する。
func NewAuthenticator(users repository.UserRepository, hasher security.PasswordHasher) *Authenticator {
	digest, err := hasher.Hash(dummySecret)
	if err != nil {
		slog.Warn("failed to prepare dummy digest", slog.String("error", err.Error()))
	}
	return &Authenticator{
		users:       users,
		hasher:      hasher,
		dummyDigest: digest,
		now:         time.Now,
	}
}

// Register はローカルユーザーを登録する。
// 入力が不正な場合はINVALID_INPUT、メールアドレスが既に存在する場合はDUPLICATE_EMAILを返す。
func (a *Authenticator) Register(ctx context.Context, username, email, secret string) (*model.User, error) {
	username = strings.TrimSpace(username)
	email = model.NormalizeEmail(email)

	if err := validateRegistration(username, email, secret); err != nil {
		return nil, err
	}

	digest, err := a.hasher.Hash(secret)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooLong) {
			return nil, model.NewInvalidInputError("パスワードが長すぎます")
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := a.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: digest,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := a.users.Create(ctx, user); err != nil {
		if model.HasCode(err, model.ErrCodeDuplicateEmail) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	return user, nil
}

// Login はメールアドレスとパスワードでユーザーを認証する。
// 未登録・パスワード未設定・不一致のいずれも同一のINVALID_CREDENTIALSを返す。
func (a *Authenticator) Login(ctx context.Context, email, secret string) (*model.User, error) {
	user, err := a.users.FindByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil || !user.HasPassword() {
		// 応答時間からアカウントの有無を推測されないよう照合処理を行う
		a.hasher.Verify(secret, a.dummyDigest)
		return nil, model.NewInvalidCredentialsError()
	}

	if !a.hasher.Verify(secret, user.PasswordHash) {
		return nil, model.NewInvalidCredentialsError()
	}

	return user, nil
}

// validateRegistration は登録入力を検証する。
func validateRegistration(username, email, secret string) error {
	if username == "" {
		return model.NewInvalidInputError("ユーザー名は必須です")
	}
	if len([]rune(username)) > MaxUsernameLength {
		return model.NewInvalidInputError("ユーザー名が長すぎます")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return model.NewInvalidInputError("メールアドレスの形式が不正です")
	}

	if len(secret) < MinPasswordBytes {
		return model.NewInvalidInputError(fmt.Sprintf("パスワードは%dバイト以上にしてください", MinPasswordBytes))
	}
	if len(secret) > security.MaxPasswordBytes {
		return model.NewInvalidInputError("パスワードが長すぎます")
	}
	return nil
}
