package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/catfacts/internal/model"
	"github.com/hitoshi/catfacts/internal/repository"
)

const (
	sessionTokenBytes = 32
	stateTokenBytes   = 32
)

// SessionManager はセッションの発行・解決・破棄を行う。
type SessionManager struct {
	sessions repository.SessionRepository
	users    repository.UserRepository
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionManager はSessionManagerを生成する。
func NewSessionManager(sessions repository.SessionRepository, users repository.UserRepository, ttl time.Duration) *SessionManager {
	return &SessionManager{
		sessions: sessions,
		users:    users,
		ttl:      ttl,
		now:      time.Now,
	}
}

// TTL はセッションの有効期間を返す。
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Establish はユーザーの新しいセッションを発行する。
func (m *SessionManager) Establish(ctx context.Context, user *model.User) (*model.Session, error) {
	if user == nil || user.ID == "" {
		return nil, fmt.Errorf("user is required to establish a session")
	}

	token, err := generateToken(sessionTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := m.now()
	session := &model.Session{
		ID:        token,
		UserID:    user.ID,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}

	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// Resolve はトークンに対応するユーザーを返す。
// トークンが空・不明・期限切れ、またはユーザーが存在しない場合はnilを返す。
func (m *SessionManager) Resolve(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, nil
	}

	session, err := m.sessions.FindByID(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.Expired(m.now()) {
		return nil, nil
	}

	user, err := m.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// Revoke はセッションを破棄する。存在しないトークンでもエラーにしない。
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.sessions.DeleteByID(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// RequireAuthenticated は有効なセッションのユーザーを返す。
// 解決できない場合はストアの障害も含めてUNAUTHORIZEDを返す。
func (m *SessionManager) RequireAuthenticated(ctx context.Context, token string) (*model.User, error) {
	user, err := m.Resolve(ctx, token)
	if err != nil {
		slog.Error("session resolution failed", slog.String("error", err.Error()))
		return nil, model.NewUnauthorizedError()
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

// generateToken は暗号的に安全なランダム値をhex文字列で返す。
func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
