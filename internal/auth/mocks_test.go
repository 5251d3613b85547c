package auth

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hitoshi/catfacts/internal/model"
	"github.com/hitoshi/catfacts/internal/repository"
)

// --- モック定義 ---

type mockSessionRepo struct {
	createFn        func(ctx context.Context, session *model.Session) error
	findByIDFn      func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn    func(ctx context.Context, id string) error
	deleteExpiredFn func(ctx context.Context, now time.Time) (int64, error)
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx, now)
	}
	return 0, nil
}

type mockOAuthProvider struct {
	authCodeURLFn func(state, verifier string) string
	exchangeFn    func(ctx context.Context, code, verifier string) (*OAuthUserInfo, error)
	exchangeCalls atomic.Int32
}

func (m *mockOAuthProvider) AuthCodeURL(state, verifier string) string {
	if m.authCodeURLFn != nil {
		return m.authCodeURLFn(state, verifier)
	}
	return "https://idp.example.com/auth?state=" + state
}

func (m *mockOAuthProvider) Exchange(ctx context.Context, code, verifier string) (*OAuthUserInfo, error) {
	m.exchangeCalls.Add(1)
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code, verifier)
	}
	return nil, nil
}

// --- compile-time interface checks ---
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)
