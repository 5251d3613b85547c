package handler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/catfacts/internal/auth"
	"github.com/hitoshi/catfacts/internal/metrics"
	"github.com/hitoshi/catfacts/internal/model"
)

// --- モック定義 ---

type mockCredentials struct {
	registerFn func(ctx context.Context, username, email, secret string) (*model.User, error)
	loginFn    func(ctx context.Context, email, secret string) (*model.User, error)
}

func (m *mockCredentials) Register(ctx context.Context, username, email, secret string) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, username, email, secret)
	}
	return nil, errors.New("not implemented")
}

func (m *mockCredentials) Login(ctx context.Context, email, secret string) (*model.User, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, secret)
	}
	return nil, model.NewInvalidCredentialsError()
}

type mockSessions struct {
	establishFn func(ctx context.Context, user *model.User) (*model.Session, error)
	resolveFn   func(ctx context.Context, token string) (*model.User, error)
	revokeFn    func(ctx context.Context, token string) error
}

func (m *mockSessions) Establish(ctx context.Context, user *model.User) (*model.Session, error) {
	if m.establishFn != nil {
		return m.establishFn(ctx, user)
	}
	return &model.Session{ID: "session-" + user.ID, UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *mockSessions) Resolve(ctx context.Context, token string) (*model.User, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, token)
	}
	return nil, nil
}

func (m *mockSessions) Revoke(ctx context.Context, token string) error {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, token)
	}
	return nil
}

type mockFactService struct {
	fetchOneFn   func(ctx context.Context, token string) (string, error)
	fetchManyFn  func(ctx context.Context, token string, count int) ([]string, error)
	createMockFn func(ctx context.Context, token string, payload model.MockPayload) (*model.MockResult, error)
	updateMockFn func(ctx context.Context, token, id string, payload model.MockPayload) (*model.MockResult, error)
	deleteMockFn func(ctx context.Context, token, id string) (*model.MockResult, error)
	calls        atomic.Int32
}

func (m *mockFactService) FetchOne(ctx context.Context, token string) (string, error) {
	m.calls.Add(1)
	if m.fetchOneFn != nil {
		return m.fetchOneFn(ctx, token)
	}
	return "", nil
}

func (m *mockFactService) FetchMany(ctx context.Context, token string, count int) ([]string, error) {
	m.calls.Add(1)
	if m.fetchManyFn != nil {
		return m.fetchManyFn(ctx, token, count)
	}
	return nil, nil
}

func (m *mockFactService) CreateMock(ctx context.Context, token string, payload model.MockPayload) (*model.MockResult, error) {
	m.calls.Add(1)
	if m.createMockFn != nil {
		return m.createMockFn(ctx, token, payload)
	}
	return &model.MockResult{}, nil
}

func (m *mockFactService) UpdateMock(ctx context.Context, token, id string, payload model.MockPayload) (*model.MockResult, error) {
	m.calls.Add(1)
	if m.updateMockFn != nil {
		return m.updateMockFn(ctx, token, id, payload)
	}
	return &model.MockResult{}, nil
}

func (m *mockFactService) DeleteMock(ctx context.Context, token, id string) (*model.MockResult, error) {
	m.calls.Add(1)
	if m.deleteMockFn != nil {
		return m.deleteMockFn(ctx, token, id)
	}
	return &model.MockResult{}, nil
}

type mockOAuthProvider struct {
	exchangeFn func(ctx context.Context, code, verifier string) (*auth.OAuthUserInfo, error)
}

func (m *mockOAuthProvider) AuthCodeURL(state, verifier string) string {
	return "https://idp.example.com/auth?state=" + state
}

func (m *mockOAuthProvider) Exchange(ctx context.Context, code, verifier string) (*auth.OAuthUserInfo, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code, verifier)
	}
	return nil, errors.New("exchange failed")
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

type recordingMetrics struct {
	metrics.Nop
	mu     sync.Mutex
	events []string
}

func (m *recordingMetrics) RecordAuthEvent(event, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event+":"+outcome)
}

func (m *recordingMetrics) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// compile-time interface check
var (
	_ CredentialAuthenticator  = (*mockCredentials)(nil)
	_ SessionService           = (*mockSessions)(nil)
	_ FactService              = (*mockFactService)(nil)
	_ auth.OAuthProvider       = (*mockOAuthProvider)(nil)
	_ HealthChecker            = (*mockHealthChecker)(nil)
	_ metrics.MetricsCollector = (*recordingMetrics)(nil)
)
