package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/catfacts/internal/model"
	"github.com/hitoshi/catfacts/internal/repository"
)

func newTestSessionManager(t *testing.T) (*SessionManager, *repository.MemoryUserRepo, *model.User) {
	t.Helper()
	users := repository.NewMemoryUserRepo()
	user := &model.User{ID: "user-1", Username: "alice", Email: "alice@example.com"}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return NewSessionManager(repository.NewMemorySessionRepo(), users, time.Hour), users, user
}

func TestSessionManager_EstablishAndResolve(t *testing.T) {
	ctx := context.Background()
	mgr, _, user := newTestSessionManager(t)

	session, err := mgr.Establish(ctx, user)
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	if len(session.ID) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(session.ID))
	}
	if got := session.ExpiresAt.Sub(session.CreatedAt); got != time.Hour {
		t.Errorf("TTL = %v, want %v", got, time.Hour)
	}

	resolved, err := mgr.Resolve(ctx, session.ID)
	if err != nil || resolved == nil {
		t.Fatalf("Resolve() = %v, %v", resolved, err)
	}
	if resolved.ID != user.ID {
		t.Errorf("Resolve().ID = %q, want %q", resolved.ID, user.ID)
	}

	other, _ := mgr.Establish(ctx, user)
	if other.ID == session.ID {
		t.Error("tokens should be unique")
	}
}

func TestSessionManager_Establish_RequiresUser(t *testing.T) {
	mgr, _, _ := newTestSessionManager(t)
	if _, err := mgr.Establish(context.Background(), nil); err == nil {
		t.Error("expected error for nil user")
	}
}

func TestSessionManager_Resolve_ReturnsNil(t *testing.T) {
	ctx := context.Background()
	mgr, _, user := newTestSessionManager(t)

	t.Run("empty token", func(t *testing.T) {
		if u, err := mgr.Resolve(ctx, ""); u != nil || err != nil {
			t.Errorf("Resolve() = %v, %v, want nil, nil", u, err)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		if u, err := mgr.Resolve(ctx, "unknown"); u != nil || err != nil {
			t.Errorf("Resolve() = %v, %v, want nil, nil", u, err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		session, _ := mgr.Establish(ctx, user)
		mgr.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { mgr.now = time.Now }()

		if u, err := mgr.Resolve(ctx, session.ID); u != nil || err != nil {
			t.Errorf("Resolve() = %v, %v, want nil, nil", u, err)
		}
	})

	t.Run("dangling user", func(t *testing.T) {
		session, _ := mgr.Establish(ctx, &model.User{ID: "ghost"})
		if u, err := mgr.Resolve(ctx, session.ID); u != nil || err != nil {
			t.Errorf("Resolve() = %v, %v, want nil, nil", u, err)
		}
	})
}

func TestSessionManager_Revoke_Idempotent(t *testing.T) {
	ctx := context.Background()
	mgr, _, user := newTestSessionManager(t)

	session, _ := mgr.Establish(ctx, user)
	if err := mgr.Revoke(ctx, session.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if err := mgr.Revoke(ctx, session.ID); err != nil {
		t.Fatalf("second Revoke() error = %v", err)
	}
	if err := mgr.Revoke(ctx, ""); err != nil {
		t.Fatalf("Revoke(\"\") error = %v", err)
	}

	if u, _ := mgr.Resolve(ctx, session.ID); u != nil {
		t.Error("revoked token should not resolve")
	}
}

func TestSessionManager_RequireAuthenticated(t *testing.T) {
	ctx := context.Background()
	mgr, _, user := newTestSessionManager(t)
	session, _ := mgr.Establish(ctx, user)

	got, err := mgr.RequireAuthenticated(ctx, session.ID)
	if err != nil || got.ID != user.ID {
		t.Fatalf("RequireAuthenticated() = %v, %v", got, err)
	}

	if _, err := mgr.RequireAuthenticated(ctx, "bogus"); !model.HasCode(err, model.ErrCodeUnauthorized) {
		t.Errorf("RequireAuthenticated(bogus) error = %v, want UNAUTHORIZED", err)
	}
	if _, err := mgr.RequireAuthenticated(ctx, ""); !model.HasCode(err, model.ErrCodeUnauthorized) {
		t.Errorf("RequireAuthenticated(\"\") error = %v, want UNAUTHORIZED", err)
	}
}

// ストアの障害時も認証失敗として扱う
func TestSessionManager_RequireAuthenticated_StoreError_FailsClosed(t *testing.T) {
	sessions := &mockSessionRepo{
		findByIDFn: func(context.Context, string) (*model.Session, error) {
			return nil, errors.New("connection refused")
		},
	}
	mgr := NewSessionManager(sessions, repository.NewMemoryUserRepo(), time.Hour)

	_, err := mgr.RequireAuthenticated(context.Background(), "token")
	if !model.HasCode(err, model.ErrCodeUnauthorized) {
		t.Fatalf("error = %v, want UNAUTHORIZED", err)
	}

	if _, err := mgr.Resolve(context.Background(), "token"); err == nil {
		t.Error("Resolve() should report the store error")
	}
}

func TestSessionManager_Establish_StoreError(t *testing.T) {
	sessions := &mockSessionRepo{
		createFn: func(context.Context, *model.Session) error { return errors.New("write failed") },
	}
	mgr := NewSessionManager(sessions, repository.NewMemoryUserRepo(), time.Hour)

	if _, err := mgr.Establish(context.Background(), &model.User{ID: "u"}); err == nil {
		t.Error("expected error when the store fails")
	}
}
