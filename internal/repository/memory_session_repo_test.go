package repository

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/catfacts/internal/model"
)

func TestMemorySessionRepo_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepo()

	session := &model.Session{
		ID:        "token-1",
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.FindByID(ctx, "token-1")
	if err != nil || got == nil {
		t.Fatalf("FindByID() = %v, %v", got, err)
	}
	if got.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", got.UserID, "user-1")
	}

	if err := repo.DeleteByID(ctx, "token-1"); err != nil {
		t.Fatalf("DeleteByID() error = %v", err)
	}
	// 削除済みIDの再削除もエラーにならない
	if err := repo.DeleteByID(ctx, "token-1"); err != nil {
		t.Fatalf("second DeleteByID() error = %v", err)
	}
	if got, _ := repo.FindByID(ctx, "token-1"); got != nil {
		t.Error("session should be gone after delete")
	}
}

func TestMemorySessionRepo_ExpiredSession_NotReturned(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepo()

	now := time.Now()
	repo.now = func() time.Time { return now }

	_ = repo.Create(ctx, &model.Session{ID: "t", UserID: "u", ExpiresAt: now.Add(time.Minute)})
	if got, _ := repo.FindByID(ctx, "t"); got == nil {
		t.Fatal("session should be valid before expiry")
	}

	repo.now = func() time.Time { return now.Add(2 * time.Minute) }
	if got, _ := repo.FindByID(ctx, "t"); got != nil {
		t.Error("session should not be returned after expiry")
	}
}

func TestMemorySessionRepo_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepo()
	now := time.Now()

	_ = repo.Create(ctx, &model.Session{ID: "old", UserID: "u", ExpiresAt: now.Add(-time.Minute)})
	_ = repo.Create(ctx, &model.Session{ID: "live", UserID: "u", ExpiresAt: now.Add(time.Hour)})

	n, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if repo.Len() != 1 {
		t.Errorf("Len() = %d, want 1", repo.Len())
	}
}
