package repository

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hitoshi/catfacts/internal/model"
)

func newTestRedisRepo(t *testing.T) (*RedisSessionRepo, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client, err := NewRedisClient(context.Background(), RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisSessionRepo(client, ""), mr
}

func TestRedisSessionRepo_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRedisRepo(t)

	session := &model.Session{
		ID:        "redis-token",
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if !mr.Exists(defaultSessionKeyPrefix + "redis-token") {
		t.Fatal("expected session key to exist in redis")
	}
	if ttl := mr.TTL(defaultSessionKeyPrefix + "redis-token"); ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL = %v, want (0, 1h]", ttl)
	}

	got, err := repo.FindByID(ctx, "redis-token")
	if err != nil || got == nil {
		t.Fatalf("FindByID() = %v, %v", got, err)
	}
	if got.ID != "redis-token" || got.UserID != "user-1" {
		t.Errorf("unexpected session: %+v", got)
	}

	if err := repo.DeleteByID(ctx, "redis-token"); err != nil {
		t.Fatalf("DeleteByID() error = %v", err)
	}
	if got, _ := repo.FindByID(ctx, "redis-token"); got != nil {
		t.Error("session should be gone after delete")
	}
}

func TestRedisSessionRepo_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRedisRepo(t)

	_ = repo.Create(ctx, &model.Session{
		ID:        "short",
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(time.Minute),
		CreatedAt: time.Now(),
	})

	mr.FastForward(2 * time.Minute)

	got, err := repo.FindByID(ctx, "short")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got != nil {
		t.Error("session should expire with the key TTL")
	}
}

func TestRedisSessionRepo_CreateExpired_ReturnsError(t *testing.T) {
	repo, _ := newTestRedisRepo(t)

	err := repo.Create(context.Background(), &model.Session{
		ID:        "past",
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(-time.Second),
	})
	if err == nil {
		t.Fatal("expected error for an already expired session")
	}
}

func TestRedisSessionRepo_UnknownID_ReturnsNil(t *testing.T) {
	repo, _ := newTestRedisRepo(t)

	got, err := repo.FindByID(context.Background(), "unknown")
	if err != nil || got != nil {
		t.Errorf("FindByID() = %v, %v, want nil, nil", got, err)
	}
	if n, err := repo.DeleteExpired(context.Background(), time.Now()); n != 0 || err != nil {
		t.Errorf("DeleteExpired() = %d, %v, want 0, nil", n, err)
	}
}

func TestRedisSessionRepo_Ping(t *testing.T) {
	repo, _ := newTestRedisRepo(t)
	if err := repo.PingContext(context.Background()); err != nil {
		t.Errorf("PingContext() error = %v", err)
	}
}

func TestNewRedisClient_EmptyAddr_ReturnsError(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), RedisConfig{}); err == nil {
		t.Fatal("expected error for empty address")
	}
}
