package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hitoshi/catfacts/internal/config"
	"github.com/hitoshi/catfacts/internal/database"
	"github.com/hitoshi/catfacts/internal/handler"
	"github.com/hitoshi/catfacts/internal/repository"
	"github.com/redis/go-redis/v9"
)

// storage は設定に応じて選択したユーザーとセッションの保存先をまとめる。
type storage struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	checkers map[string]handler.HealthChecker

	db    *sql.DB
	redis *redis.Client
}

// openStorage はSTORAGE_DRIVERとSESSION_STOREに従ってリポジトリを構築する。
func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	s := &storage{checkers: make(map[string]handler.HealthChecker)}

	if cfg.UsesPostgres() {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.checkers["database"] = db
		slog.Info("database connection established")
	}

	switch cfg.StorageDriver {
	case config.DriverPostgres:
		s.users = repository.NewPostgresUserRepo(s.db)
	default:
		s.users = repository.NewMemoryUserRepo()
	}

	switch cfg.SessionStore {
	case config.DriverPostgres:
		s.sessions = repository.NewPostgresSessionRepo(s.db)
	case config.DriverRedis:
		client, err := repository.NewRedisClient(ctx, repository.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redis = client
		repo := repository.NewRedisSessionRepo(client, "")
		s.sessions = repo
		s.checkers["redis"] = repo
		slog.Info("redis connection established")
	default:
		s.sessions = repository.NewMemorySessionRepo()
	}

	slog.Info("storage configured",
		slog.String("storage_driver", cfg.StorageDriver),
		slog.String("session_store", cfg.SessionStore),
	)
	return s, nil
}

// Close は開いている接続をすべて閉じる。
func (s *storage) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			slog.Warn("failed to close redis", slog.String("error", err.Error()))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}
}
