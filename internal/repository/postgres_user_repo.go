package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/catfacts/internal/model"
	"github.com/lib/pq"
)

const (
	// pqUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
	pqUniqueViolation = "23505"
	// usersEmailIndex はusers.emailの一意インデックス名。migrationsと一致させる。
	usersEmailIndex = "users_email_key"
	// usersFederatedIDIndex はusers.federated_idの一意制約名。
	usersFederatedIDIndex = "users_federated_id_key"
)

const selectUserColumns = `SELECT id, username, email, password_hash, federated_id, created_at, updated_at FROM users`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// Create はユーザーを作成する。
// 一意制約によりメールアドレスの重複作成はDB側でアトミックに拒否される。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	user.Email = model.NormalizeEmail(user.Email)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, federated_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Username, user.Email,
		nullString(user.PasswordHash), nullString(user.FederatedID),
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return insertUserError(err)
	}

	return nil
}

// insertUserError は一意制約違反を制約ごとのエラーに変換する。
func insertUserError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		switch pqErr.Constraint {
		case usersEmailIndex:
			return model.NewDuplicateEmailError()
		case usersFederatedIDIndex:
			return ErrFederatedIDTaken
		}
	}
	return fmt.Errorf("failed to insert user: %w", err)
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, selectUserColumns+` WHERE id = $1`, id)
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, selectUserColumns+` WHERE email = $1`, model.NormalizeEmail(email))
}

// FindByFederatedID は外部IdPのsubject IDでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByFederatedID(ctx context.Context, federatedID string) (*model.User, error) {
	return r.findOne(ctx, selectUserColumns+` WHERE federated_id = $1`, federatedID)
}

// AttachFederatedID は既存ユーザーに外部IdPのsubject IDを紐付ける。
// federated_idが未設定または同一値の行のみ更新するため冪等に動作する。
func (r *PostgresUserRepo) AttachFederatedID(ctx context.Context, userID, federatedID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET federated_id = $2, updated_at = now()
		 WHERE id = $1 AND (federated_id IS NULL OR federated_id = $2)`,
		userID, federatedID,
	)
	if err != nil {
		return fmt.Errorf("failed to attach federated id: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found or linked to another federated identity: %s", userID)
	}
	return nil
}

// findOne はユーザーを1件取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) findOne(ctx context.Context, query string, arg string) (*model.User, error) {
	var (
		user         model.User
		passwordHash sql.NullString
		federatedID  sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Username, &user.Email, &passwordHash, &federatedID,
		&user.CreatedAt, &user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	user.PasswordHash = passwordHash.String
	user.FederatedID = federatedID.String
	return &user, nil
}

// nullString は空文字をSQLのNULLに変換する。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
