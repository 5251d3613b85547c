// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/catfacts/internal/model"
)

// ErrFederatedIDTaken はsubject IDが既に別のユーザー作成で使われた場合にCreateが返す。
var ErrFederatedIDTaken = errors.New("federated id already linked")

// UserRepository はユーザーデータ（Identity Store）の永続化インターフェース。
// メールアドレスは実装側で正規化してから保存・検索する。
type UserRepository interface {
	// Create はユーザーを作成する。
	// 同じメールアドレスのユーザーが存在する場合はmodel.ErrCodeDuplicateEmailのAPIErrorを返す。
	// 同時に同じメールアドレスで作成された場合も成功するのは1件のみ。
	// subject IDが既に使われている場合はErrFederatedIDTakenを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByFederatedID は外部IdPのsubject IDでユーザーを取得する。見つからない場合はnilを返す。
	FindByFederatedID(ctx context.Context, federatedID string) (*model.User, error)

	// AttachFederatedID は既存ユーザーに外部IdPのsubject IDを紐付ける。
	// 既に同じIDが紐付いている場合は何もしない。
	// 別のIDが紐付いている場合、またはユーザーが存在しない場合はエラーを返す。
	AttachFederatedID(ctx context.Context, userID, federatedID string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired はnow時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Pinger はストレージ接続のヘルスチェック用インターフェース。
type Pinger interface {
	PingContext(ctx context.Context) error
}
