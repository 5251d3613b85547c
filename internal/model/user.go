package model

import (
	"strings"
	"time"
)

// User はサービス利用ユーザーを表す。
// PasswordHashはローカル登録ユーザーのみ、FederatedIDはGoogleログインで
// 作成または紐付けされたユーザーのみ値を持つ。空文字は「なし」を意味する。
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	FederatedID  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword はローカル認証が可能なユーザーかどうかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// HasFederatedID は外部IdPと紐付け済みかどうかを返す。
func (u *User) HasFederatedID() bool {
	return u.FederatedID != ""
}

// NormalizeEmail はメールアドレスを比較・保存用に正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Session はユーザーのログインセッションを表す。
// IDがそのままセッショントークンとしてクライアントに渡される。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired は指定時刻時点でセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
