// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes はbcryptが扱えるパスワードの最大バイト長。
const MaxPasswordBytes = 72

// ErrPasswordTooLong はパスワードがbcryptの上限を超えた場合のエラー。
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// PasswordHasher はパスワードの一方向ハッシュ化と照合のインターフェース。
type PasswordHasher interface {
	// Hash はソルト付きのハッシュ値を生成する。
	Hash(secret string) (string, error)
	// Verify はsecretがdigestと一致するかを返す。
	// 不正な形式のdigestに対してはfalseを返す。
	Verify(secret, digest string) bool
}

// bcryptHasher はbcryptによるPasswordHasherの実装。
type bcryptHasher struct {
	cost int
}

// NewBcryptHasher はbcryptHasherを生成する。
// costがbcryptの許容範囲外の場合は範囲内に丸める。0の場合はbcrypt.DefaultCostを使う。
func NewBcryptHasher(cost int) *bcryptHasher {
	switch {
	case cost == 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &bcryptHasher{cost: cost}
}

// Hash はsecretのbcryptハッシュを生成する。
func (h *bcryptHasher) Hash(secret string) (string, error) {
	if len(secret) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	b, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// Verify はsecretとdigestを照合する。
func (h *bcryptHasher) Verify(secret, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}

// Cost は使用中のbcryptコストを返す。
func (h *bcryptHasher) Cost() int {
	return h.cost
}

// compile-time interface check
var _ PasswordHasher = (*bcryptHasher)(nil)
