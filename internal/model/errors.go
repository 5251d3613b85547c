// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError はクライアントへ返すエラー。Actionは利用者が次に取るべき操作。
type APIError struct {
	Code     string
	Message  string
	Category string
	Action   string
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// エラーカテゴリ
const (
	CategoryAuth       = "auth"
	CategoryValidation = "validation"
	CategoryUpstream   = "upstream"
	CategorySystem     = "system"
)

const retryLater = "しばらく待ってから再度お試しください。"

func newAPIError(code, category, message, action string) *APIError {
	return &APIError{Code: code, Message: message, Category: category, Action: action}
}

// 定義済みエラーコード
const (
	ErrCodeDuplicateEmail     = "DUPLICATE_EMAIL"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeFederationFailed   = "FEDERATION_FAILED"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeUpstreamError      = "UPSTREAM_ERROR"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFFailed         = "CSRF_VALIDATION_FAILED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// HasCode はエラーチェーン内に指定コードのAPIErrorが含まれるかを判定する。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

func NewDuplicateEmailError() *APIError {
	return newAPIError(ErrCodeDuplicateEmail, CategoryAuth,
		"このメールアドレスは既に登録されています。",
		"ログイン画面からログインしてください。",
	)
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// 未登録・パスワード不一致・パスワード未設定のいずれでも同じ内容を返す。
func NewInvalidCredentialsError() *APIError {
	return newAPIError(ErrCodeInvalidCredentials, CategoryAuth,
		"メールアドレスまたはパスワードが正しくありません。",
		"入力内容を確認して再度お試しください。",
	)
}

// NewFederationFailedError は外部IdPログイン失敗エラーを生成する。
func NewFederationFailedError() *APIError {
	return newAPIError(ErrCodeFederationFailed, CategoryAuth,
		"Googleログインに失敗しました。",
		"最初からログインをやり直してください。",
	)
}

func NewUnauthorizedError() *APIError {
	return newAPIError(ErrCodeUnauthorized, CategoryAuth,
		"認証が必要です。",
		"ログインしてください。",
	)
}

func NewInvalidInputError(reason string) *APIError {
	return newAPIError(ErrCodeInvalidInput, CategoryValidation,
		fmt.Sprintf("入力値が不正です: %s", reason),
		"入力内容を確認してください。",
	)
}

// NewUpstreamError は外部API呼び出し失敗エラーを生成する。
// reasonには上流のステータスまたは通信エラーの内容を含める。
func NewUpstreamError(reason string) *APIError {
	return newAPIError(ErrCodeUpstreamError, CategoryUpstream,
		fmt.Sprintf("外部APIの呼び出しに失敗しました: %s", reason),
		retryLater,
	)
}

func NewRateLimitedError() *APIError {
	return newAPIError(ErrCodeRateLimited, CategorySystem,
		"リクエストが多すぎます。",
		"Retry-Afterヘッダーの秒数待ってから再度お試しください。",
	)
}

// NewCSRFError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFError() *APIError {
	return newAPIError(ErrCodeCSRFFailed, CategoryAuth,
		"CSRFトークンの検証に失敗しました。",
		"GET /api/csrf-token でトークンを取得し、X-CSRF-Tokenヘッダーに設定してください。",
	)
}

// NewInternalError は原因を含めない。原因はログにのみ残す。
func NewInternalError() *APIError {
	return newAPIError(ErrCodeInternal, CategorySystem,
		"内部エラーが発生しました。",
		retryLater,
	)
}
