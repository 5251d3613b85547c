package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/catfacts/internal/model"
)

// ErrorResponseBody は全エンドポイント共通のエラーJSON。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

func WriteErrorResponse(w http.ResponseWriter, status int, apiErr *model.APIError) {
	body := ErrorResponseBody(*apiErr)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteInternalServerError は原因を含まない500を返す。原因は呼び出し側でログに残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
