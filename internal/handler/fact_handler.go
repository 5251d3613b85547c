package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/catfacts/internal/fact"
	"github.com/hitoshi/catfacts/internal/middleware"
	"github.com/hitoshi/catfacts/internal/model"
)

// FactService はファクト取得とモックAPI転送のインターフェース。
// 各操作はセッショントークンで認可を行う。
type FactService interface {
	FetchOne(ctx context.Context, token string) (string, error)
	FetchMany(ctx context.Context, token string, count int) ([]string, error)
	CreateMock(ctx context.Context, token string, payload model.MockPayload) (*model.MockResult, error)
	UpdateMock(ctx context.Context, token, id string, payload model.MockPayload) (*model.MockResult, error)
	DeleteMock(ctx context.Context, token, id string) (*model.MockResult, error)
}

// FactHandler はファクト関連のHTTPハンドラー。
type FactHandler struct {
	service FactService
}

// NewFactHandler はFactHandlerを生成する。
func NewFactHandler(service FactService) *FactHandler {
	return &FactHandler{service: service}
}

type factResponse struct {
	Fact string `json:"fact"`
}

type factsResponse struct {
	Facts []string `json:"facts"`
}

type deleteMockResponse struct {
	Status int `json:"status"`
}

// FetchOne はファクトを1件返す。
// GET /api/facts/one
func (h *FactHandler) FetchOne(w http.ResponseWriter, r *http.Request) {
	text, err := h.service.FetchOne(r.Context(), sessionToken(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, factResponse{Fact: text})
}

// FetchMany は指定件数のファクトを返す。
// GET /api/facts?count=N
func (h *FactHandler) FetchMany(w http.ResponseWriter, r *http.Request) {
	count, err := fact.ParseCount(r.URL.Query().Get("count"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	facts, err := h.service.FetchMany(r.Context(), sessionToken(r), count)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, factsResponse{Facts: facts})
}

// CreateMock はリクエストボディをモックAPIへ作成として転送する。
// POST /api/mocks
func (h *FactHandler) CreateMock(w http.ResponseWriter, r *http.Request) {
	payload, err := readBody(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.service.CreateMock(r.Context(), sessionToken(r), payload)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeRawJSON(w, http.StatusCreated, result.Body)
}

// UpdateMock はリクエストボディをモックAPIへ更新として転送する。
// PUT /api/mocks/{id}
func (h *FactHandler) UpdateMock(w http.ResponseWriter, r *http.Request) {
	payload, err := readBody(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.service.UpdateMock(r.Context(), sessionToken(r), chi.URLParam(r, "id"), payload)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, result.Body)
}

// DeleteMock はモックAPIへ削除を転送し、上流のステータスを返す。
// DELETE /api/mocks/{id}
func (h *FactHandler) DeleteMock(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.DeleteMock(r.Context(), sessionToken(r), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteMockResponse{Status: result.Status})
}

// sessionToken はセッションミドルウェアが注入したトークン、なければリクエストのトークンを返す。
func sessionToken(r *http.Request) string {
	if token := middleware.SessionTokenFromContext(r.Context()); token != "" {
		return token
	}
	return middleware.SessionTokenFromRequest(r)
}

// writeRawJSON は上流のエコーをそのまま返す。JSONとして不正な場合はnullを返す。
func writeRawJSON(w http.ResponseWriter, statusCode int, body json.RawMessage) {
	if !json.Valid(body) {
		body = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}
