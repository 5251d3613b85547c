package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/catfacts/internal/middleware"
	"github.com/hitoshi/catfacts/internal/model"
)

// withSession はセッションミドルウェア通過後のリクエストを模擬する。
func withSession(req *http.Request, token string) *http.Request {
	ctx := middleware.ContextWithUserID(req.Context(), "u1")
	ctx = middleware.ContextWithSessionToken(ctx, token)
	return req.WithContext(ctx)
}

// withURLParam はchiのURLパラメータを設定する。
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestFactHandler_FetchOne(t *testing.T) {
	svc := &mockFactService{
		fetchOneFn: func(ctx context.Context, token string) (string, error) {
			if token != "tok" {
				t.Errorf("token = %q, want tok", token)
			}
			return "Cats sleep 16 hours a day.", nil
		},
	}
	h := NewFactHandler(svc)

	w := httptest.NewRecorder()
	h.FetchOne(w, withSession(httptest.NewRequest(http.MethodGet, "/api/facts/one", nil), "tok"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body factResponse
	_ = json.NewDecoder(w.Body).Decode(&body)
	if body.Fact != "Cats sleep 16 hours a day." {
		t.Errorf("fact = %q", body.Fact)
	}
}

func TestFactHandler_FetchOne_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"unauthorized", model.NewUnauthorizedError(), http.StatusUnauthorized},
		{"upstream", model.NewUpstreamError("status 503"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockFactService{
				fetchOneFn: func(ctx context.Context, token string) (string, error) { return "", tt.err },
			}
			w := httptest.NewRecorder()
			NewFactHandler(svc).FetchOne(w, httptest.NewRequest(http.MethodGet, "/api/facts/one", nil))
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestFactHandler_FetchMany(t *testing.T) {
	svc := &mockFactService{
		fetchManyFn: func(ctx context.Context, token string, count int) ([]string, error) {
			if count != 3 {
				t.Errorf("count = %d, want 3", count)
			}
			return []string{"a", "b", "c"}, nil
		},
	}

	w := httptest.NewRecorder()
	NewFactHandler(svc).FetchMany(w, withSession(httptest.NewRequest(http.MethodGet, "/api/facts?count=3", nil), "tok"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body factsResponse
	_ = json.NewDecoder(w.Body).Decode(&body)
	if strings.Join(body.Facts, ",") != "a,b,c" {
		t.Errorf("facts = %v", body.Facts)
	}
}

func TestFactHandler_FetchMany_NonNumericCount_NoServiceCall(t *testing.T) {
	for _, raw := range []string{"abc", "1.5", "%20x"} {
		svc := &mockFactService{}
		w := httptest.NewRecorder()
		NewFactHandler(svc).FetchMany(w, httptest.NewRequest(http.MethodGet, "/api/facts?count="+raw, nil))

		if w.Code != http.StatusBadRequest {
			t.Errorf("count=%q: status = %d, want 400", raw, w.Code)
		}
		if decodeError(t, w).Code != model.ErrCodeInvalidInput {
			t.Errorf("count=%q: expected INVALID_INPUT", raw)
		}
		if svc.calls.Load() != 0 {
			t.Errorf("count=%q: service should not be called", raw)
		}
	}
}

func TestFactHandler_CreateMock_ForwardsRawBody(t *testing.T) {
	svc := &mockFactService{
		createMockFn: func(ctx context.Context, token string, payload model.MockPayload) (*model.MockResult, error) {
			if string(payload) != `{"text":"meow"}` {
				t.Errorf("payload = %s", payload)
			}
			return &model.MockResult{Body: json.RawMessage(`{"json":{"text":"meow"}}`), Status: 200}, nil
		},
	}

	w := httptest.NewRecorder()
	NewFactHandler(svc).CreateMock(w, withSession(jsonRequest(http.MethodPost, "/api/mocks", `{"text":"meow"}`), "tok"))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"json":{"text":"meow"}}` {
		t.Errorf("body = %s", got)
	}
}

func TestFactHandler_CreateMock_BodyTooLarge(t *testing.T) {
	svc := &mockFactService{}
	big := `{"text":"` + strings.Repeat("x", maxRequestBodyBytes) + `"}`

	w := httptest.NewRecorder()
	NewFactHandler(svc).CreateMock(w, jsonRequest(http.MethodPost, "/api/mocks", big))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if svc.calls.Load() != 0 {
		t.Error("service should not be called for an oversized body")
	}
}

func TestFactHandler_UpdateMock_PassesID(t *testing.T) {
	svc := &mockFactService{
		updateMockFn: func(ctx context.Context, token, id string, payload model.MockPayload) (*model.MockResult, error) {
			if id != "42" {
				t.Errorf("id = %q, want 42", id)
			}
			return &model.MockResult{Body: json.RawMessage(`not json`), Status: 200}, nil
		},
	}

	req := withURLParam(jsonRequest(http.MethodPut, "/api/mocks/42", `{"text":"purr"}`), "id", "42")
	w := httptest.NewRecorder()
	NewFactHandler(svc).UpdateMock(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "null" {
		t.Errorf("non-JSON echo should be rendered as null, got %s", got)
	}
}

func TestFactHandler_DeleteMock_ReturnsStatus(t *testing.T) {
	svc := &mockFactService{
		deleteMockFn: func(ctx context.Context, token, id string) (*model.MockResult, error) {
			return &model.MockResult{Status: 204}, nil
		},
	}

	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/api/mocks/7", nil), "id", "7")
	w := httptest.NewRecorder()
	NewFactHandler(svc).DeleteMock(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]int
	_ = json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != 204 {
		t.Errorf("body = %v, want status 204", body)
	}
}

func TestFactHandler_FetchMany_MissingCount_DefaultsToOne(t *testing.T) {
	var gotCount int
	svc := &mockFactService{fetchManyFn: func(_ context.Context, _ string, count int) ([]string, error) {
		gotCount = count
		return []string{"only"}, nil
	}}
	w := httptest.NewRecorder()
	NewFactHandler(svc).FetchMany(w, httptest.NewRequest(http.MethodGet, "/api/facts", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotCount != 1 {
		t.Errorf("count = %d, want 1", gotCount)
	}
}
