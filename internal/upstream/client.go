// Package upstream は外部のファクトAPIとモックAPIを呼び出すHTTPクライアントを提供する。
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/catfacts/internal/model"
)

const (
	// DefaultFactURL はファクトAPIの既定エンドポイント。
	DefaultFactURL = "https://catfact.ninja/fact"
	// DefaultMockURL はモックAPIの既定エンドポイント。
	DefaultMockURL = "https://httpbin.org/anything"

	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 1 << 20
	// bodyExcerptBytes はエラーに含めるレスポンスボディの最大長。
	bodyExcerptBytes = 256
	userAgent        = "catfacts/1.0"
)

// ErrBodyTooLarge はレスポンスボディが上限を超えた場合のエラー。
var ErrBodyTooLarge = errors.New("upstream response body too large")

// StatusError は上流が2xx以外のステータスを返した場合のエラー。
type StatusError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// Config は上流クライアントの設定。
type Config struct {
	FactURL      string
	MockURL      string
	Timeout      time.Duration // 1回の呼び出しごとのタイムアウト
	MaxBodyBytes int64
}

// Client はファクトAPIとモックAPIのクライアント。
type Client struct {
	httpClient   *http.Client
	logger       *slog.Logger
	factURL      string
	mockURL      string
	timeout      time.Duration
	maxBodyBytes int64
}

// NewClient はClientを生成する。未設定の項目には既定値を使う。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg Config) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FactURL == "" {
		cfg.FactURL = DefaultFactURL
	}
	if cfg.MockURL == "" {
		cfg.MockURL = DefaultMockURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Client{
		httpClient:   httpClient,
		logger:       logger,
		factURL:      cfg.FactURL,
		mockURL:      strings.TrimRight(cfg.MockURL, "/"),
		timeout:      cfg.Timeout,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

// factResponse はファクトAPIのレスポンス。
type factResponse struct {
	Fact *string `json:"fact"`
}

// GetFact はファクトを1件取得する。factフィールドが無い場合はmodel.NoFactFoundを返す。
func (c *Client) GetFact(ctx context.Context) (string, error) {
	body, _, err := c.do(ctx, http.MethodGet, c.factURL, nil)
	if err != nil {
		return "", err
	}

	var resp factResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse fact response: %w", err)
	}
	if resp.Fact == nil {
		return model.NoFactFound, nil
	}
	return *resp.Fact, nil
}

// CreateMock はペイロードをモックAPIへPOSTし、エコーを返す。
func (c *Client) CreateMock(ctx context.Context, payload model.MockPayload) (*model.MockResult, error) {
	return c.sendMock(ctx, http.MethodPost, c.mockURL, payload)
}

// UpdateMock は指定IDのリソースへペイロードをPUTし、エコーを返す。
func (c *Client) UpdateMock(ctx context.Context, id string, payload model.MockPayload) (*model.MockResult, error) {
	return c.sendMock(ctx, http.MethodPut, c.resourceURL(id), payload)
}

// DeleteMock は指定IDのリソースを削除し、上流のステータスコードを返す。
func (c *Client) DeleteMock(ctx context.Context, id string) (*model.MockResult, error) {
	_, status, err := c.do(ctx, http.MethodDelete, c.resourceURL(id), nil)
	if err != nil {
		return nil, err
	}
	return &model.MockResult{Status: status}, nil
}

func (c *Client) sendMock(ctx context.Context, method, target string, payload model.MockPayload) (*model.MockResult, error) {
	body, status, err := c.do(ctx, method, target, payload)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("upstream returned non-JSON body for %s", method)
	}
	return &model.MockResult{Body: json.RawMessage(body), Status: status}, nil
}

// resourceURL はリソースIDをパスエスケープしてURLを組み立てる。
func (c *Client) resourceURL(id string) string {
	return c.mockURL + "/" + url.PathEscape(id)
}

// do はリクエストを送信し、2xxの場合にボディとステータスを返す。
func (c *Client) do(ctx context.Context, method, target string, payload []byte) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("upstream request failed",
			slog.String("method", method),
			slog.String("url", target),
			slog.String("error", err.Error()),
		)
		return nil, 0, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read upstream response: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, resp.StatusCode, ErrBodyTooLarge
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("upstream returned error status",
			slog.String("method", method),
			slog.String("url", target),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Body: excerpt(body)}
	}

	return body, resp.StatusCode, nil
}

// excerpt はエラー表示用にボディを短く切り詰める。
func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= bodyExcerptBytes {
		return s
	}
	cut := bodyExcerptBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
