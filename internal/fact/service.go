// Package fact は認証済みセッションからのみ呼び出せる外部API操作（Fact Proxy）を提供する。
package fact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/catfacts/internal/metrics"
	"github.com/hitoshi/catfacts/internal/model"
	"github.com/hitoshi/catfacts/internal/security"
	"github.com/hitoshi/catfacts/internal/upstream"
)

// DefaultMaxFetchCount はFetchManyで一度に取得できる件数の既定上限。
const DefaultMaxFetchCount = 100

// defaultFetchCount はcount未指定時の件数。
const defaultFetchCount = 1

// 上流呼び出しの操作名（メトリクスラベル）。
const (
	opGetFact    = "get_fact"
	opCreateMock = "create_mock"
	opUpdateMock = "update_mock"
	opDeleteMock = "delete_mock"
)

// Transport は外部APIへの呼び出しを担うインターフェース。
type Transport interface {
	GetFact(ctx context.Context) (string, error)
	CreateMock(ctx context.Context, payload model.MockPayload) (*model.MockResult, error)
	UpdateMock(ctx context.Context, id string, payload model.MockPayload) (*model.MockResult, error)
	DeleteMock(ctx context.Context, id string) (*model.MockResult, error)
}

// Gate はセッショントークンから認証済みユーザーを解決するインターフェース。
type Gate interface {
	RequireAuthenticated(ctx context.Context, token string) (*model.User, error)
}

// Proxy は外部APIへの保護された操作を提供する。
// すべての操作は最初にセッションを検証し、失敗した場合は上流を一切呼び出さない。
type Proxy struct {
	gate          Gate
	transport     Transport
	sanitizer     security.TextSanitizer
	metrics       metrics.MetricsCollector
	maxFetchCount int
}

// NewProxy はProxyを生成する。maxFetchCountが0以下の場合はDefaultMaxFetchCountを使う。
func NewProxy(gate Gate, transport Transport, sanitizer security.TextSanitizer, collector metrics.MetricsCollector, maxFetchCount int) *Proxy {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if maxFetchCount <= 0 {
		maxFetchCount = DefaultMaxFetchCount
	}
	return &Proxy{
		gate:          gate,
		transport:     transport,
		sanitizer:     sanitizer,
		metrics:       collector,
		maxFetchCount: maxFetchCount,
	}
}

// MaxFetchCount はFetchManyの上限件数を返す。
func (p *Proxy) MaxFetchCount() int {
	return p.maxFetchCount
}

// FetchOne はファクトを1件取得する。
func (p *Proxy) FetchOne(ctx context.Context, token string) (string, error) {
	if _, err := p.gate.RequireAuthenticated(ctx, token); err != nil {
		return "", err
	}
	return p.fetch(ctx)
}

// FetchMany はファクトをcount件、順番に取得する。
// 途中で1件でも失敗した場合は取得済みの結果を破棄してUPSTREAM_ERRORを返す。
func (p *Proxy) FetchMany(ctx context.Context, token string, count int) ([]string, error) {
	if _, err := p.gate.RequireAuthenticated(ctx, token); err != nil {
		return nil, err
	}
	if count < 1 || count > p.maxFetchCount {
		return nil, model.NewInvalidInputError(fmt.Sprintf("件数は1から%dの範囲で指定してください", p.maxFetchCount))
	}

	facts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		f, err := p.fetch(ctx)
		if err != nil {
			slog.Warn("fetch many aborted",
				slog.Int("requested", count),
				slog.Int("completed", i),
			)
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, nil
}

// CreateMock はペイロードをモックAPIへ登録する。
func (p *Proxy) CreateMock(ctx context.Context, token string, payload model.MockPayload) (*model.MockResult, error) {
	if _, err := p.gate.RequireAuthenticated(ctx, token); err != nil {
		return nil, err
	}
	if err := validatePayload(payload); err != nil {
		return nil, err
	}
	return p.mock(ctx, opCreateMock, func(ctx context.Context) (*model.MockResult, error) {
		return p.transport.CreateMock(ctx, payload)
	})
}

// UpdateMock は指定IDのモックリソースを更新する。
func (p *Proxy) UpdateMock(ctx context.Context, token, id string, payload model.MockPayload) (*model.MockResult, error) {
	if _, err := p.gate.RequireAuthenticated(ctx, token); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := validatePayload(payload); err != nil {
		return nil, err
	}
	return p.mock(ctx, opUpdateMock, func(ctx context.Context) (*model.MockResult, error) {
		return p.transport.UpdateMock(ctx, id, payload)
	})
}

// DeleteMock は指定IDのモックリソースを削除し、上流のステータスを返す。
func (p *Proxy) DeleteMock(ctx context.Context, token, id string) (*model.MockResult, error) {
	if _, err := p.gate.RequireAuthenticated(ctx, token); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}
	return p.mock(ctx, opDeleteMock, func(ctx context.Context) (*model.MockResult, error) {
		return p.transport.DeleteMock(ctx, id)
	})
}

// ParseCount はクエリ文字列の件数を整数に変換する。未指定は1件、数値でない場合はINVALID_INPUTを返す。
func ParseCount(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultFetchCount, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewInvalidInputError("件数は整数で指定してください")
	}
	return n, nil
}

func (p *Proxy) fetch(ctx context.Context) (string, error) {
	start := time.Now()
	text, err := p.transport.GetFact(ctx)
	if err != nil {
		p.metrics.RecordUpstreamCall(opGetFact, metrics.OutcomeFailure, time.Since(start))
		return "", upstreamError(opGetFact, err)
	}
	p.metrics.RecordUpstreamCall(opGetFact, metrics.OutcomeSuccess, time.Since(start))

	if p.sanitizer != nil {
		text = p.sanitizer.Sanitize(text)
	}
	return text, nil
}

func (p *Proxy) mock(ctx context.Context, op string, call func(context.Context) (*model.MockResult, error)) (*model.MockResult, error) {
	start := time.Now()
	result, err := call(ctx)
	if err != nil {
		p.metrics.RecordUpstreamCall(op, metrics.OutcomeFailure, time.Since(start))
		return nil, upstreamError(op, err)
	}
	p.metrics.RecordUpstreamCall(op, metrics.OutcomeSuccess, time.Since(start))
	return result, nil
}

// upstreamError は上流の失敗をUPSTREAM_ERRORに正規化する。
func upstreamError(op string, err error) error {
	slog.Error("upstream call failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)

	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		return model.NewUpstreamError(fmt.Sprintf("status %d", statusErr.StatusCode))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewUpstreamError("timeout")
	}
	return model.NewUpstreamError(err.Error())
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return model.NewInvalidInputError("リソースIDは必須です")
	}
	return nil
}

func validatePayload(payload model.MockPayload) error {
	if len(strings.TrimSpace(string(payload))) == 0 {
		return model.NewInvalidInputError("ペイロードは必須です")
	}
	if !json.Valid(payload) {
		return model.NewInvalidInputError("ペイロードはJSONで指定してください")
	}
	return nil
}
