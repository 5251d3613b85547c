package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/catfacts/internal/metrics"
	"github.com/hitoshi/catfacts/internal/model"
	"github.com/hitoshi/catfacts/internal/repository"
)

type mockDeleter struct {
	mu      sync.Mutex
	calls   int
	lastNow time.Time
	deleted int64
	err     error
}

func (m *mockDeleter) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastNow = now
	return m.deleted, m.err
}

func (m *mockDeleter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type recordingCollector struct {
	metrics.Nop
	cleaned []int64
}

func (c *recordingCollector) RecordSessionsCleaned(count int64) {
	c.cleaned = append(c.cleaned, count)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// findLogField はJSONログの各行からkeyを持つ最初の値を返す。
func findLogField(buf *bytes.Buffer, key string) (interface{}, bool) {
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if v, ok := entry[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func TestCleanupJob_Run_DeletesWithCurrentTime(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockDeleter{deleted: 5}
	collector := &recordingCollector{}
	job := NewCleanupJob(deleter, newTestLogger(&buf), collector)

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job.now = func() time.Time { return fixed }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if !deleter.lastNow.Equal(fixed) {
		t.Errorf("DeleteExpired に渡された時刻 = %v, want %v", deleter.lastNow, fixed)
	}
	if len(collector.cleaned) != 1 || collector.cleaned[0] != 5 {
		t.Errorf("RecordSessionsCleaned = %v, want [5]", collector.cleaned)
	}
	if count, ok := findLogField(&buf, "deleted_count"); !ok || count != float64(5) {
		t.Errorf("ログに deleted_count=5 が記録されていない。ログ出力: %s", buf.String())
	}
	if _, ok := findLogField(&buf, "duration_ms"); !ok {
		t.Errorf("ログに duration_ms が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_Idempotent_ZeroRows(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockDeleter{}, newTestLogger(&buf), nil)

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("%d回目の Run() がエラーを返した: %v", i+1, err)
		}
	}
	if count, ok := findLogField(&buf, "deleted_count"); !ok || count != float64(0) {
		t.Errorf("0件削除時にもログに deleted_count=0 が記録されるべき。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_ReturnsErrorOnStorageFailure(t *testing.T) {
	var buf bytes.Buffer
	collector := &recordingCollector{}
	job := NewCleanupJob(&mockDeleter{err: errors.New("connection refused")}, newTestLogger(&buf), collector)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("ストレージエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
	if len(collector.cleaned) != 0 {
		t.Errorf("失敗時はメトリクスを記録しない: %v", collector.cleaned)
	}
}

func TestCleanupJob_Run_WithMemoryRepo(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySessionRepo()
	now := time.Now()
	_ = repo.Create(ctx, &model.Session{ID: "expired", UserID: "u", ExpiresAt: now.Add(-time.Minute)})
	_ = repo.Create(ctx, &model.Session{ID: "live", UserID: "u", ExpiresAt: now.Add(time.Hour)})

	var buf bytes.Buffer
	job := NewCleanupJob(repo, newTestLogger(&buf), nil)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if repo.Len() != 1 {
		t.Errorf("Len() = %d, want 1", repo.Len())
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockDeleter{}
	job := NewCleanupJob(deleter, newTestLogger(&buf), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for deleter.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("起動直後に Run が実行されなかった")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("コンテキストキャンセル後に Start が終了しなかった")
	}
}
