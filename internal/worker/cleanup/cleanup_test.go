package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// mockDeleter は呼び出しごとに results の値を順に返す。
type mockDeleter struct {
	results []int64
	failAt  int // 0始まり。-1なら失敗しない
	limits  []int
}

func (m *mockDeleter) DeleteExpired(ctx context.Context, limit int) (int64, error) {
	call := len(m.limits)
	m.limits = append(m.limits, limit)
	if call == m.failAt {
		return 0, errors.New("connection reset")
	}
	if call >= len(m.results) {
		return 0, nil
	}
	return m.results[call], nil
}

type mockCollector struct {
	cleaned []int64
}

func (m *mockCollector) RecordTransition(string, string)    {}
func (m *mockCollector) RecordReview(string)                {}
func (m *mockCollector) RecordHTTPStatus(int)               {}
func (m *mockCollector) RecordSessionsCleaned(n int64)      { m.cleaned = append(m.cleaned, n) }
func (m *mockCollector) RecordRequestLatency(time.Duration) {}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func TestNewCleanupJob_DefaultBatchSize(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockDeleter{failAt: -1}, newTestLogger(&buf), nil)

	if job.BatchSize != 1000 {
		t.Errorf("BatchSize = %d, want 1000", job.BatchSize)
	}
}

func TestCleanupJob_Run_LoopsUntilShortBatch(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockDeleter{results: []int64{10, 10, 3}, failAt: -1}
	collector := &mockCollector{}
	job := NewCleanupJob(deleter, newTestLogger(&buf), collector)
	job.BatchSize = 10

	total, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if total != 23 {
		t.Errorf("total = %d, want 23", total)
	}
	if len(deleter.limits) != 3 {
		t.Errorf("DeleteExpired calls = %d, want 3", len(deleter.limits))
	}
	for i, l := range deleter.limits {
		if l != 10 {
			t.Errorf("call %d limit = %d, want 10", i, l)
		}
	}
	if len(collector.cleaned) != 1 || collector.cleaned[0] != 23 {
		t.Errorf("RecordSessionsCleaned = %v, want [23]", collector.cleaned)
	}
}

func TestCleanupJob_Run_NothingToDelete(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockDeleter{failAt: -1}
	job := NewCleanupJob(deleter, newTestLogger(&buf), nil)

	total, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
	if len(deleter.limits) != 1 {
		t.Errorf("DeleteExpired calls = %d, want 1", len(deleter.limits))
	}
}

func TestCleanupJob_Run_LogsCompletion(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockDeleter{results: []int64{4}, failAt: -1}, newTestLogger(&buf), nil)

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログのパースに失敗: %v (%s)", err, buf.String())
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", entry["level"])
	}
	if entry["deleted_count"] != float64(4) {
		t.Errorf("deleted_count = %v, want 4", entry["deleted_count"])
	}
}

func TestCleanupJob_Run_ErrorKeepsPartialCount(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockDeleter{results: []int64{5, 5}, failAt: 1}
	collector := &mockCollector{}
	job := NewCleanupJob(deleter, newTestLogger(&buf), collector)
	job.BatchSize = 5

	total, err := job.Run(context.Background())
	if err == nil {
		t.Fatal("Run should return an error")
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("エラーログが出力されていない: %s", buf.String())
	}
	if len(collector.cleaned) != 1 || collector.cleaned[0] != 5 {
		t.Errorf("RecordSessionsCleaned = %v, want [5]", collector.cleaned)
	}
}

func TestCleanupJob_Run_CanceledContext(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockDeleter{failAt: -1}
	job := NewCleanupJob(deleter, newTestLogger(&buf), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := job.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(deleter.limits) != 0 {
		t.Errorf("DeleteExpired should not be called, got %d calls", len(deleter.limits))
	}
}
