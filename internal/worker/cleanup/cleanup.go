// Package cleanup は期限切れセッションの削除ジョブを提供する。
// 長時間のロックを避けるため、BatchSize件ずつ削除を繰り返す。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/librarian/internal/metrics"
)

// defaultBatchSize は1回のDELETEで削除する最大件数の既定値。
const defaultBatchSize = 1000

// ExpiredSessionDeleter は期限切れセッションを最大limit件削除する。
// repository.SessionRepository が満たす。
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context, limit int) (int64, error)
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 冪等であり、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	sessions  ExpiredSessionDeleter
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	BatchSize int
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions ExpiredSessionDeleter, logger *slog.Logger, collector metrics.MetricsCollector) *CleanupJob {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &CleanupJob{
		sessions:  sessions,
		logger:    logger,
		metrics:   collector,
		BatchSize: defaultBatchSize,
	}
}

// Run は削除件数がBatchSizeを下回るまでバッチ削除を繰り返し、合計削除件数を返す。
// 途中で失敗した場合も、それまでに削除した件数は返す。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	batch := j.BatchSize
	if batch < 1 {
		batch = defaultBatchSize
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := j.sessions.DeleteExpired(ctx, batch)
		if err != nil {
			j.logger.Error("セッションクリーンアップに失敗しました",
				slog.String("error", err.Error()),
				slog.Int64("deleted_count", total),
			)
			j.metrics.RecordSessionsCleaned(total)
			return total, fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
		}
		total += n
		if n < int64(batch) {
			break
		}
	}

	j.metrics.RecordSessionsCleaned(total)
	j.logger.Info("セッションクリーンアップが完了しました",
		slog.Int64("deleted_count", total),
		slog.Int("batch_size", batch),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return total, nil
}
