// Package cleanup は期限切れのセッションと単回使用トークンの定期削除ジョブを提供する。
// 有効性の判定は使用時に行うため、このジョブは既に無効なレコードの掃除だけを担う。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredDeleter は期限切れレコードの削除を抽象化するインターフェース。
// repository.SessionRepository と repository.VerificationRepository が満たす。
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Job は期限切れのセッションとトークンを削除するジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type Job struct {
	sessions      ExpiredDeleter
	verifications ExpiredDeleter
	logger        *slog.Logger
	now           func() time.Time
}

// NewJob は新しいJobを生成する。
func NewJob(sessions, verifications ExpiredDeleter, logger *slog.Logger) *Job {
	return &Job{
		sessions:      sessions,
		verifications: verifications,
		logger:        logger,
		now:           time.Now,
	}
}

// Result は1回の実行で削除した件数。
type Result struct {
	Sessions      int64
	Verifications int64
}

// Run は期限切れのセッションとトークンを1回削除する。
// 片方が失敗してももう片方は実行する。
func (j *Job) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	now := j.now()

	var res Result
	var errs []error

	n, err := j.sessions.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("期限切れセッションの削除に失敗: %w", err))
	}
	res.Sessions = n

	n, err = j.verifications.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("期限切れトークンの削除に失敗: %w", err))
	}
	res.Verifications = n

	if err := errors.Join(errs...); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return res, err
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", res.Sessions),
		slog.Int64("deleted_verifications", res.Verifications),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res, nil
}

// Start は起動直後に1回実行し、以降interval間隔で実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップワーカーを開始しました", slog.Duration("interval", interval))

	// 失敗はRun内でログに記録済み
	j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップワーカーを停止しました")
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
