package janitor

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"contactform/backend/internal/archive"
	"contactform/backend/internal/domain"
)

// Store 上传目录中可被清扫的文件
type Store interface {
	ListExpired(maxAge time.Duration) ([]string, error)
	Remove(path string) error
}

// Recorder 清扫指标，可为 nil
type Recorder interface {
	RecordJanitorRemoved(count int)
	RecordArchiveFailure()
}

// Janitor 定期删除进程崩溃后遗留的上传文件
//
// 正常请求在结束时已经删除自己的文件；这里只处理超过 maxAge 仍然存在的孤儿文件。
type Janitor struct {
	store    Store
	archiver archive.Archiver
	maxAge   time.Duration
	metrics  Recorder
	logger   *zap.Logger
	cron     *cron.Cron
	wg       sync.WaitGroup
}

// New 创建清扫任务
//
// 参数:
//   - store: 上传文件存储
//   - archiver: 删除前归档，可为 nil
//   - maxAge: 文件存活上限
//   - metrics: 指标记录器，可为 nil
//   - logger: 日志记录器
func New(store Store, archiver archive.Archiver, maxAge time.Duration, metrics Recorder, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}

	cl := cronLogger{logger.Sugar()}
	return &Janitor{
		store:    store,
		archiver: archiver,
		maxAge:   maxAge,
		metrics:  metrics,
		logger:   logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// Start 按 cron 表达式（支持 "@every 1h"）调度清扫并立即执行一次
func (j *Janitor) Start(ctx context.Context, schedule string) error {
	id, err := j.cron.AddFunc(schedule, func() { j.run(ctx) })
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}

	// 启动时的清扫同样经过 cron 的包装链，与定时执行互斥
	job := j.cron.Entry(id).WrappedJob
	j.cron.Start()

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		job.Run()
	}()

	j.logger.Info("Upload janitor started",
		zap.String("schedule", schedule),
		zap.Duration("max_age", j.maxAge))
	return nil
}

// Stop 停止调度并等待正在执行的清扫（包括启动时的那一次）结束
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.wg.Wait()
}

func (j *Janitor) run(ctx context.Context) {
	removed, err := j.Sweep(ctx)
	if err != nil {
		j.logger.Error("Upload sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		j.logger.Info("Orphaned uploads removed", zap.Int("count", removed))
	}
}

// Sweep 执行一次清扫，返回删除的文件数
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	expired, err := j.store.ListExpired(j.maxAge)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired uploads: %w", err)
	}

	removed := 0
	for _, path := range expired {
		if err := ctx.Err(); err != nil {
			break
		}

		if j.archiver != nil {
			if err := j.archiver.Archive(ctx, orphanHandle(path)); err != nil {
				j.logger.Warn("Failed to archive orphaned upload", zap.String("path", path), zap.Error(err))
				if j.metrics != nil {
					j.metrics.RecordArchiveFailure()
				}
			}
		}

		if err := j.store.Remove(path); err != nil {
			j.logger.Warn("Failed to remove orphaned upload", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}

	if j.metrics != nil && removed > 0 {
		j.metrics.RecordJanitorRemoved(removed)
	}
	return removed, nil
}

// orphanHandle 从文件本身还原句柄；原始文件名已不可知
func orphanHandle(path string) *domain.UploadHandle {
	h := &domain.UploadHandle{
		Path:         path,
		OriginalName: filepath.Base(path),
		MimeType:     mime.TypeByExtension(filepath.Ext(path)),
	}
	if info, err := os.Stat(path); err == nil {
		h.SizeBytes = info.Size()
		h.StoredAt = info.ModTime()
	}
	if h.MimeType == "" {
		h.MimeType = "application/octet-stream"
	}
	return h
}

// cronLogger 将 cron 日志转发到 zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
