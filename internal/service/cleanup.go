package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"contactform/backend/internal/archive"
	"contactform/backend/internal/domain"
)

// Remover 删除上传文件；文件不存在时必须返回 nil
type Remover interface {
	Remove(path string) error
}

// CleanupRecorder 清理指标，可为 nil
type CleanupRecorder interface {
	RecordCleanupFailure()
	RecordArchiveFailure()
}

// CleanupCoordinator 保证一次提交创建的上传文件在任何退出路径上只删除一次
type CleanupCoordinator struct {
	remover  Remover
	archiver archive.Archiver
	metrics  CleanupRecorder
	logger   *zap.Logger
}

// NewCleanupCoordinator 创建清理协调器
//
// 参数:
//   - remover: 上传文件存储
//   - archiver: 删除前归档，可为 nil
//   - metrics: 指标记录器，可为 nil
//   - logger: 日志记录器
func NewCleanupCoordinator(remover Remover, archiver archive.Archiver, metrics CleanupRecorder, logger *zap.Logger) *CleanupCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CleanupCoordinator{
		remover:  remover,
		archiver: archiver,
		metrics:  metrics,
		logger:   logger,
	}
}

// Begin 为一次提交打开清理范围
func (c *CleanupCoordinator) Begin() *CleanupScope {
	return &CleanupScope{coordinator: c}
}

type trackedUpload struct {
	handle *domain.UploadHandle
	once   sync.Once
	ok     bool
}

// CleanupScope 记录一次提交期间创建的上传文件
type CleanupScope struct {
	coordinator *CleanupCoordinator

	mu      sync.Mutex
	uploads []*trackedUpload
}

// Track 登记上传文件，实现 upload.Tracker
func (s *CleanupScope) Track(h *domain.UploadHandle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, &trackedUpload{handle: h})
}

// Tracked 返回已登记的文件数
func (s *CleanupScope) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

// Release 删除所有已登记的上传文件，重复调用不会再次删除
//
// archiveFirst 为 true 且配置了归档器时先归档；归档或删除失败只记录日志，
// 不会向调用方返回错误。返回值表示所有文件是否都已删除。
func (s *CleanupScope) Release(ctx context.Context, archiveFirst bool) bool {
	s.mu.Lock()
	uploads := append([]*trackedUpload(nil), s.uploads...)
	s.mu.Unlock()

	cleaned := true
	for _, u := range uploads {
		u.once.Do(func() {
			u.ok = s.coordinator.release(ctx, u.handle, archiveFirst)
		})
		cleaned = cleaned && u.ok
	}
	return cleaned
}

func (c *CleanupCoordinator) release(ctx context.Context, h *domain.UploadHandle, archiveFirst bool) bool {
	if archiveFirst && c.archiver != nil {
		if err := c.archiver.Archive(ctx, h); err != nil {
			c.logger.Warn("Failed to archive upload before removal",
				zap.String("path", h.Path), zap.Error(err))
			if c.metrics != nil {
				c.metrics.RecordArchiveFailure()
			}
		}
	}

	if err := c.remover.Remove(h.Path); err != nil {
		c.logger.Error("Failed to remove upload",
			zap.String("path", h.Path), zap.Error(err))
		if c.metrics != nil {
			c.metrics.RecordCleanupFailure()
		}
		return false
	}

	c.logger.Debug("Upload removed", zap.String("path", h.Path))
	return true
}
