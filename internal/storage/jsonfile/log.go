package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"contactform/backend/internal/domain"
)

// Log 以 JSON 数组文件保存提交记录
//
// 每次追加都是读取、追加、整体重写；写入先落到同目录临时文件再原子重命名，
// 进程内由互斥锁串行化。文件无法解析时备份为 <path>.corrupt-<时间>，
// 然后从空数组重新开始，新的提交不会因此丢失。
type Log struct {
	path   string
	mu     sync.RWMutex
	logger *zap.Logger
	now    func() time.Time
}

// NewLog 创建 JSON 文件日志，目录不存在时自动创建
func NewLog(path string, logger *zap.Logger) (*Log, error) {
	if path == "" {
		return nil, fmt.Errorf("submission log path is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &Log{path: path, logger: logger, now: time.Now}, nil
}

// Path 返回日志文件路径
func (l *Log) Path() string {
	return l.path
}

// Append 追加一条提交记录
func (l *Log) Append(ctx context.Context, sub *domain.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		if !errors.Is(err, domain.ErrLogCorrupt) {
			return err
		}
		l.recoverCorrupt(err)
		entries = nil
	}

	entries = append(entries, *sub)
	return l.write(entries)
}

// ListAll 按追加顺序返回全部记录；文件缺失或损坏时返回空列表
func (l *Log) ListAll(ctx context.Context) ([]domain.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	entries, err := l.load()
	if err != nil {
		if errors.Is(err, domain.ErrLogCorrupt) {
			l.logger.Warn("Submission log unreadable, returning empty list",
				zap.String("path", l.path), zap.Error(err))
			return []domain.Submission{}, nil
		}
		return nil, err
	}

	if entries == nil {
		entries = []domain.Submission{}
	}
	return entries, nil
}

// Health 检查日志目录可访问
func (l *Log) Health() error {
	if _, err := os.Stat(filepath.Dir(l.path)); err != nil {
		return domain.NewStorageError("stat log directory", err)
	}
	return nil
}

// Close 文件日志不持有资源
func (l *Log) Close() error {
	return nil
}

// load 读取并解析日志文件，调用方需持有锁
func (l *Log) load() ([]domain.Submission, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, domain.NewStorageError("read submission log", err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var entries []domain.Submission
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &domain.IOError{Kind: domain.IOLogCorrupt, Op: "parse submission log", Err: err}
	}

	return entries, nil
}

// recoverCorrupt 备份损坏的文件，失败时仅记录日志
func (l *Log) recoverCorrupt(cause error) {
	backup := fmt.Sprintf("%s.corrupt-%s", l.path, l.now().UTC().Format("20060102T150405.000"))

	if err := os.Rename(l.path, backup); err != nil {
		l.logger.Error("Submission log corrupt and backup failed, resetting to empty",
			zap.String("path", l.path), zap.Error(cause), zap.NamedError("backup_error", err))
		return
	}

	l.logger.Warn("Submission log corrupt, reset to empty",
		zap.String("path", l.path), zap.String("backup", backup), zap.Error(cause))
}

// write 原子地重写日志文件，调用方需持有写锁
func (l *Log) write(entries []domain.Submission) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return domain.NewStorageError("encode submission log", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return domain.NewStorageError("create temp log", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return domain.NewStorageError("write temp log", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return domain.NewStorageError("sync temp log", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return domain.NewStorageError("close temp log", err)
	}

	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return domain.NewStorageError("replace submission log", err)
	}

	return nil
}
