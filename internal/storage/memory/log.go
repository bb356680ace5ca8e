package memory

import (
	"context"
	"sync"

	"contactform/backend/internal/domain"
)

// Log 使用内存保存提交记录，主要用于开发验证和测试。
type Log struct {
	mu      sync.RWMutex
	entries []domain.Submission
}

// NewLog 创建内存日志
func NewLog() *Log {
	return &Log{}
}

// Append 追加一条提交记录（保存副本）
func (l *Log) Append(ctx context.Context, sub *domain.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	l.entries = append(l.entries, clone(sub))
	l.mu.Unlock()
	return nil
}

// ListAll 按追加顺序返回全部记录
func (l *Log) ListAll(ctx context.Context) ([]domain.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Submission, len(l.entries))
	for i := range l.entries {
		out[i] = clone(&l.entries[i])
	}
	return out, nil
}

// clone 复制记录，包括音频句柄
func clone(sub *domain.Submission) domain.Submission {
	entry := *sub
	if sub.Audio != nil {
		audio := *sub.Audio
		entry.Audio = &audio
	}
	return entry
}

// Len 返回记录数量
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Log) Health() error { return nil }

func (l *Log) Close() error { return nil }
