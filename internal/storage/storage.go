package storage

import (
	"context"
	"errors"

	"contactform/backend/internal/domain"
)

// ErrLogClosed 提交日志已关闭
var ErrLogClosed = errors.New("submission log closed")

// SubmissionLog 定义提交记录的只追加日志。
//
// Append 必须支持并发调用且不交错写入；ListAll 按追加顺序返回全部记录。
// 实现在底层数据损坏时应从空日志开始，而不是让整个提交失败。
type SubmissionLog interface {
	Append(ctx context.Context, sub *domain.Submission) error
	ListAll(ctx context.Context) ([]domain.Submission, error)
	Health() error
	Close() error
}
