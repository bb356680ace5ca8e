package storage

import (
	"context"

	"contactform/backend/internal/domain"
)

// NopLog 不保存任何记录，用于关闭提交日志的部署
type NopLog struct{}

func (NopLog) Append(context.Context, *domain.Submission) error { return nil }

func (NopLog) ListAll(context.Context) ([]domain.Submission, error) {
	return []domain.Submission{}, nil
}

func (NopLog) Health() error { return nil }

func (NopLog) Close() error { return nil }
