package mailer

import (
	"context"

	"go.uber.org/zap"

	"contactform/backend/internal/domain"
)

// Dispatcher 将通知交给邮件传输层
//
// 返回的错误为 *domain.MailError，调用方据此区分可重试与不可重试的失败。
type Dispatcher interface {
	Send(ctx context.Context, payload *domain.NotificationPayload) error
}

// LogDispatcher 未配置 SMTP 时使用，仅记录通知内容
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher 创建日志投递器
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Send 记录通知并返回成功
func (d *LogDispatcher) Send(ctx context.Context, payload *domain.NotificationPayload) error {
	if err := ctx.Err(); err != nil {
		return &domain.MailError{Kind: domain.MailTransient, Detail: "context done", Err: err}
	}

	d.logger.Info("Mail transport not configured, notification logged only",
		zap.String("submission_id", payload.SubmissionID),
		zap.String("subject", payload.Subject),
		zap.Int("attachments", len(payload.Attachments)))
	return nil
}
