package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"contactform/backend/internal/domain"
	"contactform/backend/internal/mailer"
	"contactform/backend/internal/monitoring"
	"contactform/backend/internal/notification"
	"contactform/backend/internal/storage"
	"contactform/backend/internal/upload"
)

// 默认超时
const (
	DefaultDispatchTimeout = 30 * time.Second
	logAppendTimeout       = 5 * time.Second
)

// Receiver 解析上传请求
type Receiver interface {
	Receive(req *http.Request, tracker upload.Tracker) (*upload.Result, error)
}

// Notifier 推送新提交（管理端实时动态），可为 nil
type Notifier interface {
	NotifySubmission(sub *domain.Submission)
}

// SubmissionRecorder 提交流水线指标，可为 nil
type SubmissionRecorder interface {
	CleanupRecorder
	RecordSubmission(outcome string)
	RecordDispatch(outcome string, duration time.Duration)
	RecordUpload(sizeBytes int64)
	RecordLogAppendFailure()
}

// SubmissionDeps 提交服务依赖
type SubmissionDeps struct {
	Receiver        Receiver
	Composer        *notification.Composer
	Dispatcher      mailer.Dispatcher
	Log             storage.SubmissionLog
	Cleanup         *CleanupCoordinator
	Notifier        Notifier
	Metrics         SubmissionRecorder
	DispatchTimeout time.Duration
	Logger          *zap.Logger
}

// SubmissionService 处理联系表单提交：接收、校验、生成通知、发送、记录、清理
type SubmissionService struct {
	receiver        Receiver
	composer        *notification.Composer
	dispatcher      mailer.Dispatcher
	log             storage.SubmissionLog
	cleanup         *CleanupCoordinator
	notifier        Notifier
	metrics         SubmissionRecorder
	dispatchTimeout time.Duration
	logger          *zap.Logger
	now             func() time.Time
}

// NewSubmissionService 创建提交服务
func NewSubmissionService(deps SubmissionDeps) *SubmissionService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.DispatchTimeout <= 0 {
		deps.DispatchTimeout = DefaultDispatchTimeout
	}
	if deps.Log == nil {
		deps.Log = storage.NopLog{}
	}

	return &SubmissionService{
		receiver:        deps.Receiver,
		composer:        deps.Composer,
		dispatcher:      deps.Dispatcher,
		log:             deps.Log,
		cleanup:         deps.Cleanup,
		notifier:        deps.Notifier,
		metrics:         deps.Metrics,
		dispatchTimeout: deps.DispatchTimeout,
		logger:          deps.Logger,
		now:             time.Now,
	}
}

// SubmitResult 一次提交的结果
//
// Submission 在请求被拒绝时为 nil；Err 为 nil 表示通知已发送。
type SubmitResult struct {
	Submission *domain.Submission
	Err        error
}

// Submit 运行完整的提交流水线
//
// 上传文件在进入终态（拒绝、已发送、发送失败）时删除，且只删除一次；
// 配置了归档时，只有已发送的提交会先归档。
// 发送失败的提交同样写入日志，状态为 failed。日志写入失败不影响返回结果。
func (s *SubmissionService) Submit(ctx context.Context, req *http.Request) *SubmitResult {
	scope := s.cleanup.Begin()
	// 兜底：panic 等异常路径上也释放文件
	defer scope.Release(context.WithoutCancel(ctx), false)

	received, err := s.receiver.Receive(req, scope)
	if err != nil {
		scope.Release(ctx, false)
		return s.reject(err)
	}

	validated, err := domain.ValidateSubmission(received.Fields, received.Audio)
	if err != nil {
		scope.Release(ctx, false)
		return s.reject(err)
	}

	sub := domain.NewSubmission(validated, s.now())
	if sub.Audio != nil && s.metrics != nil {
		s.metrics.RecordUpload(sub.Audio.SizeBytes)
	}

	// 客户端断开后仍完成发送、清理和记录
	detached := context.WithoutCancel(ctx)

	dispatchErr := s.dispatch(detached, sub)
	if dispatchErr != nil {
		sub.MarkFailed()
	} else {
		sub.MarkSent()
	}

	// 只归档已送达的提交
	sub.CleanedUp = scope.Release(detached, sub.Status == domain.StatusSent) && sub.HasAudio()

	s.record(detached, sub)

	if s.notifier != nil {
		s.notifier.NotifySubmission(sub)
	}

	if s.metrics != nil {
		s.metrics.RecordSubmission(string(sub.Status))
	}

	return &SubmitResult{Submission: sub, Err: dispatchErr}
}

// List 按接收顺序返回已记录的提交
func (s *SubmissionService) List(ctx context.Context) ([]domain.Submission, error) {
	return s.log.ListAll(ctx)
}

// reject 处理在创建提交之前失败的请求
func (s *SubmissionService) reject(err error) *SubmitResult {
	outcome := monitoring.OutcomeRejected
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		outcome = monitoring.OutcomeFailed
	}

	if outcome == monitoring.OutcomeRejected {
		s.logger.Info("Submission rejected", zap.String("kind", string(ve.Kind)), zap.String("detail", ve.Detail))
	} else if errors.Is(err, upload.ErrClientGone) {
		s.logger.Warn("Client disconnected during upload", zap.Error(err))
	} else {
		s.logger.Error("Failed to receive submission", zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.RecordSubmission(outcome)
	}
	return &SubmitResult{Err: err}
}

// dispatch 生成通知并发送；日志锁不会在此期间持有
func (s *SubmissionService) dispatch(ctx context.Context, sub *domain.Submission) error {
	payload, err := s.composer.Compose(sub)
	if err != nil {
		s.logger.Error("Failed to compose notification", zap.String("submission_id", sub.ID), zap.Error(err))
		return &domain.MailError{Kind: domain.MailPermanent, Detail: "compose notification", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()

	start := time.Now()
	err = s.dispatcher.Send(ctx, payload)
	elapsed := time.Since(start)

	outcome := monitoring.OutcomeSent
	if err != nil {
		outcome = monitoring.OutcomeFailed
		s.logger.Error("Notification mail failed",
			zap.String("submission_id", sub.ID),
			zap.Bool("transient", domain.IsTransientMailError(err)),
			zap.Duration("duration", elapsed),
			zap.Error(err))
	} else {
		s.logger.Info("Notification mail sent",
			zap.String("submission_id", sub.ID),
			zap.Bool("has_audio", sub.HasAudio()),
			zap.Duration("duration", elapsed))
	}

	if s.metrics != nil {
		s.metrics.RecordDispatch(outcome, elapsed)
	}
	return err
}

// record 写入提交日志，失败只记录日志
func (s *SubmissionService) record(ctx context.Context, sub *domain.Submission) {
	ctx, cancel := context.WithTimeout(ctx, logAppendTimeout)
	defer cancel()

	if err := s.log.Append(ctx, sub); err != nil {
		s.logger.Error("Failed to append submission log",
			zap.String("submission_id", sub.ID),
			zap.String("status", string(sub.Status)),
			zap.Error(err))
		if s.metrics != nil {
			s.metrics.RecordLogAppendFailure()
		}
	}
}
