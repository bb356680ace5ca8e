package httptransport

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"contactform/backend/internal/domain"
	"contactform/backend/internal/service"
)

// SubmissionService 提交处理接口
type SubmissionService interface {
	Submit(ctx context.Context, req *http.Request) *service.SubmitResult
	List(ctx context.Context) ([]domain.Submission, error)
}

// SubmissionHandler 处理联系表单相关请求
type SubmissionHandler struct {
	submissions SubmissionService
	maxBytes    int64
	logger      *zap.Logger
}

// NewSubmissionHandler 创建提交处理器
func NewSubmissionHandler(submissions SubmissionService, maxBytes int64, logger *zap.Logger) *SubmissionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionHandler{
		submissions: submissions,
		maxBytes:    maxBytes,
		logger:      logger,
	}
}

// Upload 接收一次表单提交
//
// POST /upload
func (h *SubmissionHandler) Upload(c *gin.Context) {
	result := h.submissions.Submit(c.Request.Context(), c.Request)

	var id string
	if result.Submission != nil {
		id = result.Submission.ID
		c.Set("submissionID", id)
	}

	if result.Err != nil {
		code, msg := errorResponse(result.Err, h.maxBytes)
		Error(c, code, msg, id)
		return
	}

	Success(c, MsgSent, id)
}

// RejectTooLarge 在读取请求体之前拒绝超限请求
func (h *SubmissionHandler) RejectTooLarge(c *gin.Context) {
	BadRequest(c, MsgFileTooLarge(h.maxBytes))
}

// List 返回全部已记录的提交
//
// GET /messages
func (h *SubmissionHandler) List(c *gin.Context) {
	entries, err := h.submissions.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list submissions", zap.Error(err))
		InternalError(c, MsgListFailed)
		return
	}

	c.JSON(http.StatusOK, entries)
}
