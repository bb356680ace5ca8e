package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus 表示一次提交的投递状态
type SubmissionStatus string

const (
	StatusPending SubmissionStatus = "pending" // 已接收，尚未投递
	StatusSent    SubmissionStatus = "sent"    // 通知邮件已发送
	StatusFailed  SubmissionStatus = "failed"  // 通知邮件发送失败
)

// IsTerminal 判断状态是否为终态
func (s SubmissionStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// UploadHandle 表示一个已落盘的音频上传文件及其元数据。
//
// 句柄在清理之前由创建它的提交独占；清理之后句柄失效，不得再读取 Path。
type UploadHandle struct {
	Path         string    `json:"path"`               // 存储路径（绝对路径）
	OriginalName string    `json:"originalName"`       // 浏览器提交的原始文件名
	SizeBytes    int64     `json:"sizeBytes"`          // 文件大小（字节）
	MimeType     string    `json:"mimeType"`           // 声明的 MIME 类型
	Checksum     string    `json:"checksum,omitempty"` // BLAKE2b-256 内容摘要（十六进制）
	StoredAt     time.Time `json:"storedAt"`
}

// SizeMB 返回以 MB 为单位的文件大小
func (h *UploadHandle) SizeMB() float64 {
	return float64(h.SizeBytes) / 1024 / 1024
}

// Submission 表示一次联系表单 / 语音留言提交。
type Submission struct {
	ID         string           `json:"id"`
	ReceivedAt time.Time        `json:"receivedAt"`
	Name       string           `json:"name,omitempty"`
	Email      string           `json:"email,omitempty"`
	Message    string           `json:"message,omitempty"`
	Audio      *UploadHandle    `json:"audio,omitempty"`
	Status     SubmissionStatus `json:"status"`
	CleanedUp  bool             `json:"cleanedUp"` // 上传文件是否已释放
}

// NewSubmission 根据校验通过的输入创建待投递的提交
func NewSubmission(v ValidatedSubmission, receivedAt time.Time) *Submission {
	return &Submission{
		ID:         uuid.NewString(),
		ReceivedAt: receivedAt.UTC(),
		Name:       v.Fields.Name,
		Email:      v.Fields.Email,
		Message:    v.Fields.Message,
		Audio:      v.Audio,
		Status:     StatusPending,
	}
}

// MarkSent 将提交标记为已发送；终态提交不会再次变更
func (s *Submission) MarkSent() {
	if s.Status.IsTerminal() {
		return
	}
	s.Status = StatusSent
}

// MarkFailed 将提交标记为发送失败；终态提交不会再次变更
func (s *Submission) MarkFailed() {
	if s.Status.IsTerminal() {
		return
	}
	s.Status = StatusFailed
}

// HasAudio 判断提交是否附带音频
func (s *Submission) HasAudio() bool {
	return s.Audio != nil
}

// NotificationPayload 是由提交派生的通知内容，不做持久化
type NotificationPayload struct {
	SubmissionID string
	Subject      string
	Text         string
	HTML         string
	ReplyTo      string          // 提交者邮箱（如有），方便直接回复
	Attachments  []*UploadHandle // 附件（最多一个音频文件）
}
