package domain

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

// 字段长度限制
const (
	MaxNameLength    = 200
	MaxEmailLength   = 254 // RFC 5322 邮箱地址最大长度
	MaxMessageLength = 10000
)

// Fields 表单中的文本字段
type Fields struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Message string `json:"message,omitempty"`
}

// Normalized 返回去除首尾空白后的副本
func (f Fields) Normalized() Fields {
	return Fields{
		Name:    strings.TrimSpace(f.Name),
		Email:   strings.TrimSpace(f.Email),
		Message: strings.TrimSpace(f.Message),
	}
}

// IsEmpty 判断三个文本字段是否全部为空
//
// 只含空白的字段也算已填写；空白仅在保存时去除。
func (f Fields) IsEmpty() bool {
	return f.Name == "" && f.Email == "" && f.Message == ""
}

// ValidatedSubmission 通过校验的提交内容
type ValidatedSubmission struct {
	Fields Fields
	Audio  *UploadHandle
}

// ValidateSubmission 校验一次提交。
//
// 规则：
//   - name、email、message 全为空且没有音频时返回 ErrEmptySubmission
//   - 非空字段需满足长度限制，email 必须是合法地址
//
// 纯函数，不修改输入。
func ValidateSubmission(fields Fields, audio *UploadHandle) (ValidatedSubmission, error) {
	if fields.IsEmpty() && audio == nil {
		return ValidatedSubmission{}, NewValidationError(ValidationEmptySubmission, "", "name, email, message and audio are all absent")
	}

	normalized := fields.Normalized()

	if utf8.RuneCountInString(normalized.Name) > MaxNameLength {
		return ValidatedSubmission{}, NewValidationError(ValidationInvalidField, "name", "name too long")
	}

	if normalized.Email != "" {
		if err := ValidateEmail(normalized.Email); err != nil {
			return ValidatedSubmission{}, err
		}
	}

	if utf8.RuneCountInString(normalized.Message) > MaxMessageLength {
		return ValidatedSubmission{}, NewValidationError(ValidationInvalidField, "message", "message too long")
	}

	return ValidatedSubmission{Fields: normalized, Audio: audio}, nil
}

// ValidateEmail 校验提交者邮箱：必须是不带显示名的单个地址
func ValidateEmail(email string) error {
	if len(email) > MaxEmailLength {
		return NewValidationError(ValidationInvalidField, "email", "email address too long")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return NewValidationError(ValidationInvalidField, "email", "invalid email format")
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 || !strings.Contains(email[at+1:], ".") {
		return NewValidationError(ValidationInvalidField, "email", "invalid email domain")
	}

	return nil
}
