package domain

import (
	"errors"
	"fmt"
)

// ValidationKind 区分请求校验失败的原因
type ValidationKind string

const (
	ValidationEmptySubmission  ValidationKind = "empty_submission"
	ValidationFileTooLarge     ValidationKind = "file_too_large"
	ValidationUnsupportedType  ValidationKind = "unsupported_type"
	ValidationInvalidField     ValidationKind = "invalid_field"
	ValidationMalformedRequest ValidationKind = "malformed_request"
)

// ValidationError 客户端可纠正的错误，映射为 HTTP 400
type ValidationError struct {
	Kind   ValidationKind
	Field  string // 出错字段（可选）
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed (%s) on %s: %s", e.Kind, e.Field, e.Detail)
	}
	if e.Detail != "" {
		return fmt.Sprintf("validation failed (%s): %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("validation failed (%s)", e.Kind)
}

// Is 按 Kind 匹配，使 errors.Is(err, ErrFileTooLarge) 对任意详情生效
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind
}

var (
	ErrEmptySubmission  = &ValidationError{Kind: ValidationEmptySubmission}
	ErrFileTooLarge     = &ValidationError{Kind: ValidationFileTooLarge}
	ErrUnsupportedType  = &ValidationError{Kind: ValidationUnsupportedType}
	ErrInvalidField     = &ValidationError{Kind: ValidationInvalidField}
	ErrMalformedRequest = &ValidationError{Kind: ValidationMalformedRequest}
)

// NewValidationError 创建带详情的校验错误
func NewValidationError(kind ValidationKind, field, detail string) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Detail: detail}
}

// MailKind 区分邮件投递失败是否可重试
type MailKind string

const (
	MailTransient MailKind = "transient" // 网络、超时、4xx 应答
	MailPermanent MailKind = "permanent" // 收件人无效、认证失败、附件被拒
)

// MailError 邮件投递失败
type MailError struct {
	Kind   MailKind
	Detail string
	Err    error
}

func (e *MailError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mail dispatch failed (%s): %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("mail dispatch failed (%s): %s", e.Kind, e.Detail)
}

func (e *MailError) Unwrap() error {
	return e.Err
}

// Is 按 Kind 匹配
func (e *MailError) Is(target error) bool {
	t, ok := target.(*MailError)
	return ok && t.Kind == e.Kind
}

var (
	ErrMailTransient = &MailError{Kind: MailTransient}
	ErrMailPermanent = &MailError{Kind: MailPermanent}
)

// IsTransientMailError 判断错误是否为可重试的投递失败
func IsTransientMailError(err error) bool {
	var me *MailError
	return errors.As(err, &me) && me.Kind == MailTransient
}

// IOKind 区分存储层失败类型
type IOKind string

const (
	IOStorageUnavailable IOKind = "storage_unavailable"
	IOLogCorrupt         IOKind = "log_corrupt"
)

// IOError 存储层错误
type IOError struct {
	Kind IOKind
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Is 按 Kind 匹配
func (e *IOError) Is(target error) bool {
	t, ok := target.(*IOError)
	return ok && t.Kind == e.Kind
}

var (
	ErrStorageUnavailable = &IOError{Kind: IOStorageUnavailable}
	ErrLogCorrupt         = &IOError{Kind: IOLogCorrupt}
)

// NewStorageError 包装底层存储错误
func NewStorageError(op string, err error) *IOError {
	return &IOError{Kind: IOStorageUnavailable, Op: op, Err: err}
}
