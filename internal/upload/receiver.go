package upload

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"contactform/backend/internal/domain"
	"contactform/backend/internal/storage/filesystem"
)

// 单个文本字段的最大字节数
const maxFieldBytes = 64 * 1024

// ErrClientGone 客户端在上传过程中断开连接
var ErrClientGone = errors.New("client disconnected during upload")

// fieldAliases 历史表单使用的字段名
var fieldAliases = map[string]string{
	"name":        "name",
	"clientName":  "name",
	"email":       "email",
	"clientEmail": "email",
	"message":     "message",
}

// Config 上传限制
type Config struct {
	MaxBytes         int64    // 请求体总大小上限
	FieldNames       []string // 音频文件字段名
	AllowedMimeTypes []string // 允许的 MIME 类型，支持 "audio/*"
}

// Storage 上传文件的落盘位置
type Storage interface {
	Create(originalName, mimeType string) (*os.File, string, error)
}

// Tracker 登记已创建的上传文件，由调用方负责最终清理
//
// 文件一旦创建就会被登记，即使随后写入失败，清理方也能删除残留的部分文件。
type Tracker interface {
	Track(h *domain.UploadHandle)
}

// Result 解析后的表单内容
type Result struct {
	Fields domain.Fields
	Audio  *domain.UploadHandle
}

// Receiver 以流式方式解析 multipart 请求并保存音频文件
type Receiver struct {
	cfg        Config
	store      Storage
	fieldNames map[string]bool
	logger     *zap.Logger
	now        func() time.Time
}

// NewReceiver 创建上传接收器
func NewReceiver(cfg Config, store Storage, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}

	names := make(map[string]bool, len(cfg.FieldNames))
	for _, n := range cfg.FieldNames {
		names[n] = true
	}

	return &Receiver{
		cfg:        cfg,
		store:      store,
		fieldNames: names,
		logger:     logger,
		now:        time.Now,
	}
}

// Receive 读取请求中的文本字段和至多一个音频文件
//
// 大小限制在读取请求体时执行：Content-Length 超限时不读取任何字节直接拒绝，
// 分块传输超限时中止写入。MIME 类型在创建文件之前检查。
//
// 返回值:
//   - *Result: 表单字段和音频句柄（可能为 nil）
//   - error: *domain.ValidationError 表示客户端错误；ErrClientGone 表示连接中断；
//     其他错误为存储故障
func (r *Receiver) Receive(req *http.Request, tracker Tracker) (*Result, error) {
	if req.ContentLength > r.cfg.MaxBytes {
		return nil, r.tooLarge()
	}

	req.Body = http.MaxBytesReader(nil, req.Body, r.cfg.MaxBytes)

	contentType := req.Header.Get("Content-Type")
	if contentType == "" && req.ContentLength == 0 {
		return &Result{}, nil
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, domain.NewValidationError(domain.ValidationMalformedRequest, "", "invalid content type")
	}

	switch mediaType {
	case "multipart/form-data":
		mr, err := req.MultipartReader()
		if err != nil {
			return nil, domain.NewValidationError(domain.ValidationMalformedRequest, "", err.Error())
		}
		return r.readMultipart(req.Context(), mr, tracker)
	case "application/x-www-form-urlencoded":
		return r.readURLEncoded(req)
	default:
		return nil, domain.NewValidationError(domain.ValidationMalformedRequest, "", "unsupported content type "+mediaType)
	}
}

func (r *Receiver) readMultipart(ctx context.Context, mr *multipart.Reader, tracker Tracker) (*Result, error) {
	result := &Result{}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return nil, r.classifyReadError(ctx, err)
		}

		name := part.FormName()

		if r.fieldNames[name] {
			if result.Audio != nil {
				part.Close()
				return nil, domain.NewValidationError(domain.ValidationMalformedRequest, name, "only one audio file is allowed")
			}

			handle, err := r.readAudio(ctx, part, tracker)
			part.Close()
			if err != nil {
				return nil, err
			}
			result.Audio = handle
			continue
		}

		if part.FileName() != "" {
			part.Close()
			return nil, domain.NewValidationError(domain.ValidationMalformedRequest, name, "unexpected file field")
		}

		canonical, known := fieldAliases[name]
		if !known {
			// 未知的文本字段直接丢弃
			_, err := io.Copy(io.Discard, part)
			part.Close()
			if err != nil {
				return nil, r.classifyReadError(ctx, err)
			}
			continue
		}

		value, err := readField(part)
		part.Close()
		if err != nil {
			if errors.Is(err, domain.ErrInvalidField) {
				return nil, err
			}
			return nil, r.classifyReadError(ctx, err)
		}

		setField(&result.Fields, canonical, value)
	}
}

// readAudio 校验并保存音频部分；空文件视为未上传
func (r *Receiver) readAudio(ctx context.Context, part *multipart.Part, tracker Tracker) (*domain.UploadHandle, error) {
	body := bufio.NewReader(part)
	if _, err := body.Peek(1); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, r.classifyReadError(ctx, err)
	}

	mimeType, err := r.checkMimeType(part.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	originalName := filesystem.SanitizeFilename(part.FileName())
	if part.FileName() == "" {
		originalName = "recording" + filesystem.SafeExtension("", mimeType)
	}

	f, path, err := r.store.Create(originalName, mimeType)
	if err != nil {
		return nil, domain.NewStorageError("create upload", err)
	}

	handle := &domain.UploadHandle{
		Path:         path,
		OriginalName: originalName,
		MimeType:     mimeType,
		StoredAt:     r.now().UTC(),
	}
	tracker.Track(handle)

	hasher, _ := blake2b.New256(nil)
	n, copyErr := io.Copy(io.MultiWriter(f, hasher), io.LimitReader(body, r.cfg.MaxBytes+1))
	closeErr := f.Close()

	handle.SizeBytes = n

	if copyErr != nil {
		return nil, r.classifyReadError(ctx, copyErr)
	}
	if n > r.cfg.MaxBytes {
		return nil, r.tooLarge()
	}
	if closeErr != nil {
		return nil, domain.NewStorageError("write upload", closeErr)
	}

	handle.Checksum = hex.EncodeToString(hasher.Sum(nil))

	r.logger.Debug("Audio upload stored",
		zap.String("path", path),
		zap.String("original_name", originalName),
		zap.String("mime_type", mimeType),
		zap.Int64("size_bytes", n))

	return handle, nil
}

func (r *Receiver) readURLEncoded(req *http.Request) (*Result, error) {
	if err := req.ParseForm(); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, r.tooLarge()
		}
		return nil, domain.NewValidationError(domain.ValidationMalformedRequest, "", err.Error())
	}

	result := &Result{}
	for name, canonical := range fieldAliases {
		if value := req.PostForm.Get(name); value != "" {
			if len(value) > maxFieldBytes {
				return nil, domain.NewValidationError(domain.ValidationInvalidField, canonical, "field too large")
			}
			setField(&result.Fields, canonical, value)
		}
	}
	return result, nil
}

// checkMimeType 检查声明的 MIME 类型是否在允许列表中
func (r *Receiver) checkMimeType(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", domain.NewValidationError(domain.ValidationUnsupportedType, "audio", "invalid MIME type: "+contentType)
	}

	if !MimeAllowed(mediaType, r.cfg.AllowedMimeTypes) {
		return "", domain.NewValidationError(domain.ValidationUnsupportedType, "audio", "disallowed MIME type: "+mediaType)
	}

	return mediaType, nil
}

// MimeAllowed 判断媒体类型是否匹配允许列表，支持 "audio/*" 形式的通配
func MimeAllowed(mediaType string, allowed []string) bool {
	mediaType = strings.ToLower(mediaType)
	for _, pattern := range allowed {
		pattern = strings.ToLower(pattern)
		if strings.HasSuffix(pattern, "/*") {
			if strings.HasPrefix(mediaType, strings.TrimSuffix(pattern, "*")) {
				return true
			}
			continue
		}
		if mediaType == pattern {
			return true
		}
	}
	return false
}

func (r *Receiver) classifyReadError(ctx context.Context, err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return r.tooLarge()
	}

	if ctx.Err() != nil || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrClientGone, err)
	}

	return domain.NewValidationError(domain.ValidationMalformedRequest, "", err.Error())
}

func (r *Receiver) tooLarge() error {
	return domain.NewValidationError(domain.ValidationFileTooLarge, "audio",
		fmt.Sprintf("request exceeds %d bytes", r.cfg.MaxBytes))
}

func readField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxFieldBytes {
		return "", domain.NewValidationError(domain.ValidationInvalidField, part.FormName(), "field too large")
	}
	return string(data), nil
}

func setField(fields *domain.Fields, canonical, value string) {
	switch canonical {
	case "name":
		if fields.Name == "" {
			fields.Name = value
		}
	case "email":
		if fields.Email == "" {
			fields.Email = value
		}
	case "message":
		if fields.Message == "" {
			fields.Message = value
		}
	}
}
