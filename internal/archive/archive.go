package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"contactform/backend/internal/domain"
)

// Archiver 在删除上传文件之前保存一份副本
type Archiver interface {
	Archive(ctx context.Context, h *domain.UploadHandle) error
}

// Opener 打开待归档的本地文件
type Opener interface {
	Open(path string) (*os.File, error)
}

// writerFunc 创建对象写入器，测试中可替换
type writerFunc func(ctx context.Context, object string, h *domain.UploadHandle) io.WriteCloser

// GCSArchiver 将上传文件复制到 Google Cloud Storage
type GCSArchiver struct {
	client    *storage.Client
	bucket    string
	prefix    string
	opener    Opener
	newWriter writerFunc
	logger    *zap.Logger
}

// NewGCSArchiver 创建 GCS 归档器，凭据由 Application Default Credentials 提供
func NewGCSArchiver(ctx context.Context, bucket, prefix string, opener Opener, logger *zap.Logger) (*GCSArchiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	a := &GCSArchiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		opener: opener,
		logger: logger,
	}
	handle := client.Bucket(bucket)
	a.newWriter = func(ctx context.Context, object string, h *domain.UploadHandle) io.WriteCloser {
		w := handle.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
		w.ContentType = h.MimeType
		w.Metadata = map[string]string{
			"original-name": h.OriginalName,
			"checksum":      h.Checksum,
		}
		return w
	}

	return a, nil
}

// Archive 上传文件内容；写入器在 Close 时才真正提交对象
func (a *GCSArchiver) Archive(ctx context.Context, h *domain.UploadHandle) error {
	f, err := a.opener.Open(h.Path)
	if err != nil {
		return fmt.Errorf("failed to open upload for archive: %w", err)
	}
	defer f.Close()

	object := ObjectName(a.prefix, h)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := a.newWriter(ctx, object, h)
	if _, err := io.Copy(w, f); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("failed to upload %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", object, err)
	}

	a.logger.Info("Upload archived",
		zap.String("bucket", a.bucket),
		zap.String("object", object),
		zap.Int64("size", h.SizeBytes))
	return nil
}

// Close 关闭存储客户端
func (a *GCSArchiver) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

// ObjectName 返回归档对象名：<prefix>/<yyyy>/<mm>/<dd>/<文件名>
func ObjectName(prefix string, h *domain.UploadHandle) string {
	day := h.StoredAt.UTC().Format("2006/01/02")
	name := path.Join(day, filepath.Base(h.Path))

	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
