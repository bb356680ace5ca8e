package filesystem

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// 上传文件名前缀，清理任务只处理带此前缀的文件
const uploadPrefix = "voice_"

// Store 上传文件的本地临时存储
//
// 所有文件平铺在 basePath 下，文件名由服务端生成，与客户端提供的名称无关。
type Store struct {
	basePath string
	now      func() time.Time
}

// StorageStats 上传目录统计信息
type StorageStats struct {
	BasePath   string  `json:"basePath"`
	FileCount  int     `json:"fileCount"`
	TotalBytes int64   `json:"totalBytes"`
	TotalMB    float64 `json:"totalMb"`
}

// NewStore 创建上传文件存储
//
// 参数:
//   - basePath: 上传根目录，不存在时自动创建
//
// 返回值:
//   - *Store: 存储实例
//   - error: 路径不安全或目录无法创建时返回错误
func NewStore(basePath string) (*Store, error) {
	if err := ValidatePath(basePath); err != nil {
		return nil, fmt.Errorf("invalid upload path: %w", err)
	}

	normalized := NormalizePath(basePath)
	if err := os.MkdirAll(normalized, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	return &Store{basePath: normalized, now: time.Now}, nil
}

// BasePath 返回上传根目录的绝对路径
func (s *Store) BasePath() string {
	return s.basePath
}

// Create 为一次上传创建新文件
//
// 文件名格式为 voice_<毫秒时间戳>_<随机十六进制>.<扩展名>，使用 O_EXCL 创建，
// 两次并发上传不会拿到同一路径。目录在运行期间被删除时会重新创建。
//
// 返回值:
//   - *os.File: 以写方式打开的文件，由调用方关闭
//   - string: 文件的绝对路径
//   - error: 创建失败
func (s *Store) Create(originalName, mimeType string) (*os.File, string, error) {
	if err := os.MkdirAll(s.basePath, 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	ext := SafeExtension(originalName, mimeType)

	for attempt := 0; attempt < 3; attempt++ {
		name, err := s.generateFilename(ext)
		if err != nil {
			return nil, "", err
		}

		path := filepath.Join(s.basePath, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("failed to create upload file: %w", err)
		}
	}

	return nil, "", fmt.Errorf("failed to allocate unique upload filename")
}

// Open 打开已存储的上传文件用于读取
func (s *Store) Open(path string) (*os.File, error) {
	clean := filepath.Clean(path)
	if !isWithin(s.basePath, clean) {
		return nil, fmt.Errorf("path outside upload directory: %s", path)
	}
	return os.Open(clean)
}

// Remove 删除上传文件
//
// 文件不存在时视为成功，重复调用是安全的。拒绝删除上传目录之外的路径。
func (s *Store) Remove(path string) error {
	clean := filepath.Clean(path)
	if !isWithin(s.basePath, clean) {
		return fmt.Errorf("refusing to remove path outside upload directory: %s", path)
	}

	if err := os.Remove(clean); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove upload: %w", err)
	}
	return nil
}

// ListExpired 返回修改时间早于 maxAge 的上传文件路径
func (s *Store) ListExpired(maxAge time.Duration) ([]string, error) {
	cutoff := s.now().Add(-maxAge)

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var expired []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), uploadPrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			expired = append(expired, filepath.Join(s.basePath, entry.Name()))
		}
	}

	return expired, nil
}

// Check 验证上传目录可写，用于就绪检查
func (s *Store) Check() error {
	f, err := os.CreateTemp(s.basePath, ".writecheck-*")
	if err != nil {
		return fmt.Errorf("upload directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// GetStorageStats 获取上传目录统计信息
func (s *Store) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{BasePath: s.basePath}

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stats, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), uploadPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.FileCount++
		stats.TotalBytes += info.Size()
	}

	stats.TotalMB = float64(stats.TotalBytes) / 1024 / 1024
	return stats, nil
}

// generateFilename 生成服务端文件名
func (s *Store) generateFilename(ext string) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random filename: %w", err)
	}
	return fmt.Sprintf("%s%d_%s%s", uploadPrefix, s.now().UnixMilli(), hex.EncodeToString(buf), ext), nil
}
