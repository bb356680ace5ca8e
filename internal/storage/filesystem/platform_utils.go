package filesystem

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"
	"unicode/utf8"
)

// 上传文件扩展名的最大长度（含点）
const maxExtensionLength = 10

// mimeExtensions 无法从原始文件名得到扩展名时按 MIME 类型推断
var mimeExtensions = map[string]string{
	"audio/webm":  ".webm",
	"video/webm":  ".webm",
	"audio/ogg":   ".ogg",
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/mp4":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/aac":   ".aac",
	"audio/flac":  ".flac",
}

// SanitizeFilename 清理文件名，确保跨平台兼容
//
// 原始文件名只用于展示（邮件附件名、日志），不会作为磁盘路径。
func SanitizeFilename(filename string) string {
	// 统一分隔符后取最后一段，Linux 上 filepath.Base 不识别反斜杠
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)

	filename = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, filename)

	for _, char := range invalidChars() {
		filename = strings.ReplaceAll(filename, char, "_")
	}

	filename = limitLength(filename, 200)
	filename = strings.Trim(filename, " .")

	if filename == "" || filename == "/" {
		filename = "unnamed"
	}

	return filename
}

// SafeExtension 返回用于磁盘文件名的扩展名（小写，仅字母数字）
//
// 优先使用原始文件名的扩展名，其次按 MIME 类型推断，都失败时返回 ".bin"。
func SafeExtension(originalName, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(SanitizeFilename(originalName)))
	if isSafeExtension(ext) {
		return ext
	}

	base := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if ext, ok := mimeExtensions[base]; ok {
		return ext
	}

	return ".bin"
}

func isSafeExtension(ext string) bool {
	if len(ext) < 2 || len(ext) > maxExtensionLength || ext[0] != '.' {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func invalidChars() []string {
	if runtime.GOOS == "windows" {
		return []string{"<", ">", ":", "\"", "|", "?", "*", "\\", "/", "\x00"}
	}
	return []string{"/", "\x00"}
}

// limitLength 限制字符串长度，保留扩展名
func limitLength(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	ext := filepath.Ext(s)
	nameWithoutExt := strings.TrimSuffix(s, ext)

	availableLen := maxLen - len(ext)
	if availableLen <= 0 {
		return truncateUTF8(s, maxLen)
	}

	return truncateUTF8(nameWithoutExt, availableLen) + ext
}

// truncateUTF8 按字节截断，但不会切开多字节字符
func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

// ValidatePath 验证存储根目录是否安全
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is empty")
	}

	if len(path) > 2000 {
		return fmt.Errorf("path too long: %d characters", len(path))
	}

	for _, elem := range strings.Split(filepath.ToSlash(path), "/") {
		if elem == ".." {
			return fmt.Errorf("path traversal detected: %s", path)
		}
	}

	return nil
}

// NormalizePath 转换为干净的绝对路径
func NormalizePath(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(absPath)
}

// isWithin 判断 target 是否位于 base 目录内
func isWithin(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
