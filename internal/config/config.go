package config

import (
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host            string        // 监听地址，默认 "0.0.0.0"
	Port            int           // 监听端口，默认 3000
	RequestTimeout  time.Duration // 单个提交请求的处理上限，默认 30 秒
	ShutdownTimeout time.Duration // 优雅关闭等待时间，默认 10 秒
}

// UploadConfig 定义音频上传的限制
type UploadConfig struct {
	Dir              string   // 上传文件临时存储目录
	MaxBytes         int64    // 请求体总大小上限，默认 25MB
	FieldNames       []string // 接受的音频文件字段名
	AllowedMimeTypes []string // 允许的 MIME 类型，支持 "audio/*" 通配
}

// MailConfig 定义通知邮件的 SMTP 投递配置
type MailConfig struct {
	Host          string        // SMTP 服务器地址，留空时仅记录日志不发送
	Port          int           // SMTP 端口，默认 587
	Username      string        // 认证用户名
	Password      string        // 认证密码
	TLSMode       string        // none / starttls / tls
	From          string        // 发件人地址
	FromName      string        // 发件人显示名
	Recipient     string        // 通知收件人（固定）
	SubjectPrefix string        // 邮件主题前缀
	HelloDomain   string        // EHLO 使用的域名
	Timeout       time.Duration // 单次投递超时
}

// SubmissionLogConfig 定义提交日志的存储后端
type SubmissionLogConfig struct {
	Type   string // file / sql / redis / memory / none
	Path   string // file 类型的 JSON 文件路径
	Driver string // sql 类型的驱动: postgres / mysql / sqlite
	DSN    string // sql 类型的连接字符串
}

// RedisConfig 定义 Redis 提交日志配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号
	Key      string // 存放提交记录的列表键
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 控制台格式输出
	File        string // 日志文件路径，留空只输出到标准输出
}

// AdminConfig 定义管理端点的 JWT 认证配置
type AdminConfig struct {
	JWTSecret   string        // 留空表示管理端点不做认证
	Issuer      string        // JWT 签发者
	TokenExpiry time.Duration // 管理令牌有效期
}

// ArchiveConfig 定义上传文件在删除前的归档配置
type ArchiveConfig struct {
	Bucket string // GCS 存储桶，留空表示不归档
	Prefix string // 对象名前缀
}

// JanitorConfig 定义孤立上传文件的定时清理
type JanitorConfig struct {
	Schedule string        // cron 表达式
	MaxAge   time.Duration // 超过该时长的上传文件视为孤立文件
}

// RateLimitConfig 定义提交接口的限流
type RateLimitConfig struct {
	PerMinute int // 每个 IP 每分钟允许的提交数，0 表示不限流
	Burst     int
}

// Config 是系统配置的根结构体
type Config struct {
	Server        ServerConfig
	Upload        UploadConfig
	Mail          MailConfig
	SubmissionLog SubmissionLogConfig
	Redis         RedisConfig
	CORS          CORSConfig
	Log           LogConfig
	Admin         AdminConfig
	Archive       ArchiveConfig
	Janitor       JanitorConfig
	RateLimit     RateLimitConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: CONTACTFORM_
// 例如: CONTACTFORM_MAIL_RECIPIENT, CONTACTFORM_UPLOAD_MAX_BYTES
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("contactform")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("upload.dir", "./data/uploads")
	v.SetDefault("upload.max_bytes", 25*1024*1024)
	v.SetDefault("upload.field_names", "audio,audioFile,file")
	v.SetDefault("upload.allowed_mime_types", "audio/*,video/webm")
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.tls_mode", "starttls")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.from_name", "Formulaire de contact")
	v.SetDefault("mail.recipient", "")
	v.SetDefault("mail.subject_prefix", "Nouveau message")
	v.SetDefault("mail.hello_domain", "localhost")
	v.SetDefault("mail.timeout", "20s")
	v.SetDefault("submission_log.type", "file")
	v.SetDefault("submission_log.path", "./data/messages.json")
	v.SetDefault("submission_log.driver", "")
	v.SetDefault("submission_log.dsn", "")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "contactform:submissions")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("admin.issuer", "contactform")
	v.SetDefault("admin.token_expiry", "720h")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "voice-messages")
	v.SetDefault("janitor.schedule", "@every 1h")
	v.SetDefault("janitor.max_age", "24h")
	v.SetDefault("rate_limit.per_minute", 10)
	v.SetDefault("rate_limit.burst", 5)
}

func fromViper(v *viper.Viper) (*Config, error) {
	requestTimeout, err := time.ParseDuration(v.GetString("server.request_timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid server.request_timeout: %w", err)
	}

	shutdownTimeout, err := time.ParseDuration(v.GetString("server.shutdown_timeout"))
	if err != nil {
		shutdownTimeout = 10 * time.Second
	}

	maxBytes := v.GetInt64("upload.max_bytes")
	if maxBytes <= 0 {
		return nil, fmt.Errorf("upload.max_bytes must be positive")
	}

	fieldNames := parseList(v.GetString("upload.field_names"))
	if len(fieldNames) == 0 {
		return nil, fmt.Errorf("upload.field_names must not be empty")
	}

	mimeTypes := parseMimeTypes(v.GetString("upload.allowed_mime_types"))
	if len(mimeTypes) == 0 {
		return nil, fmt.Errorf("upload.allowed_mime_types must not be empty")
	}

	recipient := strings.TrimSpace(v.GetString("mail.recipient"))
	if recipient == "" {
		return nil, fmt.Errorf("mail.recipient is required. Please set CONTACTFORM_MAIL_RECIPIENT")
	}
	if _, err := mail.ParseAddress(recipient); err != nil {
		return nil, fmt.Errorf("invalid mail.recipient: %w", err)
	}

	from := strings.TrimSpace(v.GetString("mail.from"))
	if from == "" {
		// 与原站点一致：未配置发件人时使用认证用户名
		from = v.GetString("mail.username")
	}
	if from == "" {
		from = recipient
	}

	tlsMode := strings.ToLower(v.GetString("mail.tls_mode"))
	switch tlsMode {
	case "none", "starttls", "tls":
	default:
		return nil, fmt.Errorf("invalid mail.tls_mode %q (supported: none, starttls, tls)", tlsMode)
	}

	mailTimeout, err := time.ParseDuration(v.GetString("mail.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid mail.timeout: %w", err)
	}

	logType := strings.ToLower(v.GetString("submission_log.type"))
	switch logType {
	case "file", "memory", "none", "redis":
	case "sql":
		if v.GetString("submission_log.driver") == "" || v.GetString("submission_log.dsn") == "" {
			return nil, fmt.Errorf("submission_log.driver and submission_log.dsn are required for sql log")
		}
	default:
		return nil, fmt.Errorf("unsupported submission_log.type: %s (supported: file, sql, redis, memory, none)", logType)
	}

	adminSecret := v.GetString("admin.jwt_secret")
	if adminSecret != "" && len(adminSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: admin JWT secret must be at least 32 characters long")
	}

	tokenExpiry, err := time.ParseDuration(v.GetString("admin.token_expiry"))
	if err != nil {
		tokenExpiry = 30 * 24 * time.Hour
	}

	janitorMaxAge, err := time.ParseDuration(v.GetString("janitor.max_age"))
	if err != nil {
		return nil, fmt.Errorf("invalid janitor.max_age: %w", err)
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			RequestTimeout:  requestTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
		Upload: UploadConfig{
			Dir:              v.GetString("upload.dir"),
			MaxBytes:         maxBytes,
			FieldNames:       fieldNames,
			AllowedMimeTypes: mimeTypes,
		},
		Mail: MailConfig{
			Host:          v.GetString("mail.host"),
			Port:          v.GetInt("mail.port"),
			Username:      v.GetString("mail.username"),
			Password:      v.GetString("mail.password"),
			TLSMode:       tlsMode,
			From:          from,
			FromName:      v.GetString("mail.from_name"),
			Recipient:     recipient,
			SubjectPrefix: v.GetString("mail.subject_prefix"),
			HelloDomain:   v.GetString("mail.hello_domain"),
			Timeout:       mailTimeout,
		},
		SubmissionLog: SubmissionLogConfig{
			Type:   logType,
			Path:   v.GetString("submission_log.path"),
			Driver: strings.ToLower(v.GetString("submission_log.driver")),
			DSN:    v.GetString("submission_log.dsn"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Key:      v.GetString("redis.key"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Admin: AdminConfig{
			JWTSecret:   adminSecret,
			Issuer:      v.GetString("admin.issuer"),
			TokenExpiry: tokenExpiry,
		},
		Archive: ArchiveConfig{
			Bucket: v.GetString("archive.bucket"),
			Prefix: v.GetString("archive.prefix"),
		},
		Janitor: JanitorConfig{
			Schedule: v.GetString("janitor.schedule"),
			MaxAge:   janitorMaxAge,
		},
		RateLimit: RateLimitConfig{
			PerMinute: v.GetInt("rate_limit.per_minute"),
			Burst:     v.GetInt("rate_limit.burst"),
		},
	}

	return cfg, nil
}

// parseMimeTypes 解析并小写化 MIME 类型列表
func parseMimeTypes(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 已存在的环境变量不会被覆盖
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
