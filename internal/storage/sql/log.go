package sql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"contactform/backend/internal/domain"
)

// 连接池参数
const (
	maxOpenConns    = 10
	maxIdleConns    = 2
	connMaxLifetime = time.Hour
)

// SubmissionRecord 提交日志表的一行
//
// Seq 自增主键决定追加顺序；完整的提交以 JSON 保存在 Payload 中，
// 其余列仅用于查询和排查。
type SubmissionRecord struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement"`
	ID         string    `gorm:"type:varchar(36);uniqueIndex;not null"`
	ReceivedAt time.Time `gorm:"index;not null"`
	Status     string    `gorm:"type:varchar(16);not null"`
	HasAudio   bool      `gorm:"not null"`
	Payload    string    `gorm:"type:text;not null"`
}

// TableName 表名
func (SubmissionRecord) TableName() string {
	return "submissions"
}

// Log SQL 数据库提交日志（支持 PostgreSQL、MySQL 和 SQLite）
type Log struct {
	db     *gorm.DB
	driver string
}

// NewLog 打开数据库连接并执行迁移
//
// 参数:
//   - driver: "postgres"、"mysql" 或 "sqlite"
//   - dsn: 数据库连接字符串
func NewLog(driver, dsn string) (*Log, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if driver == "sqlite" {
		// SQLite 只允许单写者
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&SubmissionRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Log{db: db, driver: driver}, nil
}

// Append 插入一条提交记录
func (l *Log) Append(ctx context.Context, sub *domain.Submission) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return domain.NewStorageError("encode submission", err)
	}

	record := &SubmissionRecord{
		ID:         sub.ID,
		ReceivedAt: sub.ReceivedAt,
		Status:     string(sub.Status),
		HasAudio:   sub.HasAudio(),
		Payload:    string(payload),
	}

	if err := l.db.WithContext(ctx).Create(record).Error; err != nil {
		return domain.NewStorageError("insert submission", err)
	}
	return nil
}

// ListAll 按插入顺序返回全部记录，无法解析的行会被跳过
func (l *Log) ListAll(ctx context.Context) ([]domain.Submission, error) {
	var records []SubmissionRecord
	if err := l.db.WithContext(ctx).Order("seq asc").Find(&records).Error; err != nil {
		return nil, domain.NewStorageError("list submissions", err)
	}

	out := make([]domain.Submission, 0, len(records))
	for _, r := range records {
		var sub domain.Submission
		if err := json.Unmarshal([]byte(r.Payload), &sub); err != nil {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

// Health 检查数据库连接
func (l *Log) Health() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close 关闭数据库连接
func (l *Log) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
