package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"contactform/backend/internal/config"
	"contactform/backend/internal/domain"
)

// Log 使用 Redis 列表保存提交记录
//
// RPUSH 是原子操作，多个实例并发追加不会交错。
type Log struct {
	rdb    *goredis.Client
	key    string
	logger *zap.Logger
}

// NewLog 连接 Redis 并创建提交日志
func NewLog(cfg config.RedisConfig, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis submission log",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
		zap.String("key", cfg.Key))

	return &Log{rdb: rdb, key: cfg.Key, logger: logger}, nil
}

// Append 将提交记录追加到列表尾部
func (l *Log) Append(ctx context.Context, sub *domain.Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return domain.NewStorageError("encode submission", err)
	}

	if err := l.rdb.RPush(ctx, l.key, data).Err(); err != nil {
		return domain.NewStorageError("rpush submission", err)
	}
	return nil
}

// ListAll 按追加顺序返回全部记录，无法解析的条目会被跳过
func (l *Log) ListAll(ctx context.Context) ([]domain.Submission, error) {
	raw, err := l.rdb.LRange(ctx, l.key, 0, -1).Result()
	if err != nil {
		return nil, domain.NewStorageError("lrange submissions", err)
	}

	out := make([]domain.Submission, 0, len(raw))
	for i, item := range raw {
		var sub domain.Submission
		if err := json.Unmarshal([]byte(item), &sub); err != nil {
			l.logger.Warn("Skipping corrupt submission log entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

// Health 检查 Redis 连接
func (l *Log) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return l.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (l *Log) Close() error {
	return l.rdb.Close()
}
