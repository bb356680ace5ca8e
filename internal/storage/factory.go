package storage

import (
	"fmt"

	"go.uber.org/zap"

	"contactform/backend/internal/config"
	"contactform/backend/internal/storage/jsonfile"
	"contactform/backend/internal/storage/memory"
	"contactform/backend/internal/storage/redis"
	"contactform/backend/internal/storage/sql"
)

// NewSubmissionLog 根据配置创建提交日志后端
func NewSubmissionLog(cfg *config.Config, logger *zap.Logger) (SubmissionLog, error) {
	switch cfg.SubmissionLog.Type {
	case "file":
		logger.Info("Using JSON file submission log", zap.String("path", cfg.SubmissionLog.Path))
		log, err := jsonfile.NewLog(cfg.SubmissionLog.Path, logger.Named("submission_log"))
		if err != nil {
			return nil, err
		}
		return log, nil
	case "sql":
		logger.Info("Using SQL submission log", zap.String("driver", cfg.SubmissionLog.Driver))
		log, err := sql.NewLog(cfg.SubmissionLog.Driver, cfg.SubmissionLog.DSN)
		if err != nil {
			return nil, err
		}
		return log, nil
	case "redis":
		log, err := redis.NewLog(cfg.Redis, logger.Named("submission_log"))
		if err != nil {
			return nil, err
		}
		return log, nil
	case "memory":
		logger.Warn("Using in-memory submission log, entries are lost on restart")
		return memory.NewLog(), nil
	case "none":
		logger.Info("Submission log disabled")
		return NopLog{}, nil
	default:
		return nil, fmt.Errorf("unsupported submission log type: %s", cfg.SubmissionLog.Type)
	}
}
