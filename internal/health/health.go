package health

import (
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// 检查超时与协程上限
const (
	checkTimeout      = 3 * time.Second
	maxGoroutineCount = 10000
)

// Checkable 可执行健康检查的依赖
type Checkable interface {
	Health() error
}

// CheckFunc 将普通函数适配为 Checkable
type CheckFunc func() error

// Health 实现 Checkable
func (f CheckFunc) Health() error {
	return f()
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	logger *zap.Logger
	now    func() time.Time
}

// NewHealthChecker 创建健康检查器
//
// 参数:
//   - readiness: 就绪检查项，名称到依赖的映射（上传目录、提交日志等）
//   - logger: 日志记录器
func NewHealthChecker(readiness map[string]Checkable, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}

	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		logger: logger,
		now:    time.Now,
	}

	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutineCount))

	for name, dep := range readiness {
		hc.health.AddReadinessCheck(name, healthcheck.Timeout(hc.logged(name, dep), checkTimeout))
	}

	return hc
}

// logged 包装检查项，失败时记录日志
func (hc *HealthChecker) logged(name string, dep Checkable) healthcheck.Check {
	return func() error {
		if err := dep.Health(); err != nil {
			hc.logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			return err
		}
		return nil
	}
}

// Handler 返回健康检查处理器，提供 /live 与 /ready 两个端点
//
// 追加 ?full=1 可以查看每一项检查的结果。
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// Status 返回基本存活响应
func (hc *HealthChecker) Status() map[string]string {
	return map[string]string{
		"status":    "OK",
		"timestamp": hc.now().UTC().Format(time.RFC3339),
	}
}
