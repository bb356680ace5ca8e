package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "contactform/backend/internal/auth/jwt"
	"contactform/backend/internal/config"
	"contactform/backend/internal/health"
	"contactform/backend/internal/middleware"
	"contactform/backend/internal/monitoring"
	"contactform/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config       *config.Config
	Submissions  SubmissionService
	JWTManager   *jwtpkg.Manager // 为 nil 时管理端点不做认证
	WebSocketHub *websocket.Hub  // 可为 nil
	Health       *health.HealthChecker
	Metrics      *monitoring.Metrics // 可为 nil
	Logger       *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()

	var onPanic func()
	if deps.Metrics != nil {
		onPanic = deps.Metrics.RecordPanic
		router.Use(middleware.HTTPMetrics(deps.Metrics))
	}
	router.Use(middleware.RecoveryHandler(logger, onPanic))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	submissions := NewSubmissionHandler(deps.Submissions, deps.Config.Upload.MaxBytes, logger)
	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, logger)

	// 提交接口：限流 + 请求体大小限制
	uploadChain := []gin.HandlerFunc{}
	if rl := deps.Config.RateLimit; rl.PerMinute > 0 {
		var onBlock func()
		if deps.Metrics != nil {
			onBlock = deps.Metrics.RecordRateLimitBlock
		}
		limiter := middleware.NewIPRateLimiter(rl.PerMinute, rl.Burst, onBlock, logger)
		uploadChain = append(uploadChain, limiter.Middleware())
	}
	uploadChain = append(uploadChain,
		middleware.BodySizeLimit(deps.Config.Upload.MaxBytes, submissions.RejectTooLarge),
		submissions.Upload,
	)

	router.POST("/upload", uploadChain...)
	router.POST("/api/send-message", uploadChain...)

	// 管理端点
	admin := router.Group("", jwtAuth.RequireAdmin())
	{
		admin.GET("/messages", submissions.List)
		admin.GET("/submissions", submissions.List)
	}

	if deps.WebSocketHub != nil {
		router.GET("/ws/submissions", websocket.HandleWebSocket(deps.WebSocketHub))
	}

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Health.Status())
	})
	healthHandler := gin.WrapH(http.StripPrefix("/health", deps.Health.Handler()))
	router.GET("/health/live", healthHandler)
	router.GET("/health/ready", healthHandler)

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	return router
}
