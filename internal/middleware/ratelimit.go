package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// 空闲超过该时间的 IP 记录会被回收
const limiterIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter 按客户端 IP 的令牌桶限流器
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
	onBlock  func()
	log      *zap.Logger
}

// NewIPRateLimiter 创建限流器
//
// 参数:
//   - perMinute: 每分钟允许的请求数
//   - burst: 突发容量
//   - onBlock: 请求被拒绝时回调（用于指标），可为 nil
//   - logger: 日志记录器
func NewIPRateLimiter(perMinute, burst int, onBlock func(), logger *zap.Logger) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IPRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		now:      time.Now,
		onBlock:  onBlock,
		log:      logger,
	}
}

// Allow 检查该 IP 是否还有可用令牌
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[ip]
	if !ok {
		l.evictIdle(now)
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now

	return v.limiter.AllowN(now, 1)
}

// evictIdle 回收长时间未出现的 IP，调用方需持有锁
func (l *IPRateLimiter) evictIdle(now time.Time) {
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > limiterIdleTTL {
			delete(l.visitors, ip)
		}
	}
}

// Middleware 返回 gin 中间件，超限时返回 429
func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	retryAfter := "60"
	if l.limit > 0 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / float64(l.limit))))
	}

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if l.Allow(ip) {
			c.Next()
			return
		}

		if l.onBlock != nil {
			l.onBlock()
		}
		l.log.Warn("Rate limit exceeded", zap.String("ip", ip), zap.String("path", c.Request.URL.Path))

		c.Header("Retry-After", retryAfter)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"error":   "Trop de requêtes, veuillez réessayer plus tard",
		})
		c.Abort()
	}
}
