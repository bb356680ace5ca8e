package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"contactform/backend/internal/auth/jwt"
)

// JWTAuth 管理端 JWT 认证中间件
type JWTAuth struct {
	jwtManager *jwt.Manager
	log        *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件；jwtManager 为 nil 表示未配置管理密钥，不做认证
func NewJWTAuth(jwtManager *jwt.Manager, logger *zap.Logger) *JWTAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWTAuth{
		jwtManager: jwtManager,
		log:        logger,
	}
}

// RequireAdmin 要求管理员令牌
func (ja *JWTAuth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ja.jwtManager == nil {
			c.Next()
			return
		}

		token := ja.extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Authentification requise",
			})
			c.Abort()
			return
		}

		claims, err := ja.jwtManager.ValidateToken(token)
		if err != nil {
			ja.log.Warn("invalid admin token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Jeton invalide ou expiré",
			})
			c.Abort()
			return
		}

		c.Set("adminSubject", claims.Subject)
		c.Next()
	}
}

// extractToken 从请求中提取JWT token
func (ja *JWTAuth) extractToken(c *gin.Context) string {
	// 1. 从 Authorization header 提取
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	// 2. 从 cookie 提取
	token, err := c.Cookie("admin_token")
	if err == nil && token != "" {
		return token
	}

	return ""
}
