package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// BodySizeLimit 限制请求体大小的中间件
//
// Content-Length 已超限时直接调用 reject 并中止，不读取请求体；
// 其余情况用 MaxBytesReader 包装请求体，由处理器在读取时发现超限。
// reject 为 nil 时返回 413。
func BodySizeLimit(maxBytes int64, reject gin.HandlerFunc) gin.HandlerFunc {
	limit := strconv.FormatInt(maxBytes, 10)

	return func(c *gin.Context) {
		c.Header("X-Max-Body-Size", limit)

		if c.Request.ContentLength > maxBytes {
			if reject != nil {
				reject(c)
			} else {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "Request body too large"})
			}
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
