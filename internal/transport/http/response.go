package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构，与前端表单脚本约定一致
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"` // 成功提示
	Error   string `json:"error,omitempty"`   // 失败提示（面向用户）
	ID      string `json:"id,omitempty"`      // 提交编号
}

// Success 成功响应（200）
func Success(c *gin.Context, msg, id string) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Message: msg,
		ID:      id,
	})
}

// Error 错误响应；id 可为空
func Error(c *gin.Context, httpCode int, msg, id string) {
	c.JSON(httpCode, Response{
		Success: false,
		Error:   msg,
		ID:      id,
	})
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, msg, "")
}

// InternalError 服务器内部错误（500）
func InternalError(c *gin.Context, msg string) {
	Error(c, http.StatusInternalServerError, msg, "")
}
