package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"image-chat-go/pkg/log"
)

// RequestLogger 是一个 Gin 中间件，用于记录请求日志。
// 聊天请求体里可能带着整份图片的 multipart 内容，所以这里
// 只记录元信息，不回放请求/响应体。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", latency.String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)
	}
}
