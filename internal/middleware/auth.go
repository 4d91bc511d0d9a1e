// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"image-chat-go/internal/service"
	"image-chat-go/pkg/token"
)

// AuthMiddleware 创建一个 Gin 中间件，用于会话 token 认证。
// 它从请求头中提取 token，验证有效性，并确认 token 对应的就是
// 当前活跃会话的用户（网关只有一个活跃会话槽位），随后把身份
// 存入 Gin 的上下文。
func AuthMiddleware(jwtManager *token.JWTManager, sessionService service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 从 Authorization 请求头中获取 token
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权头"})
			return
		}

		// Token 以 "Bearer <token>" 的形式提供
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的授权头格式"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifySessionToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}

		// token 有效但会话已被登出或切换到了别的用户时同样拒绝
		current := sessionService.Current()
		if current == nil || current.Email != claims.Email {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "会话已失效，请重新登录"})
			return
		}

		// 将身份存储在 context 中，供后续处理函数使用
		c.Set("identity", current)
		c.Next()
	}
}
