// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"image-chat-go/internal/model"
	"image-chat-go/internal/service"
	"image-chat-go/pkg/log"
)

// SessionHandler 负责处理所有与会话相关的 API 请求。
type SessionHandler struct {
	sessionService service.SessionService
}

// NewSessionHandler 创建一个新的 SessionHandler 实例。
func NewSessionHandler(sessionService service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// LoginRequest 定义了登录 API 的请求体结构。
// Credential 是身份提供方下发的 JWT 凭证，由浏览器端登录组件转交。
type LoginRequest struct {
	Credential string `json:"credential" binding:"required"`
}

// Login 处理用户登录请求：替换活跃身份并加载该用户自己的历史。
func (h *SessionHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：credential 不能为空",
		})
		return
	}

	identity, sessionToken, err := h.sessionService.Login(c.Request.Context(), req.Credential)
	if err != nil {
		log.Warnf("Login: Failed to establish session, error: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    http.StatusUnauthorized,
			"message": "登录失败：无效的身份凭证",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Login successful",
		"data": gin.H{
			"token": sessionToken,
			"user":  identity,
		},
	})
}

// Logout 处理用户登出请求。只销毁会话，持久化的历史保留。
func (h *SessionHandler) Logout(c *gin.Context) {
	if err := h.sessionService.Logout(c.Request.Context()); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    http.StatusUnauthorized,
			"message": "当前没有活跃会话",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "登出成功",
	})
}

// GetProfile 返回当前登录用户的身份信息。
// 身份已经由 AuthMiddleware 注入到上下文中。
func (h *SessionHandler) GetProfile(c *gin.Context) {
	identityValue, exists := c.Get("identity")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}
	identity := identityValue.(*model.UserIdentity)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": identity, "message": "success"})
}
