// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"image-chat-go/internal/model"
	"image-chat-go/internal/service"
	"image-chat-go/pkg/backend"
	"image-chat-go/pkg/log"
	"image-chat-go/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理会话消息相关的 API 请求与 WebSocket 消息推送。
// 它同时实现了 service.Notifier：每当有消息追加到日志，就推送给
// 该用户的所有 WebSocket 连接。
type ChatHandler struct {
	conversation   service.ConversationService
	sessionService service.SessionService
	jwtManager     *token.JWTManager

	connMu sync.Mutex
	// email -> 连接ID -> 连接
	conns map[string]map[string]*wsClient
}

// wsClient 包装一个 WebSocket 连接并串行化写操作。
// gorilla/websocket 不允许并发写同一个连接。
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(conversation service.ConversationService, sessionService service.SessionService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		conversation:   conversation,
		sessionService: sessionService,
		jwtManager:     jwtManager,
		conns:          make(map[string]map[string]*wsClient),
	}
}

// GetMessages 返回当前用户的完整消息日志。
func (h *ChatHandler) GetMessages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    h.conversation.Messages(),
	})
}

// SetInputRequest 定义了更新待发送文本 API 的请求体结构。
type SetInputRequest struct {
	Text string `json:"text"`
}

// SetInput 更新待发送文本。发送进行中时同样接受：忙碌只禁用发送动作。
func (h *ChatHandler) SetInput(c *gin.Context) {
	var req SetInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}
	h.conversation.SetText(req.Text)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// AddAttachments 处理附件暂存请求（multipart，字段名 files）。
// 批次中任何一个文件不合法则整批拒绝。
func (h *ChatHandler) AddAttachments(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 multipart 请求"})
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未包含任何文件"})
		return
	}

	attachments := make([]model.Attachment, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "未能读取上传的文件: " + fh.Filename})
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "未能读取上传的文件: " + fh.Filename})
			return
		}
		attachments = append(attachments, model.Attachment{
			Name:         fh.Filename,
			Size:         fh.Size,
			MimeType:     fh.Header.Get("Content-Type"),
			LastModified: time.Now().UnixMilli(),
			Data:         data,
		})
	}

	if err := h.conversation.AddAttachments(attachments); err != nil {
		log.Warnf("AddAttachments: 附件校验失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "附件已暂存",
		"data":    gin.H{"pending": h.conversation.Pending()},
	})
}

// RemoveAttachments 移除已暂存的附件。
// 带 index 查询参数时移除指定附件，否则移除全部。
func (h *ChatHandler) RemoveAttachments(c *gin.Context) {
	indexStr := c.Query("index")
	if indexStr == "" {
		h.conversation.ClearAttachments()
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "已移除全部附件"})
		return
	}

	index, err := strconv.Atoi(indexStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的附件下标"})
		return
	}
	if err := h.conversation.RemoveAttachment(index); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "附件已移除"})
}

// SendRequest 定义了发送 API 的请求体结构。Text 可选：
// 提供时会先覆盖待发送文本再发送。
type SendRequest struct {
	Text string `json:"text"`
}

// Send 执行一轮发送并返回本轮追加的消息。
func (h *ChatHandler) Send(c *gin.Context) {
	var req SendRequest
	// 请求体可以为空：直接发送已暂存的输入
	if err := c.ShouldBindJSON(&req); err == nil && req.Text != "" {
		h.conversation.SetText(req.Text)
	}

	appended, err := h.conversation.Send(c.Request.Context())
	if err != nil {
		h.writeSendError(c, appended, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"messages": appended},
	})
}

// writeSendError 把发送失败映射为对应的 HTTP 状态。
func (h *ChatHandler) writeSendError(c *gin.Context, appended []model.Message, err error) {
	var reqErr *backend.RequestFailedError
	switch {
	case service.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": err.Error(),
		})
	case errors.Is(err, service.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{
			"code":    http.StatusConflict,
			"message": "上一条消息还在处理中，请稍候",
		})
	case errors.Is(err, service.ErrNoActiveSession):
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    http.StatusUnauthorized,
			"message": "会话已失效，请重新登录",
		})
	case errors.As(err, &reqErr):
		log.Errorf("Send: 后端调用失败: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"code":    http.StatusBadGateway,
			"message": "AI服务暂时不可用，请稍后重试",
			"data":    gin.H{"messages": appended},
		})
	default:
		log.Error("Send: 未预期的错误", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "服务器内部错误",
		})
	}
}

// ClearHistory 清空当前用户的历史（内存和持久化）。
func (h *ChatHandler) ClearHistory(c *gin.Context) {
	if err := h.conversation.ClearHistory(c.Request.Context()); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    http.StatusUnauthorized,
			"message": "会话已失效，请重新登录",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "历史已清空"})
}

// GetWebsocketToken 为当前用户签发一次 WebSocket 握手用的短时效 token。
func (h *ChatHandler) GetWebsocketToken(c *gin.Context) {
	wsToken, err := h.sessionService.IssueWebsocketToken()
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    http.StatusUnauthorized,
			"message": "会话已失效，请重新登录",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"wsToken": wsToken},
	})
}

// Handle 处理一个传入的 WebSocket 连接：验证握手 token 后，
// 把该用户随后追加的每条消息推送到这个连接。
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifySessionToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	h.register(claims.Email, connID, conn)
	defer h.unregister(claims.Email, connID)

	log.Infof("WebSocket 连接已建立，用户: %s", claims.Email)

	// 读循环只用于感知连接关闭；推送由 MessageAppended 驱动
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Debugf("WebSocket 连接关闭: %v", err)
			break
		}
	}
}

// wsEvent 是推送到浏览器的消息事件。
type wsEvent struct {
	Type      string        `json:"type"`
	Message   model.Message `json:"message"`
	Timestamp int64         `json:"timestamp"`
}

// MessageAppended 实现 service.Notifier：把新消息推送给该用户的所有连接。
// 注册表锁只用于取连接快照，写操作在锁外进行，单个阻塞的连接
// 不会拖住其他用户的推送。
func (h *ChatHandler) MessageAppended(email string, msg model.Message) {
	h.connMu.Lock()
	targets := make(map[string]*wsClient, len(h.conns[email]))
	for id, client := range h.conns[email] {
		targets[id] = client
	}
	h.connMu.Unlock()

	event := wsEvent{Type: "message", Message: msg, Timestamp: time.Now().UnixMilli()}
	for id, client := range targets {
		if err := client.writeJSON(event); err != nil {
			log.Warnf("推送消息到 WebSocket 失败，移除连接: %v", err)
			_ = client.conn.Close()
			h.unregister(email, id)
		}
	}
}

func (h *ChatHandler) register(email, connID string, conn *websocket.Conn) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.conns[email] == nil {
		h.conns[email] = make(map[string]*wsClient)
	}
	h.conns[email][connID] = &wsClient{conn: conn}
}

func (h *ChatHandler) unregister(email, connID string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	delete(h.conns[email], connID)
	if len(h.conns[email]) == 0 {
		delete(h.conns, email)
	}
}
