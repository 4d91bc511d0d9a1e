// Package main 是聊天网关服务的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"image-chat-go/internal/config"
	"image-chat-go/internal/handler"
	"image-chat-go/internal/middleware"
	"image-chat-go/internal/repository"
	"image-chat-go/internal/service"
	"image-chat-go/pkg/backend"
	"image-chat-go/pkg/database"
	"image-chat-go/pkg/log"
	"image-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化历史存储，file 与 redis 二选一
	var historyRepo repository.HistoryRepository
	switch cfg.History.Backend {
	case "redis":
		database.InitRedis(cfg.History.Redis.Addr, cfg.History.Redis.Password, cfg.History.Redis.DB)
		historyRepo = repository.NewRedisHistoryRepository(database.RDB)
	default:
		repo, err := repository.NewFileHistoryRepository(cfg.History.DataDir)
		if err != nil {
			log.Fatal("初始化文件历史存储失败", err)
		}
		historyRepo = repo
	}

	// 4. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.Session.Secret, cfg.Session.TokenExpireHours)
	backendClient := backend.NewClient(cfg.Backend)
	conversationService := service.NewConversationService(historyRepo, backendClient, cfg.Upload)
	sessionService := service.NewSessionService(historyRepo, conversationService, jwtManager, cfg.Session)

	// 5. 初始化 Handler，聊天 handler 同时充当 websocket 推送器
	sessionHandler := handler.NewSessionHandler(sessionService)
	chatHandler := handler.NewChatHandler(conversationService, sessionService, jwtManager)
	conversationService.SetNotifier(chatHandler)

	// 6. 恢复上次退出前的登录状态与会话历史
	sessionService.Restore(context.Background())

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		session := apiV1.Group("/session")
		{
			// 无需认证的路由 (公开访问)
			session.POST("/login", sessionHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := session.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, sessionService))
			{
				authed.POST("/logout", sessionHandler.Logout)
				authed.GET("/me", sessionHandler.GetProfile)
			}
		}

		// Chat 路由组，需要认证
		chat := apiV1.Group("/chat")
		chat.Use(middleware.AuthMiddleware(jwtManager, sessionService))
		{
			chat.GET("/messages", chatHandler.GetMessages)
			chat.PUT("/input", chatHandler.SetInput)
			chat.POST("/attachments", chatHandler.AddAttachments)
			chat.DELETE("/attachments", chatHandler.RemoveAttachments)
			chat.POST("/send", chatHandler.Send)
			chat.DELETE("/history", chatHandler.ClearHistory)
			chat.GET("/websocket-token", chatHandler.GetWebsocketToken)
		}
	}

	// WebSocket 路由使用一次性令牌认证，不走 Bearer 中间件
	r.GET("/chat/:token", chatHandler.Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
