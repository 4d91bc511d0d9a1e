// Package main 是模拟图像处理后端的入口点。
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
	"image-chat-go/internal/middleware"
	"image-chat-go/internal/mockapi"
	"image-chat-go/pkg/log"
	"image-chat-go/pkg/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/mockapi.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化图片暂存，memory 与 minio 二选一
	ttl := time.Duration(cfg.Mock.ImageTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	var store mockapi.ImageStore
	switch cfg.Mock.ImageStore {
	case "minio":
		storage.InitMinIO(cfg.MinIO)
		store = mockapi.NewMinioImageStore(cfg.MinIO)
	default:
		store = mockapi.NewMemoryImageStore(ttl)
	}
	defer func() { _ = store.Close() }()

	// 4. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	processHandler := mockapi.NewProcessHandler(cfg.Mock, store)
	r.POST("/process/", processHandler.Process)
	r.GET("/image/:id", processHandler.GetImage)
	r.GET("/models", processHandler.GetModels)
	r.GET("/health", processHandler.Health)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("模拟后端启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("模拟后端已优雅关闭")
}
