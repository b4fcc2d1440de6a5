// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Corphon/CompanionStories/internal/api"
	"github.com/Corphon/CompanionStories/internal/config"
	"github.com/Corphon/CompanionStories/internal/di"
	apperrors "github.com/Corphon/CompanionStories/internal/errors"
	"github.com/Corphon/CompanionStories/internal/utils"
	"github.com/gin-gonic/gin"
)

func main() {
	log.Println("🚀 启动 CompanionStories 服务器...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 2. 初始化日志
	logger, err := utils.InitLogger(cfg.LogDir, utils.ParseLogLevel(cfg.LogLevel), cfg.LogJSON)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Close()

	// 3. 构建服务容器
	container, err := di.Build(cfg, logger)
	if err != nil {
		log.Printf("初始化服务失败: %v", err)
		closeAll(logger)
		os.Exit(1)
	}
	defer container.Close()
	log.Printf("✅ 服务容器初始化完成，服务数量: %d", len(container.GetNames()))

	// 4. 加载并校验内容，校验失败时拒绝启动
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), time.Minute)
	err = container.Engine().Initialize(loadCtx)
	cancelLoad()
	if err != nil {
		reportInitFailure(os.Stderr, err)
		// os.Exit 不执行 defer
		closeAll(container, logger)
		os.Exit(1)
	}
	log.Printf("✅ 故事内容加载完成，角色数量: %d", len(container.Engine().Characters()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 导航事件广播
	hub := api.NewNavigationHub(logger)
	container.Engine().Subscribe(hub.Publish)
	go hub.Run(ctx)

	// 6. 内容变更监听（可选）
	if watcher := container.Watcher(); watcher != nil {
		watcher.SetHandler(hub.PublishValidation)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("内容监听已停止", map[string]interface{}{"error": err.Error()})
			}
		}()
		log.Printf("👀 正在监听内容目录: %s", cfg.ContentDir)
	}

	limiter := api.NewRateLimiter()
	go limiter.Run(ctx, time.Hour)

	router, err := api.SetupRouter(container, hub, limiter)
	if err != nil {
		log.Printf("❌ 设置路由失败: %v", err)
		cancel()
		closeAll(container, logger)
		os.Exit(1)
	}
	log.Println("✅ 路由设置完成")

	// 7. 启动服务器
	log.Printf("🌐 服务器启动在端口 %s", cfg.Port)
	log.Printf("🔗 访问地址: http://localhost:%s", cfg.Port)

	setupGracefulShutdown(router, cfg.Port)
}

// 优雅关闭函数
func setupGracefulShutdown(router *gin.Engine, port string) {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// 在新的 goroutine 中启动服务器
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ 启动服务器失败: %v", err)
		}
	}()

	// 等待中断信号以进行优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("❌ 服务器强制关闭: %v", err)
		return
	}

	log.Println("✅ 服务器优雅关闭完成")
}

// reportInitFailure 输出内容加载失败的原因，校验错误逐条原样列出
func reportInitFailure(w io.Writer, err error) {
	details := apperrors.ValidationDetails(err)
	if len(details) == 0 {
		fmt.Fprintf(w, "❌ 加载故事内容失败: %v\n", err)
		return
	}
	fmt.Fprintf(w, "内容校验失败，共 %d 个错误:\n", len(details))
	for _, detail := range details {
		fmt.Fprintln(w, "  - "+detail)
	}
}

// closeAll 依次关闭资源，单个失败不影响其余
func closeAll(closers ...io.Closer) {
	for _, closer := range closers {
		if err := closer.Close(); err != nil {
			log.Printf("关闭资源失败: %v", err)
		}
	}
}
