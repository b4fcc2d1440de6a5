// internal/api/router.go
package api

import (
	"fmt"
	"time"

	"github.com/Corphon/CompanionStories/internal/di"
	"github.com/gin-gonic/gin"
)

// 默认限流：每个IP每分钟300次
const (
	defaultRateLimit  = 300
	defaultRateWindow = time.Minute
)

// SetupRouter 配置HTTP路由
func SetupRouter(container *di.Container, hub *NavigationHub, limiter *RateLimiter) (*gin.Engine, error) {
	cfg := container.Config

	engine := container.Engine()
	if engine == nil {
		return nil, fmt.Errorf("故事引擎未正确初始化")
	}
	store := container.Store()
	if store == nil {
		return nil, fmt.Errorf("状态存储未正确初始化")
	}
	milestones := container.Milestones()
	if milestones == nil {
		return nil, fmt.Errorf("里程碑服务未正确初始化")
	}
	repository := container.Repository()
	if repository == nil {
		return nil, fmt.Errorf("内容仓库未正确初始化")
	}

	handler := NewHandler(engine, store, milestones, repository, hub, container.Logger())

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(container.Logger()))
	r.Use(corsMiddleware())

	// 本地内容目录直接作为静态资源提供（头像等）
	if !cfg.UsesRemoteContent() {
		r.Static("/content", cfg.ContentDir)
	}

	r.GET("/metrics", gin.WrapH(container.Metrics().Handler()))
	r.GET("/ws/story", handler.StoryWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(limiter.Middleware(defaultRateLimit, defaultRateWindow))
	{
		api.GET("/health", handler.Health)

		// ===============================
		// 角色与内容
		// ===============================
		charactersGroup := api.Group("/characters")
		{
			charactersGroup.GET("", handler.GetCharacters)
			charactersGroup.GET("/:id/events", handler.GetCharacterEvents)
		}

		// ===============================
		// 故事导航
		// ===============================
		storyGroup := api.Group("/story")
		{
			storyGroup.GET("/current", handler.GetCurrentStory)
			storyGroup.POST("/start", handler.StartStory)
			storyGroup.POST("/continue", handler.ContinueStory)
			storyGroup.POST("/choice", handler.MakeChoice)
			storyGroup.POST("/jump", handler.JumpToEvent)
			storyGroup.POST("/ending/collect", handler.CollectEnding)
			storyGroup.POST("/reset", handler.ResetStory)
		}

		// ===============================
		// 玩家状态
		// ===============================
		stateGroup := api.Group("/state")
		{
			stateGroup.GET("", handler.GetState)
			stateGroup.DELETE("", handler.ClearState)
			stateGroup.GET("/recent", handler.GetRecentVisits)
			stateGroup.GET("/endings", handler.GetCollectedEndings)
			stateGroup.GET("/dual/:character_id", handler.GetDualChoice)
			stateGroup.POST("/companionships", handler.RecordCompanionship)
		}

		// ===============================
		// 里程碑
		// ===============================
		milestonesGroup := api.Group("/milestones")
		{
			milestonesGroup.GET("/hub", handler.GetHubStatus)
			milestonesGroup.POST("/:name/shown", handler.MarkMilestoneShown)
		}

		api.GET("/ws/status", handler.GetWebSocketStatus)
	}

	return r, nil
}
