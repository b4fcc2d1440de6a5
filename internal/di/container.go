// internal/di/container.go
package di

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Corphon/CompanionStories/internal/config"
	"github.com/Corphon/CompanionStories/internal/services"
	"github.com/Corphon/CompanionStories/internal/storage"
	"github.com/Corphon/CompanionStories/internal/utils"
)

// 服务注册名
const (
	ServiceLogger     = "logger"
	ServiceMetrics    = "metrics"
	ServiceBackend    = "backend"
	ServiceRepository = "repository"
	ServiceValidator  = "validator"
	ServiceStore      = "store"
	ServiceEngine     = "engine"
	ServiceMilestones = "milestones"
	ServiceWatcher    = "watcher"
)

// Container 是一个简单的依赖注入容器
type Container struct {
	Config *config.Config

	services map[string]interface{}
	mutex    sync.RWMutex
}

// NewContainer 创建一个新的依赖注入容器
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		Config:   cfg,
		services: make(map[string]interface{}),
	}
}

// Build 按依赖顺序创建并注册全部服务。引擎尚未初始化。
func Build(cfg *config.Config, logger *utils.Logger) (*Container, error) {
	c := NewContainer(cfg)
	metrics := utils.NewMetricsCollector()

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	var source services.ContentSource
	if cfg.UsesRemoteContent() {
		source = services.NewHTTPSource(cfg.ContentURL, cfg.HTTPTimeout)
	} else {
		source = services.NewDirSource(cfg.ContentDir, storage.NewFileCacheService(5*time.Minute))
	}

	repo := services.NewContentRepository(source, logger, metrics)
	validator := services.NewContentValidator(cfg.StrictSceneChoices)
	store := services.NewStateStore(backend, cfg.StorageKey, logger, metrics)
	engine := services.NewStoryEngine(repo, validator, store, logger, metrics, services.DualChoicePoints{
		First:  cfg.DualChoiceFirst,
		Second: cfg.DualChoiceSecond,
	})
	milestones := services.NewMilestoneEvaluator(store)

	c.Register(ServiceLogger, logger)
	c.Register(ServiceMetrics, metrics)
	c.Register(ServiceBackend, backend)
	c.Register(ServiceRepository, repo)
	c.Register(ServiceValidator, validator)
	c.Register(ServiceStore, store)
	c.Register(ServiceEngine, engine)
	c.Register(ServiceMilestones, milestones)

	if cfg.WatchContent && !cfg.UsesRemoteContent() {
		c.Register(ServiceWatcher, services.NewContentWatcher(cfg.ContentDir, repo, validator, logger, nil))
	}

	logger.Info("服务容器构建完成", map[string]interface{}{
		"content": source.Describe(),
		"backend": cfg.StorageBackend,
		"count":   len(c.GetNames()),
	})
	return c, nil
}

// openBackend 根据配置打开持久化后端
func openBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
		return storage.OpenSQLite(filepath.Join(cfg.DataDir, "companion_stories.db"))
	case config.BackendFile, "":
		return storage.NewFileStorage(cfg.DataDir)
	default:
		return nil, fmt.Errorf("不支持的存储后端: %s", cfg.StorageBackend)
	}
}

// Register 在容器中注册一个服务实例
func (c *Container) Register(name string, service interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.services[name] = service
}

// Get 从容器中获取一个服务实例
func (c *Container) Get(name string) interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	service, exists := c.services[name]
	if !exists {
		return nil
	}

	return service
}

// Has 检查容器中是否存在指定名称的服务
func (c *Container) Has(name string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	_, exists := c.services[name]
	return exists
}

// GetNames 获取所有已注册服务的名称（按字母排序）
func (c *Container) GetNames() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Logger 日志器
func (c *Container) Logger() *utils.Logger {
	logger, _ := c.Get(ServiceLogger).(*utils.Logger)
	return logger
}

// Metrics 指标收集器
func (c *Container) Metrics() *utils.MetricsCollector {
	metrics, _ := c.Get(ServiceMetrics).(*utils.MetricsCollector)
	return metrics
}

// Repository 内容仓库
func (c *Container) Repository() *services.ContentRepository {
	repo, _ := c.Get(ServiceRepository).(*services.ContentRepository)
	return repo
}

// Validator 内容校验器
func (c *Container) Validator() *services.ContentValidator {
	validator, _ := c.Get(ServiceValidator).(*services.ContentValidator)
	return validator
}

// Store 状态存储
func (c *Container) Store() *services.StateStore {
	store, _ := c.Get(ServiceStore).(*services.StateStore)
	return store
}

// Engine 故事引擎
func (c *Container) Engine() *services.StoryEngine {
	engine, _ := c.Get(ServiceEngine).(*services.StoryEngine)
	return engine
}

// Milestones 里程碑计算器
func (c *Container) Milestones() *services.MilestoneEvaluator {
	milestones, _ := c.Get(ServiceMilestones).(*services.MilestoneEvaluator)
	return milestones
}

// Watcher 内容监听器，未启用时为 nil
func (c *Container) Watcher() *services.ContentWatcher {
	watcher, _ := c.Get(ServiceWatcher).(*services.ContentWatcher)
	return watcher
}

// Close 释放持久化后端
func (c *Container) Close() error {
	backend, ok := c.Get(ServiceBackend).(storage.Backend)
	if !ok || backend == nil {
		return nil
	}
	return backend.Close()
}
