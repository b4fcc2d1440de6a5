// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// BackendFile 每个键一个JSON文件
	BackendFile = "file"
	// BackendSQLite 嵌入式SQLite键值表
	BackendSQLite = "sqlite"

	// DefaultStorageKey 持久化记录的固定键
	DefaultStorageKey = "interactive_story_game"
)

// Config 存储应用配置
type Config struct {
	Port       string
	ContentDir string // 本地内容根目录
	ContentURL string // 远程内容根地址，非空时优先于 ContentDir
	DataDir    string
	LogDir     string
	LogLevel   string
	LogJSON    bool
	DebugMode  bool

	StorageBackend string
	StorageKey     string

	DualChoiceFirst    string // 第一处双选择点的事件ID后缀
	DualChoiceSecond   string // 第二处双选择点的事件ID后缀
	StrictSceneChoices bool   // 场景事件必须带选项（创作约定）
	WatchContent       bool   // 内容变更时重新校验

	HTTPTimeout time.Duration
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("警告: 读取 .env 文件失败: %v", err)
	}

	timeout, err := time.ParseDuration(getEnv("HTTP_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("HTTP_TIMEOUT 格式错误: %w", err)
	}

	config := &Config{
		Port:               getEnv("PORT", "8080"),
		ContentDir:         getEnv("CONTENT_DIR", "content"),
		ContentURL:         strings.TrimRight(getEnv("CONTENT_URL", ""), "/"),
		DataDir:            getEnv("DATA_DIR", "data"),
		LogDir:             getEnv("LOG_DIR", "logs"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogJSON:            getEnvBool("LOG_JSON", false),
		DebugMode:          getEnvBool("DEBUG_MODE", true),
		StorageBackend:     strings.ToLower(getEnv("STORAGE_BACKEND", BackendFile)),
		StorageKey:         getEnv("STORAGE_KEY", DefaultStorageKey),
		DualChoiceFirst:    getEnv("DUAL_CHOICE_FIRST", "_scene_003"),
		DualChoiceSecond:   getEnv("DUAL_CHOICE_SECOND", "_scene_005"),
		StrictSceneChoices: getEnvBool("STRICT_SCENE_CHOICES", false),
		WatchContent:       getEnvBool("WATCH_CONTENT", false),
		HTTPTimeout:        timeout,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate 检查配置的一致性
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("不支持的存储后端: %s", c.StorageBackend)
	}
	if strings.TrimSpace(c.StorageKey) == "" {
		return fmt.Errorf("STORAGE_KEY 不能为空")
	}
	if c.ContentURL == "" && strings.TrimSpace(c.ContentDir) == "" {
		return fmt.Errorf("必须设置 CONTENT_DIR 或 CONTENT_URL")
	}
	if c.DualChoiceFirst == "" || c.DualChoiceSecond == "" {
		return fmt.Errorf("双选择点后缀不能为空")
	}
	if c.DualChoiceFirst == c.DualChoiceSecond {
		return fmt.Errorf("双选择点后缀不能相同: %s", c.DualChoiceFirst)
	}
	return nil
}

// UsesRemoteContent 是否从远程地址加载内容
func (c *Config) UsesRemoteContent() bool {
	return c.ContentURL != ""
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}
