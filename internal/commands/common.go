package commands

import (
	"fmt"
	"os"

	"github.com/Corphon/CompanionStories/internal/config"
	"github.com/Corphon/CompanionStories/internal/di"
	"github.com/Corphon/CompanionStories/internal/utils"
)

// Verbose 打开调试日志
var Verbose bool

// openContainer 按环境配置构建服务容器，日志写到标准错误
func openContainer() (*di.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	level := utils.ParseLogLevel(cfg.LogLevel)
	if Verbose {
		level = utils.DEBUG
	} else if level < utils.WARNING {
		level = utils.WARNING
	}

	container, err := di.Build(cfg, utils.NewLogger(os.Stderr, level, cfg.LogJSON))
	if err != nil {
		return nil, fmt.Errorf("初始化服务失败: %w", err)
	}
	return container, nil
}
