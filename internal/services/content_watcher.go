// internal/services/content_watcher.go
package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/CompanionStories/internal/utils"
	"github.com/fsnotify/fsnotify"
)

// ValidationHandler 接收重新校验的结果；err 非空表示内容无法加载
type ValidationHandler func(result ValidationResult, err error)

// ContentWatcher 监听本地内容目录，文件变化后重新加载并校验。
// 正在进行的会话不受影响，内容只在下次启动时生效。
type ContentWatcher struct {
	root      string
	repo      *ContentRepository
	validator *ContentValidator
	logger    *utils.Logger
	debounce  time.Duration
	handler   ValidationHandler

	mu    sync.Mutex
	timer *time.Timer
}

// NewContentWatcher 创建内容监听器
func NewContentWatcher(root string, repo *ContentRepository, validator *ContentValidator, logger *utils.Logger, handler ValidationHandler) *ContentWatcher {
	return &ContentWatcher{
		root:      root,
		repo:      repo,
		validator: validator,
		logger:    logger,
		debounce:  500 * time.Millisecond,
		handler:   handler,
	}
}

// SetDebounce 设置合并连续变化的等待时间
func (w *ContentWatcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// SetHandler 设置结果回调，须在 Run 之前调用
func (w *ContentWatcher) SetHandler(handler ValidationHandler) {
	w.handler = handler
}

// Revalidate 立即重新加载并校验内容
func (w *ContentWatcher) Revalidate(ctx context.Context) (ValidationResult, error) {
	snapshot, err := w.repo.LoadContent(ctx)
	if err != nil {
		return ValidationResult{}, err
	}
	return w.validator.ValidateSnapshot(snapshot), nil
}

// Run 阻塞监听直到 ctx 结束
func (w *ContentWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听器失败: %w", err)
	}
	defer watcher.Close()

	if err := w.addTree(watcher); err != nil {
		return err
	}

	w.logger.Info("开始监听内容目录", map[string]interface{}{"root": w.root})

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// 新建的故事目录也要加入监听
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						w.logger.Warnf("监听新目录失败 %s: %v", event.Name, err)
					}
					continue
				}
			}

			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			w.schedule(ctx, event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnf("内容监听错误: %v", err)
		}
	}
}

// addTree 监听内容根目录、stories 目录及每个故事子目录
func (w *ContentWatcher) addTree(watcher *fsnotify.Watcher) error {
	absRoot, err := filepath.Abs(w.root)
	if err != nil {
		return fmt.Errorf("获取内容目录绝对路径失败: %w", err)
	}

	if err := watcher.Add(absRoot); err != nil {
		return fmt.Errorf("监听目录 %s 失败: %w", absRoot, err)
	}

	storiesRoot := filepath.Join(absRoot, storiesDir)
	entries, err := os.ReadDir(storiesRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("读取故事目录失败: %w", err)
	}

	if err := watcher.Add(storiesRoot); err != nil {
		return fmt.Errorf("监听目录 %s 失败: %w", storiesRoot, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(storiesRoot, entry.Name())
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("监听目录 %s 失败: %w", dir, err)
		}
	}
	return nil
}

// schedule 合并短时间内的多次变化，只校验一次
func (w *ContentWatcher) schedule(ctx context.Context, changed string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}

		w.logger.Info("检测到内容变化，重新校验", map[string]interface{}{"file": changed})
		result, err := w.Revalidate(ctx)
		switch {
		case err != nil:
			w.logger.Error("内容重新加载失败", map[string]interface{}{"error": err.Error()})
		case !result.Valid:
			w.logger.Warn("内容校验未通过", map[string]interface{}{
				"error_count": len(result.Errors),
				"errors":      result.Errors,
			})
		default:
			w.logger.Info("内容校验通过", nil)
		}

		if w.handler != nil {
			w.handler(result, err)
		}
	})
}

func (w *ContentWatcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
