// internal/services/content_source.go
package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Corphon/CompanionStories/internal/storage"
)

// ContentSource 内容来源（本地目录或远程地址），路径使用 "/" 分隔
type ContentSource interface {
	Fetch(ctx context.Context, resourcePath string) ([]byte, error)
	Exists(ctx context.Context, resourcePath string) bool
	Describe() string
}

// 内容文件布局
const (
	charactersPath = "characters.json"
	storiesDir     = "stories"
)

func storyEventsPath(characterID string) string {
	return path.Join(storiesDir, characterID, "events.json")
}

func storyMetaPath(characterID string) string {
	return path.Join(storiesDir, characterID, "meta.json")
}

// cleanResourcePath 拒绝逃出内容根目录的路径
func cleanResourcePath(resourcePath string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(resourcePath))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("资源路径不能为空")
	}
	return cleaned, nil
}

// DirSource 从本地目录读取内容，经过文件缓存
type DirSource struct {
	Root  string
	cache *storage.FileCacheService
}

// NewDirSource 创建本地目录内容源
func NewDirSource(root string, cache *storage.FileCacheService) *DirSource {
	if cache == nil {
		cache = storage.NewFileCacheService(0)
	}
	return &DirSource{Root: root, cache: cache}
}

// Fetch 读取资源
func (s *DirSource) Fetch(ctx context.Context, resourcePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleaned, err := cleanResourcePath(resourcePath)
	if err != nil {
		return nil, err
	}
	return s.cache.ReadFile(filepath.Join(s.Root, filepath.FromSlash(cleaned)))
}

// Exists 检查资源是否存在
func (s *DirSource) Exists(ctx context.Context, resourcePath string) bool {
	cleaned, err := cleanResourcePath(resourcePath)
	if err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(s.Root, filepath.FromSlash(cleaned)))
	return err == nil && !info.IsDir()
}

// Describe 内容源描述（日志用）
func (s *DirSource) Describe() string {
	return "dir:" + s.Root
}

// HTTPSource 从远程内容根地址读取内容
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSource 创建远程内容源
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) resourceURL(resourcePath string) (string, error) {
	cleaned, err := cleanResourcePath(resourcePath)
	if err != nil {
		return "", err
	}
	return s.BaseURL + "/" + cleaned, nil
}

// Fetch 读取资源，非2xx状态视为失败
func (s *HTTPSource) Fetch(ctx context.Context, resourcePath string) ([]byte, error) {
	url, err := s.resourceURL(resourcePath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 %s 失败: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	return body, nil
}

// Exists 使用 HEAD 请求检查资源
func (s *HTTPSource) Exists(ctx context.Context, resourcePath string) bool {
	url, err := s.resourceURL(resourcePath)
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Describe 内容源描述（日志用）
func (s *HTTPSource) Describe() string {
	return "http:" + s.BaseURL
}
