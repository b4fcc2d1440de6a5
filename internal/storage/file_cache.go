// internal/storage/file_cache.go
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"
)

// FileCacheService 提供只读文件的内存缓存（内容文件）
type FileCacheService struct {
	cache *cache.Cache
}

// FileCacheEntry 缓存条目
type FileCacheEntry struct {
	Data    []byte
	ModTime time.Time // 用于检测文件是否被修改
	Size    int64
}

// NewFileCacheService 创建文件缓存服务
func NewFileCacheService(expiration time.Duration) *FileCacheService {
	if expiration <= 0 {
		expiration = 5 * time.Minute // 默认5分钟过期
	}

	return &FileCacheService{
		cache: cache.New(expiration, 2*expiration),
	}
}

// ReadFile 读取文件并缓存，文件被修改后缓存自动失效
func (s *FileCacheService) ReadFile(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("获取文件绝对路径失败: %w", err)
	}

	fileInfo, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	if fileInfo.IsDir() {
		return nil, fmt.Errorf("路径是目录而不是文件: %s", path)
	}

	if value, found := s.cache.Get(absPath); found {
		entry := value.(*FileCacheEntry)
		if entry.ModTime.Equal(fileInfo.ModTime()) && entry.Size == fileInfo.Size() {
			return entry.Data, nil
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}

	s.cache.Set(absPath, &FileCacheEntry{
		Data:    data,
		ModTime: fileInfo.ModTime(),
		Size:    fileInfo.Size(),
	}, cache.DefaultExpiration)

	return data, nil
}

// DeleteFromCache 从缓存中删除条目
func (s *FileCacheService) DeleteFromCache(path string) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return
	}
	s.cache.Delete(absPath)
}

// ClearCache 清空缓存
func (s *FileCacheService) ClearCache() {
	s.cache.Flush()
}

// Len 当前缓存条目数
func (s *FileCacheService) Len() int {
	return s.cache.ItemCount()
}
