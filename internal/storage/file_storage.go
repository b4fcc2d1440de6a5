// internal/storage/file_storage.go
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStorage 提供基于文件的键值存储，每个键对应 BaseDir 下的一个JSON文件
type FileStorage struct {
	BaseDir string

	// 并发控制
	fileLocks sync.Map // 文件级别锁 path -> *sync.RWMutex

	// 读缓存，按文件修改时间失效
	cache *FileCacheService
}

// NewFileStorage 创建文件存储服务
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}

	return &FileStorage{
		BaseDir: baseDir,
		cache:   NewFileCacheService(5 * time.Minute),
	}, nil
}

// 获取文件锁
func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func (fs *FileStorage) keyPath(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(fs.BaseDir, key+".json"), nil
}

// Get 读取键值
func (fs *FileStorage) Get(key string) ([]byte, bool, error) {
	fullPath, err := fs.keyPath(key)
	if err != nil {
		return nil, false, err
	}

	content, err := fs.loadFile(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return content, true, nil
}

// Set 写入键值
func (fs *FileStorage) Set(key string, data []byte) error {
	fullPath, err := fs.keyPath(key)
	if err != nil {
		return err
	}
	return fs.saveFile(fullPath, data)
}

// Remove 删除键
func (fs *FileStorage) Remove(key string) error {
	fullPath, err := fs.keyPath(key)
	if err != nil {
		return err
	}

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("删除文件失败: %w", err)
	}

	fs.cache.DeleteFromCache(fullPath)
	return nil
}

// Close 文件存储没有需要释放的资源，只清空缓存
func (fs *FileStorage) Close() error {
	fs.cache.ClearCache()
	return nil
}

// saveFile 原子性写入：先写临时文件再重命名
func (fs *FileStorage) saveFile(fullPath string, content []byte) error {
	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			return fmt.Errorf("保存文件失败: %w (清理临时文件失败: %v)", err, removeErr)
		}
		return fmt.Errorf("保存文件失败: %w", err)
	}

	fs.cache.DeleteFromCache(fullPath)
	return nil
}

// loadFile 读取文件，缓存命中且文件未被修改时直接返回缓存
func (fs *FileStorage) loadFile(fullPath string) ([]byte, error) {
	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	return fs.cache.ReadFile(fullPath)
}
