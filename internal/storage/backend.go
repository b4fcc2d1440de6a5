// internal/storage/backend.go
package storage

import (
	"fmt"
	"strings"
)

// Backend 本地键值持久化（相当于浏览器的 localStorage）
type Backend interface {
	// Get 读取键值，键不存在时 found 为 false 且 err 为 nil
	Get(key string) (data []byte, found bool, err error)
	// Set 原子地写入键值
	Set(key string, data []byte) error
	// Remove 删除键，键不存在不视为错误
	Remove(key string) error
	Close() error
}

// validateKey 键只能是单层名称，不能包含路径
func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("存储键不能为空")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("非法的存储键: %s", key)
	}
	return nil
}
