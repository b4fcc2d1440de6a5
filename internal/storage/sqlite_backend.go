// internal/storage/sqlite_backend.go
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const kvSchema = `CREATE TABLE IF NOT EXISTS kv_store (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteBackend 基于嵌入式SQLite的键值存储
type SQLiteBackend struct {
	sqlDB *sql.DB
}

// OpenSQLite 打开（必要时创建）SQLite键值库；path 为 ":memory:" 时使用内存库
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("存储路径不能为空")
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开sqlite失败: %w", err)
	}
	// 单用户单写入者；内存库也要求只有一个连接
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("连接sqlite失败: %w", err)
	}

	if _, err := sqlDB.Exec(kvSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("初始化sqlite表失败: %w", err)
	}

	return &SQLiteBackend{sqlDB: sqlDB}, nil
}

// Get 读取键值
func (b *SQLiteBackend) Get(key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	var value []byte
	err := b.sqlDB.QueryRow(`SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("读取键值失败: %w", err)
	}
	return value, true, nil
}

// Set 写入键值
func (b *SQLiteBackend) Set(key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	_, err := b.sqlDB.Exec(
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, data, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("写入键值失败: %w", err)
	}
	return nil
}

// Remove 删除键
func (b *SQLiteBackend) Remove(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if _, err := b.sqlDB.Exec(`DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return fmt.Errorf("删除键值失败: %w", err)
	}
	return nil
}

// Close 释放数据库连接
func (b *SQLiteBackend) Close() error {
	if b == nil || b.sqlDB == nil {
		return nil
	}
	return b.sqlDB.Close()
}
