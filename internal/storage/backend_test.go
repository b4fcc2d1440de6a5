package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newBackends(t *testing.T) map[string]Backend {
	t.Helper()

	fileBackend, err := NewFileStorage(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}

	sqliteBackend, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("打开sqlite失败: %v", err)
	}

	memoryBackend, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("打开内存sqlite失败: %v", err)
	}

	backends := map[string]Backend{
		"file":          fileBackend,
		"sqlite":        sqliteBackend,
		"sqlite-memory": memoryBackend,
	}
	t.Cleanup(func() {
		for _, b := range backends {
			b.Close()
		}
	})
	return backends
}

func TestBackendContract(t *testing.T) {
	for name, backend := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			if _, found, err := backend.Get("missing"); err != nil || found {
				t.Fatalf("不存在的键应返回 found=false, err=nil，实际 found=%v err=%v", found, err)
			}

			if err := backend.Set("save", []byte(`{"a":1}`)); err != nil {
				t.Fatalf("写入失败: %v", err)
			}
			data, found, err := backend.Get("save")
			if err != nil || !found || string(data) != `{"a":1}` {
				t.Fatalf("读取结果不符: %q found=%v err=%v", data, found, err)
			}

			if err := backend.Set("save", []byte(`{"a":2}`)); err != nil {
				t.Fatalf("覆盖写入失败: %v", err)
			}
			data, _, _ = backend.Get("save")
			if string(data) != `{"a":2}` {
				t.Fatalf("覆盖后读到旧值: %q", data)
			}

			if err := backend.Remove("save"); err != nil {
				t.Fatalf("删除失败: %v", err)
			}
			if _, found, _ := backend.Get("save"); found {
				t.Fatal("删除后仍能读到键")
			}
			if err := backend.Remove("save"); err != nil {
				t.Fatalf("重复删除不应报错: %v", err)
			}
		})
	}
}

func TestBackendRejectsPathKeys(t *testing.T) {
	for name, backend := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"", "../escape", `a\b`, ".."} {
				if err := backend.Set(key, []byte("x")); err == nil {
					t.Errorf("键 %q 应被拒绝", key)
				}
			}
		})
	}
}

func TestFileStorageSeesExternalWrites(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}

	if err := fs.Set("k", []byte("v1")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if data, _, _ := fs.Get("k"); string(data) != "v1" {
		t.Fatalf("期望 v1，实际 %q", data)
	}

	// 绕过存储直接改写文件，并推后修改时间避免时间精度问题
	path := filepath.Join(dir, "k.json")
	if err := os.WriteFile(path, []byte("v2"), 0644); err != nil {
		t.Fatalf("外部写入失败: %v", err)
	}
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("修改时间失败: %v", err)
	}

	if data, _, _ := fs.Get("k"); string(data) != "v2" {
		t.Fatalf("缓存未按修改时间失效，读到 %q", data)
	}
}

func TestFileStorageWriteInvalidatesCache(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}

	// 同样长度的内容在同一时间精度内写入，只能靠写入时清除缓存
	if err := fs.Set("k", []byte("v1")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if data, _, _ := fs.Get("k"); string(data) != "v1" {
		t.Fatalf("期望 v1，实际 %q", data)
	}
	if fs.cache.Len() != 1 {
		t.Fatalf("读取后应有一个缓存条目，实际 %d", fs.cache.Len())
	}
	if err := fs.Set("k", []byte("v2")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if fs.cache.Len() != 0 {
		t.Fatal("写入后缓存应被清除")
	}
	if data, _, _ := fs.Get("k"); string(data) != "v2" {
		t.Fatalf("期望 v2，实际 %q", data)
	}

	if err := fs.Remove("k"); err != nil {
		t.Fatalf("删除失败: %v", err)
	}
	if _, found, err := fs.Get("k"); found || err != nil {
		t.Fatalf("删除后不应读到数据: found=%v err=%v", found, err)
	}
	if fs.cache.Len() != 0 {
		t.Fatal("删除后缓存应为空")
	}
}

func TestFileCacheService(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "characters.json")
	if err := os.WriteFile(path, []byte("[]"), 0644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}

	cache := NewFileCacheService(time.Minute)
	data, err := cache.ReadFile(path)
	if err != nil || string(data) != "[]" {
		t.Fatalf("首次读取失败: %q %v", data, err)
	}
	if cache.Len() != 1 {
		t.Fatalf("期望缓存1个条目，实际 %d", cache.Len())
	}

	if err := os.WriteFile(path, []byte(`[{"id":"a"}]`), 0644); err != nil {
		t.Fatalf("改写测试文件失败: %v", err)
	}
	later := time.Now().Add(2 * time.Second)
	os.Chtimes(path, later, later)

	data, err = cache.ReadFile(path)
	if err != nil || string(data) != `[{"id":"a"}]` {
		t.Fatalf("文件修改后应重新读取: %q %v", data, err)
	}

	if _, err := cache.ReadFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("读取不存在的文件应报错")
	}
	if _, err := cache.ReadFile(dir); err == nil {
		t.Fatal("读取目录应报错")
	}

	cache.ClearCache()
	if cache.Len() != 0 {
		t.Fatalf("清空后缓存应为空，实际 %d", cache.Len())
	}
}
