package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "CONTENT_DIR", "CONTENT_URL", "DATA_DIR", "LOG_DIR", "LOG_LEVEL", "LOG_JSON",
		"DEBUG_MODE", "STORAGE_BACKEND", "STORAGE_KEY", "DUAL_CHOICE_FIRST", "DUAL_CHOICE_SECOND",
		"STRICT_SCENE_CHOICES", "WATCH_CONTENT", "HTTP_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("加载默认配置失败: %v", err)
	}

	if cfg.Port != "8080" || cfg.ContentDir != "content" || cfg.StorageBackend != BackendFile {
		t.Fatalf("默认值不符: %+v", cfg)
	}
	if cfg.StorageKey != DefaultStorageKey {
		t.Fatalf("默认存储键应为 %s，实际 %s", DefaultStorageKey, cfg.StorageKey)
	}
	if cfg.DualChoiceFirst != "_scene_003" || cfg.DualChoiceSecond != "_scene_005" {
		t.Fatalf("默认双选择点不符: %s %s", cfg.DualChoiceFirst, cfg.DualChoiceSecond)
	}
	if cfg.HTTPTimeout != 10*time.Second || cfg.UsesRemoteContent() {
		t.Fatalf("默认超时或内容来源不符: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTENT_URL", "https://example.com/content/")
	t.Setenv("STORAGE_BACKEND", "SQLite")
	t.Setenv("STRICT_SCENE_CHOICES", "1")
	t.Setenv("HTTP_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.ContentURL != "https://example.com/content" || !cfg.UsesRemoteContent() {
		t.Fatalf("远程地址应去掉末尾斜杠: %q", cfg.ContentURL)
	}
	if cfg.StorageBackend != BackendSQLite || !cfg.StrictSceneChoices || cfg.HTTPTimeout != 3*time.Second {
		t.Fatalf("覆盖值不符: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{name: "backend", key: "STORAGE_BACKEND", val: "redis", want: "不支持的存储后端"},
		{name: "timeout", key: "HTTP_TIMEOUT", val: "soon", want: "HTTP_TIMEOUT"},
		{name: "same dual points", key: "DUAL_CHOICE_SECOND", val: "_scene_003", want: "不能相同"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("期望包含 %q 的错误，实际 %v", tt.want, err)
			}
		})
	}
}
