package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/Corphon/CompanionStories/internal/models"
)

// memSource 内存内容源
type memSource struct {
	mu    sync.Mutex
	files map[string][]byte
	reads int
}

func newMemSource() *memSource {
	return &memSource{files: make(map[string][]byte)}
}

func (s *memSource) put(resourcePath string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[resourcePath] = data
}

func (s *memSource) putJSON(t *testing.T, resourcePath string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("序列化测试数据失败: %v", err)
	}
	s.put(resourcePath, data)
}

func (s *memSource) Fetch(ctx context.Context, resourcePath string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	data, ok := s.files[resourcePath]
	if !ok {
		return nil, fmt.Errorf("HTTP 404: %s", resourcePath)
	}
	return data, nil
}

func (s *memSource) Exists(ctx context.Context, resourcePath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[resourcePath]
	return ok
}

func (s *memSource) Describe() string {
	return "mem"
}

// memBackend 内存存储后端，可模拟写入失败
type memBackend struct {
	mu       sync.Mutex
	data     map[string][]byte
	failSet  bool
	failGet  bool
	setCalls int
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string][]byte)}
}

func (b *memBackend) Get(key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failGet {
		return nil, false, fmt.Errorf("存储不可用")
	}
	data, ok := b.data[key]
	return data, ok, nil
}

func (b *memBackend) Set(key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setCalls++
	if b.failSet {
		return fmt.Errorf("配额已满")
	}
	b.data[key] = append([]byte(nil), data...)
	return nil
}

func (b *memBackend) Remove(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *memBackend) Close() error {
	return nil
}

func (b *memBackend) raw(key string) map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	var m map[string]interface{}
	if data, ok := b.data[key]; ok {
		_ = json.Unmarshal(data, &m)
	}
	return m
}

// sampleCharacters 单角色样例
func sampleCharacters() []models.Character {
	return []models.Character{
		{ID: "a", Name: "阿澄", Description: "雨夜书店的店员", Avatar: "a.png"},
	}
}

// sampleStory 最小的分支故事：a1 选择后到达结局 a2
func sampleStory() []models.Event {
	return []models.Event{
		{ID: "a1", Type: models.EventScene, Text: "t1", Choices: []models.Choice{{Text: "go", Next: "a2"}}},
		{ID: "a2", Type: models.EventEnding, Text: "t2", EndingNote: "n"},
	}
}

// dualStory 含两处双选择点与线性场景的故事
func dualStory(characterID string) []models.Event {
	id := func(suffix string) string { return characterID + suffix }
	return []models.Event{
		{ID: id("_scene_001"), Type: models.EventScene, Text: "开场"},
		{ID: id("_scene_002"), Type: models.EventScene, Text: "相遇"},
		{ID: id("_scene_003"), Type: models.EventScene, Text: "第一次选择", Choices: []models.Choice{
			{Text: "留下来", Next: id("_scene_004")},
			{Text: "先离开", Next: id("_scene_004")},
		}},
		{ID: id("_scene_004"), Type: models.EventScene, Text: "过渡"},
		{ID: id("_scene_005"), Type: models.EventScene, Text: "第二次选择", Choices: []models.Choice{
			{Text: "一起听雨", Next: id("_ending_001")},
			{Text: "独自回家", Next: id("_ending_002")},
		}},
		{ID: id("_ending_001"), Type: models.EventEnding, Text: "雨停了", EndingNote: "雨声作伴"},
		{ID: id("_ending_002"), Type: models.EventEnding, Text: "路灯亮了", EndingNote: "各自珍重"},
	}
}

// sampleSource 把角色与故事写入内存内容源
func sampleSource(t *testing.T, characters []models.Character, stories map[string][]models.Event) *memSource {
	t.Helper()
	source := newMemSource()
	source.putJSON(t, charactersPath, characters)
	for characterID, events := range stories {
		source.putJSON(t, storyEventsPath(characterID), events)
	}
	return source
}
