// internal/services/content_repository.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/Corphon/CompanionStories/internal/errors"
	"github.com/Corphon/CompanionStories/internal/models"
	"github.com/Corphon/CompanionStories/internal/utils"
)

// ContentRepository 加载并解析角色、故事与元数据，只做形状检查
type ContentRepository struct {
	source  ContentSource
	logger  *utils.Logger
	metrics *utils.MetricsCollector
}

// NewContentRepository 创建内容仓库
func NewContentRepository(source ContentSource, logger *utils.Logger, metrics *utils.MetricsCollector) *ContentRepository {
	return &ContentRepository{
		source:  source,
		logger:  logger,
		metrics: metrics,
	}
}

// Source 返回底层内容源
func (r *ContentRepository) Source() ContentSource {
	return r.source
}

// LoadCharacters 加载角色列表
func (r *ContentRepository) LoadCharacters(ctx context.Context) ([]models.Character, error) {
	var characters []models.Character
	if err := r.loadArray(ctx, charactersPath, "角色数据", &characters); err != nil {
		r.metrics.IncContentFailure("characters")
		return nil, apperrors.WrapError(err, "加载角色失败", apperrors.ErrorTypeContentLoad)
	}
	return characters, nil
}

// LoadStory 加载单个角色的故事事件
func (r *ContentRepository) LoadStory(ctx context.Context, characterID string) ([]models.Event, error) {
	var events []models.Event
	label := fmt.Sprintf("角色 %s 的事件数据", characterID)
	if err := r.loadArray(ctx, storyEventsPath(characterID), label, &events); err != nil {
		r.metrics.IncContentFailure("story")
		return nil, apperrors.WrapError(err, fmt.Sprintf("加载角色 %s 的故事失败", characterID), apperrors.ErrorTypeContentLoad)
	}
	return events, nil
}

// LoadAllStories 并行加载所有角色的故事。
// 单个角色失败不会中断整批：该角色得到空事件列表，失败记录为警告。
func (r *ContentRepository) LoadAllStories(ctx context.Context, characters []models.Character) map[string][]models.Event {
	stories := make(map[string][]models.Event, len(characters))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, character := range characters {
		wg.Add(1)
		go func(characterID string) {
			defer wg.Done()

			events, err := r.LoadStory(ctx, characterID)
			if err != nil {
				r.logger.Warn("角色故事加载失败，使用空故事", map[string]interface{}{
					"character_id": characterID,
					"error":        err.Error(),
				})
				events = []models.Event{}
			}

			mu.Lock()
			stories[characterID] = events
			mu.Unlock()
		}(character.ID)
	}

	wg.Wait()
	return stories
}

// ContentSnapshot 一次完整加载得到的角色与故事
type ContentSnapshot struct {
	Characters []models.Character
	Stories    map[string][]models.Event
}

// LoadContent 加载角色列表及全部故事。只有角色列表失败才返回错误。
func (r *ContentRepository) LoadContent(ctx context.Context) (*ContentSnapshot, error) {
	start := time.Now()
	defer r.metrics.ObserveContentLoad(start)

	characters, err := r.LoadCharacters(ctx)
	if err != nil {
		return nil, err
	}

	stories := r.LoadAllStories(ctx, characters)
	r.logger.Info("内容加载完成", map[string]interface{}{
		"source":     r.source.Describe(),
		"characters": len(characters),
		"duration":   time.Since(start).String(),
	})

	return &ContentSnapshot{
		Characters: characters,
		Stories:    stories,
	}, nil
}

// LoadOptionalMeta 加载故事元数据，任何失败都返回默认值
func (r *ContentRepository) LoadOptionalMeta(ctx context.Context, characterID string) models.StoryMeta {
	data, err := r.source.Fetch(ctx, storyMetaPath(characterID))
	if err != nil {
		return models.DefaultStoryMeta()
	}

	var meta models.StoryMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		r.logger.Debug("故事元数据格式错误，使用默认值", map[string]interface{}{
			"character_id": characterID,
			"error":        err.Error(),
		})
		return models.DefaultStoryMeta()
	}
	if meta.Tags == nil {
		meta.Tags = []string{}
	}
	return meta
}

// CheckResource 检查资源是否存在
func (r *ContentRepository) CheckResource(ctx context.Context, resourcePath string) bool {
	return r.source.Exists(ctx, resourcePath)
}

// AvatarRefs 返回所有角色的头像引用，供展示层预加载
func AvatarRefs(characters []models.Character) []string {
	refs := make([]string, 0, len(characters))
	for _, character := range characters {
		if ref := character.AvatarRef(); ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

// loadArray 读取并解析一个JSON数组资源。
// 读取失败或JSON非法为加载错误；不是数组或元素结构不符为结构错误。
func (r *ContentRepository) loadArray(ctx context.Context, resourcePath, label string, target interface{}) error {
	data, err := r.source.Fetch(ctx, resourcePath)
	if err != nil {
		return apperrors.NewContentLoadError(fmt.Sprintf("读取 %s 失败", resourcePath), err)
	}

	if !json.Valid(data) {
		return apperrors.NewContentLoadError(fmt.Sprintf("%s 不是合法的JSON", resourcePath), nil)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return apperrors.NewContentShapeError(fmt.Sprintf("%s必须是数组", label))
	}

	if err := json.Unmarshal(trimmed, target); err != nil {
		return apperrors.NewAppError(apperrors.ErrorTypeContentShape,
			fmt.Sprintf("%s结构不符", label), err)
	}
	return nil
}
