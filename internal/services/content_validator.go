// internal/services/content_validator.go
package services

import (
	"fmt"
	"sort"

	"github.com/Corphon/CompanionStories/internal/models"
)

// ValidationResult 内容校验结果
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ContentValidator 检查内容结构完整性。
// 对内容缺陷从不返回错误，而是收集全部问题。
type ContentValidator struct {
	// RequireSceneChoices 启用严格创作约定：场景事件必须带选项。
	// 默认关闭，不带选项的场景表示顺延到下一个事件。
	RequireSceneChoices bool
}

// NewContentValidator 创建内容校验器
func NewContentValidator(requireSceneChoices bool) *ContentValidator {
	return &ContentValidator{RequireSceneChoices: requireSceneChoices}
}

// Validate 校验角色与故事，错误按校验顺序输出，相同输入结果稳定
func (v *ContentValidator) Validate(characters []models.Character, stories map[string][]models.Event) ValidationResult {
	var errs []string

	errs = v.validateCharacters(characters, errs)
	errs = v.validateStories(characters, stories, errs)

	if errs == nil {
		errs = []string{}
	}
	return ValidationResult{
		Valid:  len(errs) == 0,
		Errors: errs,
	}
}

func (v *ContentValidator) validateCharacters(characters []models.Character, errs []string) []string {
	seen := make(map[string]bool, len(characters))

	for i, character := range characters {
		prefix := fmt.Sprintf("角色 %d", i+1)

		if character.ID == "" {
			errs = append(errs, fmt.Sprintf("%s: 缺少必填字段 'id'", prefix))
		} else {
			if seen[character.ID] {
				errs = append(errs, fmt.Sprintf("%s: 重复的角色ID '%s'", prefix, character.ID))
			}
			seen[character.ID] = true
		}

		if character.Name == "" {
			errs = append(errs, fmt.Sprintf("%s: 缺少必填字段 'name'", prefix))
		}
		if character.Description == "" {
			errs = append(errs, fmt.Sprintf("%s: 缺少必填字段 'description'", prefix))
		}
		if character.Avatar == "" {
			errs = append(errs, fmt.Sprintf("%s: 缺少必填字段 'avatar'", prefix))
		}
	}

	return errs
}

// storyOrder 先按角色列表顺序，再按字典序列出未知角色的故事
func storyOrder(characters []models.Character, stories map[string][]models.Event) []string {
	order := make([]string, 0, len(stories))
	listed := make(map[string]bool, len(characters))

	for _, character := range characters {
		if listed[character.ID] {
			continue
		}
		listed[character.ID] = true
		if _, ok := stories[character.ID]; ok {
			order = append(order, character.ID)
		}
	}

	var unknown []string
	for characterID := range stories {
		if !listed[characterID] {
			unknown = append(unknown, characterID)
		}
	}
	sort.Strings(unknown)

	return append(order, unknown...)
}

func (v *ContentValidator) validateStories(characters []models.Character, stories map[string][]models.Event, errs []string) []string {
	known := make(map[string]bool, len(characters))
	for _, character := range characters {
		if character.ID != "" {
			known[character.ID] = true
		}
	}

	for _, characterID := range storyOrder(characters, stories) {
		if !known[characterID] {
			errs = append(errs, fmt.Sprintf("角色 '%s' 的故事: 角色ID '%s' 不在角色列表中", characterID, characterID))
			continue
		}
		errs = v.validateEvents(characterID, stories[characterID], errs)
	}

	return errs
}

func (v *ContentValidator) validateEvents(characterID string, events []models.Event, errs []string) []string {
	prefix := fmt.Sprintf("角色 '%s' 的故事", characterID)
	eventIDs := make(map[string]bool, len(events))

	for i, event := range events {
		eventPrefix := fmt.Sprintf("%s, 事件 %d", prefix, i+1)

		if event.ID == "" {
			errs = append(errs, fmt.Sprintf("%s: 缺少必填字段 'id'", eventPrefix))
		} else {
			if eventIDs[event.ID] {
				errs = append(errs, fmt.Sprintf("%s: 重复的事件ID '%s'", eventPrefix, event.ID))
			}
			eventIDs[event.ID] = true
		}

		if event.Type == "" {
			errs = append(errs, fmt.Sprintf("%s: 缺少必填字段 'type'", eventPrefix))
		}
		if event.Text == "" {
			errs = append(errs, fmt.Sprintf("%s: 缺少必填字段 'text'", eventPrefix))
		}

		switch event.Type {
		case models.EventScene:
			if len(event.Choices) == 0 {
				if v.RequireSceneChoices {
					errs = append(errs, fmt.Sprintf("%s: 场景事件必须带有 'choices' 数组", eventPrefix))
				}
				break
			}
			for j, choice := range event.Choices {
				choicePrefix := fmt.Sprintf("%s, 选项 %d", eventPrefix, j+1)
				if choice.Text == "" {
					errs = append(errs, fmt.Sprintf("%s: 缺少必填字段 'text'", choicePrefix))
				}
				if choice.Next == "" {
					errs = append(errs, fmt.Sprintf("%s: 缺少必填字段 'next'", choicePrefix))
				}
			}
		case models.EventEnding:
			if event.EndingNote == "" {
				errs = append(errs, fmt.Sprintf("%s: 结局事件必须带有 'ending_note' 字段", eventPrefix))
			}
			if len(event.Choices) > 0 {
				errs = append(errs, fmt.Sprintf("%s: 结局事件不能带有 'choices'", eventPrefix))
			}
		case "":
			// 已在上面报告缺少 type
		default:
			errs = append(errs, fmt.Sprintf("%s: 未知的事件类型 '%s'", eventPrefix, event.Type))
		}
	}

	// 引用完整性：所有事件索引完成后再检查 next
	for i, event := range events {
		for j, choice := range event.Choices {
			if choice.Next != "" && !eventIDs[choice.Next] {
				errs = append(errs, fmt.Sprintf("%s, 事件 %d, 选项 %d: 引用的事件ID '%s' 不存在",
					prefix, i+1, j+1, choice.Next))
			}
		}
	}

	return errs
}

// ValidateSnapshot 校验一次完整加载的内容
func (v *ContentValidator) ValidateSnapshot(snapshot *ContentSnapshot) ValidationResult {
	if snapshot == nil {
		return v.Validate(nil, nil)
	}
	return v.Validate(snapshot.Characters, snapshot.Stories)
}
