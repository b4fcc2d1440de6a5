// internal/models/character.go
package models

// Character 表示一个可陪伴的角色（故事入口）
type Character struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Avatar      string `json:"avatar"` // 头像资源引用
}

// AvatarRef 返回头像资源引用，供展示层预加载
func (c Character) AvatarRef() string {
	return c.Avatar
}

// StoryMeta 角色故事的可选元数据
type StoryMeta struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Tags          []string `json:"tags"`
	Difficulty    string   `json:"difficulty"`
	EstimatedTime string   `json:"estimatedTime"`
}

// DefaultStoryMeta 元数据缺失或加载失败时使用的默认值
func DefaultStoryMeta() StoryMeta {
	return StoryMeta{
		Title:         "",
		Description:   "",
		Tags:          []string{},
		Difficulty:    "normal",
		EstimatedTime: "10-15min",
	}
}

// CharacterSummary 角色及其元数据，用于角色列表接口
type CharacterSummary struct {
	Character
	Meta StoryMeta `json:"meta"`
}
