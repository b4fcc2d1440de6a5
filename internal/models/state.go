// internal/models/state.go
package models

import (
	"encoding/json"
	"time"
)

// MaxRecentVisits 最近访问列表的最大长度
const MaxRecentVisits = 5

// EventLogEntry 事件日志条目
type EventLogEntry struct {
	EventID    string    `json:"eventId"`
	ChoiceText string    `json:"choiceText,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// CollectedEnding 收集到的结局卡片
type CollectedEnding struct {
	CharacterID   string    `json:"characterId"`
	CharacterName string    `json:"characterName"`
	EndingNote    string    `json:"endingNote"`
	CollectedAt   time.Time `json:"collectedAt"`
}

// DualChoiceRecord 同一角色两处固定选择点的关联记忆
type DualChoiceRecord struct {
	CharacterID string    `json:"characterId"`
	Choice1     string    `json:"choice1"`
	Choice2     string    `json:"choice2"`
	Timestamp   time.Time `json:"timestamp"`
}

// CompanionshipRecord 陪伴方式标签记录
type CompanionshipRecord struct {
	CharacterID       string    `json:"characterId"`
	CompanionshipType string    `json:"companionshipType"`
	Timestamp         time.Time `json:"timestamp"`
}

// RecentVisit 最近访问的角色
type RecentVisit struct {
	CharacterID string    `json:"characterId"`
	Timestamp   time.Time `json:"timestamp"`
}

// Position 当前阅读位置
type Position struct {
	CharacterID string `json:"characterId,omitempty"`
	EventID     string `json:"eventId,omitempty"`
}

// PlayerState 每个安装唯一的持久化玩家记录。
// 当前版本不认识的字段保存在 Extra 中，序列化时原样写回。
type PlayerState struct {
	SchemaVersion      string                `json:"schemaVersion"`
	InstallationID     string                `json:"installationId,omitempty"`
	CurrentCharacterID string                `json:"currentCharacterId,omitempty"`
	CurrentEventID     string                `json:"currentEventId,omitempty"`
	EventLog           []EventLogEntry       `json:"eventLog"`
	CollectedEndings   []CollectedEnding     `json:"collectedEndings"`
	DualChoiceRecords  []DualChoiceRecord    `json:"dualChoiceRecords"`
	Companionships     []CompanionshipRecord `json:"companionships"`
	RecentVisits       []RecentVisit         `json:"recentVisits"`
	CompletedStoryIDs  []string              `json:"completedStoryIds"`
	OneTimeFlags       []string              `json:"oneTimeFlags"`
	CreatedAt          time.Time             `json:"createdAt"`
	UpdatedAt          time.Time             `json:"updatedAt"`

	Extra map[string]json.RawMessage `json:"-"`
}

// KnownStateKeys 当前版本认识的顶层字段
var KnownStateKeys = []string{
	"schemaVersion",
	"installationId",
	"currentCharacterId",
	"currentEventId",
	"eventLog",
	"collectedEndings",
	"dualChoiceRecords",
	"companionships",
	"recentVisits",
	"completedStoryIds",
	"oneTimeFlags",
	"createdAt",
	"updatedAt",
}

type playerStateFields PlayerState

// MarshalJSON 序列化已知字段并合并未知字段
func (s PlayerState) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(playerStateFields(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(s.Extra)+len(KnownStateKeys))
	for key, value := range s.Extra {
		merged[key] = value
	}

	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for key, value := range knownMap {
		merged[key] = value
	}

	return json.Marshal(merged)
}

// UnmarshalJSON 解析已知字段，其余字段收入 Extra
func (s *PlayerState) UnmarshalJSON(data []byte) error {
	var fields playerStateFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range KnownStateKeys {
		delete(raw, key)
	}

	*s = PlayerState(fields)
	s.Extra = nil
	if len(raw) > 0 {
		s.Extra = raw
	}
	return nil
}

// Position 返回当前阅读位置
func (s *PlayerState) Position() Position {
	return Position{
		CharacterID: s.CurrentCharacterID,
		EventID:     s.CurrentEventID,
	}
}

// HasEnding 是否已收集该结局
func (s *PlayerState) HasEnding(characterID, endingNote string) bool {
	for _, ending := range s.CollectedEndings {
		if ending.CharacterID == characterID && ending.EndingNote == endingNote {
			return true
		}
	}
	return false
}

// HasFlag 一次性标记是否已存在
func (s *PlayerState) HasFlag(name string) bool {
	for _, flag := range s.OneTimeFlags {
		if flag == name {
			return true
		}
	}
	return false
}

// HasCompleted 故事是否已完成
func (s *PlayerState) HasCompleted(characterID string) bool {
	for _, id := range s.CompletedStoryIDs {
		if id == characterID {
			return true
		}
	}
	return false
}
