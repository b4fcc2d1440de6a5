// internal/models/story.go
package models

import "time"

// EventType 故事事件类型
type EventType string

const (
	// EventScene 场景事件：带选项则分支，否则顺延到下一个事件
	EventScene EventType = "scene"
	// EventEnding 结局事件：终止遍历
	EventEnding EventType = "ending"
)

// Choice 表示场景事件中的一个选项
type Choice struct {
	Text string `json:"text"`
	Next string `json:"next"`
}

// Event 表示故事图中的一个节点
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Text       string    `json:"text"`
	Choices    []Choice  `json:"choices,omitempty"`
	EndingNote string    `json:"ending_note,omitempty"`

	// Continuation 加载时解析出的隐式后继事件ID，空表示没有后继
	Continuation string `json:"-"`
}

// IsEnding 是否为结局事件
func (e Event) IsEnding() bool {
	return e.Type == EventEnding
}

// HasChoices 是否为分支事件
func (e Event) HasChoices() bool {
	return len(e.Choices) > 0
}

// Story 一个角色的完整故事（按创作顺序排列的事件）
type Story struct {
	CharacterID string
	Events      []Event
	index       map[string]int
}

// NewStory 编译故事：建立ID索引并解析隐式后继。
// 结局事件与最后一个事件没有后继。
func NewStory(characterID string, events []Event) *Story {
	compiled := make([]Event, len(events))
	copy(compiled, events)

	index := make(map[string]int, len(compiled))
	for i := range compiled {
		if _, exists := index[compiled[i].ID]; !exists {
			index[compiled[i].ID] = i
		}
		compiled[i].Continuation = ""
		if compiled[i].IsEnding() || i == len(compiled)-1 {
			continue
		}
		compiled[i].Continuation = compiled[i+1].ID
	}

	return &Story{
		CharacterID: characterID,
		Events:      compiled,
		index:       index,
	}
}

// Entry 返回入口事件（创作顺序中的第一个事件）
func (s *Story) Entry() (Event, bool) {
	if s == nil || len(s.Events) == 0 {
		return Event{}, false
	}
	return s.Events[0], true
}

// Find 按ID查找事件
func (s *Story) Find(eventID string) (Event, bool) {
	if s == nil {
		return Event{}, false
	}
	i, ok := s.index[eventID]
	if !ok {
		return Event{}, false
	}
	return s.Events[i], true
}

// Len 事件数量
func (s *Story) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Events)
}

// Step 一次导航的结果
type Step struct {
	Character Character `json:"character"`
	Event     Event     `json:"event"`
}

// NavigationKind 导航动作类型
type NavigationKind string

const (
	NavigationStart    NavigationKind = "start"
	NavigationContinue NavigationKind = "continue"
	NavigationChoice   NavigationKind = "choice"
	NavigationJump     NavigationKind = "jump"
	NavigationEnd      NavigationKind = "end"
	NavigationCollect  NavigationKind = "collect"
	NavigationReset    NavigationKind = "reset"
)

// NavigationEvent 引擎在每次成功导航后发出的通知
type NavigationEvent struct {
	Kind        NavigationKind `json:"kind"`
	CharacterID string         `json:"character_id,omitempty"`
	EventID     string         `json:"event_id,omitempty"`
	ChoiceText  string         `json:"choice_text,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
