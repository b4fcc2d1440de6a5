// internal/services/story_engine.go
package services

import (
	"context"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/CompanionStories/internal/errors"
	"github.com/Corphon/CompanionStories/internal/models"
	"github.com/Corphon/CompanionStories/internal/utils"
)

// ContentLoader 引擎初始化时使用的内容加载接口
type ContentLoader interface {
	LoadContent(ctx context.Context) (*ContentSnapshot, error)
}

// ProgressStore 引擎在导航时读写的持久化接口
type ProgressStore interface {
	Load() *models.PlayerState
	RecordVisit(characterID string) ([]models.RecentVisit, bool)
	LogEvent(eventID, choiceText string) (int, bool)
	SetCurrentPosition(characterID, eventID string) bool
	CollectEnding(characterID, characterName, endingNote string) (models.CollectedEnding, int, bool)
	RecordDualChoice(characterID, choice1, choice2 string) (int, bool)
	ClearViewState() bool
}

// NavigationObserver 接收每次成功导航的通知
type NavigationObserver func(event models.NavigationEvent)

// DualChoicePoints 两处双选择点的事件ID后缀
type DualChoicePoints struct {
	First  string
	Second string
}

// DefaultDualChoicePoints 默认为第3与第5个场景
func DefaultDualChoicePoints() DualChoicePoints {
	return DualChoicePoints{First: "_scene_003", Second: "_scene_005"}
}

// EngineStatus 引擎状态快照
type EngineStatus struct {
	Initialized bool              `json:"initialized"`
	Character   *models.Character `json:"character,omitempty"`
	Event       *models.Event     `json:"event,omitempty"`
}

// CollectResult 收集结局的结果
type CollectResult struct {
	Ending         models.CollectedEnding `json:"ending"`
	CompletedCount int                    `json:"completed_count"`
	Persisted      bool                   `json:"persisted"`
}

type enginePosition struct {
	characterID string
	eventID     string
}

// StoryEngine 故事图遍历状态机：未初始化 → 就绪 → 位于某个事件
type StoryEngine struct {
	loader     ContentLoader
	validator  *ContentValidator
	store      ProgressStore
	logger     *utils.Logger
	metrics    *utils.MetricsCollector
	dualPoints DualChoicePoints
	now        func() time.Time

	mu          sync.RWMutex
	initialized bool
	characters  []models.Character
	byID        map[string]models.Character
	stories     map[string]*models.Story
	current     *enginePosition

	// 第一处双选择点的选项文本，按角色暂存，只存在于本次会话
	dualBuffer map[string]string

	observerMu sync.RWMutex
	observers  []NavigationObserver
}

// NewStoryEngine 创建故事引擎
func NewStoryEngine(loader ContentLoader, validator *ContentValidator, store ProgressStore,
	logger *utils.Logger, metrics *utils.MetricsCollector, points DualChoicePoints) *StoryEngine {
	if validator == nil {
		validator = NewContentValidator(false)
	}
	if points.First == "" || points.Second == "" {
		points = DefaultDualChoicePoints()
	}
	return &StoryEngine{
		loader:     loader,
		validator:  validator,
		store:      store,
		logger:     logger,
		metrics:    metrics,
		dualPoints: points,
		now:        time.Now,
		dualBuffer: make(map[string]string),
	}
}

// Subscribe 注册导航观察者
func (e *StoryEngine) Subscribe(observer NavigationObserver) {
	if observer == nil {
		return
	}
	e.observerMu.Lock()
	defer e.observerMu.Unlock()
	e.observers = append(e.observers, observer)
}

func (e *StoryEngine) emit(kind models.NavigationKind, characterID, eventID, choiceText string) {
	e.metrics.IncNavigation(string(kind))

	event := models.NavigationEvent{
		Kind:        kind,
		CharacterID: characterID,
		EventID:     eventID,
		ChoiceText:  choiceText,
		Timestamp:   e.now().UTC(),
	}

	e.observerMu.RLock()
	observers := append([]NavigationObserver(nil), e.observers...)
	e.observerMu.RUnlock()

	for _, observer := range observers {
		observer(event)
	}
}

// Initialize 加载并校验全部内容，只能成功调用一次
func (e *StoryEngine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return apperrors.NewAlreadyInitializedError()
	}

	snapshot, err := e.loader.LoadContent(ctx)
	if err != nil {
		e.logger.Error("内容加载失败", map[string]interface{}{"error": err.Error()})
		return err
	}

	result := e.validator.ValidateSnapshot(snapshot)
	if !result.Valid {
		e.logger.Error("内容校验失败", map[string]interface{}{
			"error_count": len(result.Errors),
			"errors":      result.Errors,
		})
		return apperrors.NewContentValidationError(result.Errors)
	}

	characters := make([]models.Character, len(snapshot.Characters))
	copy(characters, snapshot.Characters)

	byID := make(map[string]models.Character, len(characters))
	stories := make(map[string]*models.Story, len(characters))
	for _, character := range characters {
		byID[character.ID] = character
		stories[character.ID] = models.NewStory(character.ID, snapshot.Stories[character.ID])
	}

	e.characters = characters
	e.byID = byID
	e.stories = stories
	e.initialized = true

	e.metrics.SetStoriesLoaded(len(stories))
	e.logger.Info("故事引擎初始化完成", map[string]interface{}{
		"characters": len(characters),
	})
	return nil
}

// IsInitialized 是否已初始化
func (e *StoryEngine) IsInitialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// Characters 返回全部角色
func (e *StoryEngine) Characters() []models.Character {
	e.mu.RLock()
	defer e.mu.RUnlock()

	characters := make([]models.Character, len(e.characters))
	copy(characters, e.characters)
	return characters
}

// Character 按ID查找角色
func (e *StoryEngine) Character(characterID string) (models.Character, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized {
		return models.Character{}, apperrors.NewNotInitializedError()
	}
	character, ok := e.byID[characterID]
	if !ok {
		return models.Character{}, apperrors.NewCharacterNotFoundError(characterID)
	}
	return character, nil
}

// EventsFor 返回角色的全部事件（创作顺序）
func (e *StoryEngine) EventsFor(characterID string) ([]models.Event, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized {
		return nil, apperrors.NewNotInitializedError()
	}
	if _, ok := e.byID[characterID]; !ok {
		return nil, apperrors.NewCharacterNotFoundError(characterID)
	}

	story := e.stories[characterID]
	events := make([]models.Event, story.Len())
	copy(events, story.Events)
	return events, nil
}

// Status 返回当前状态快照
func (e *StoryEngine) Status() EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := EngineStatus{Initialized: e.initialized}
	if e.current == nil {
		return status
	}
	character := e.byID[e.current.characterID]
	event, ok := e.stories[e.current.characterID].Find(e.current.eventID)
	if !ok {
		return status
	}
	status.Character = &character
	status.Event = &event
	return status
}

// StartStory 从入口事件开始角色的故事
func (e *StoryEngine) StartStory(characterID string) (*models.Step, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, apperrors.NewNotInitializedError()
	}
	character, ok := e.byID[characterID]
	if !ok {
		return nil, apperrors.NewCharacterNotFoundError(characterID)
	}
	entry, ok := e.stories[characterID].Entry()
	if !ok {
		return nil, apperrors.NewEmptyStoryError(characterID)
	}

	if _, ok := e.store.RecordVisit(characterID); !ok {
		e.warnNotPersisted("record_visit", characterID)
	}
	e.moveTo(characterID, entry.ID, "")

	e.emit(models.NavigationStart, characterID, entry.ID, "")
	return &models.Step{Character: character, Event: entry}, nil
}

// ContinueLinear 顺延到隐式后继事件。
// 当前事件是结局或最后一个事件时没有后继，返回 nil，由调用方回到入口。
func (e *StoryEngine) ContinueLinear() (*models.Step, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	character, event, err := e.currentEvent()
	if err != nil {
		return nil, err
	}
	if event.Continuation == "" {
		e.emit(models.NavigationEnd, character.ID, event.ID, "")
		return nil, nil
	}

	next, ok := e.stories[character.ID].Find(event.Continuation)
	if !ok {
		e.logger.Error("隐式后继事件不存在", map[string]interface{}{
			"character_id": character.ID,
			"event_id":     event.ID,
			"next":         event.Continuation,
		})
		return nil, apperrors.NewNextEventNotFoundError(character.ID, event.Continuation)
	}

	e.moveTo(character.ID, next.ID, "")

	e.emit(models.NavigationContinue, character.ID, next.ID, "")
	return &models.Step{Character: character, Event: next}, nil
}

// MakeChoice 选择当前事件的第 index 个选项（从0开始）
func (e *StoryEngine) MakeChoice(index int) (*models.Step, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	character, event, err := e.currentEvent()
	if err != nil {
		return nil, err
	}
	if !event.HasChoices() {
		return nil, apperrors.NewNoChoicesAvailableError(event.ID)
	}
	if index < 0 || index >= len(event.Choices) {
		return nil, apperrors.NewInvalidChoiceIndexError(index, len(event.Choices))
	}

	choice := event.Choices[index]
	next, ok := e.stories[character.ID].Find(choice.Next)
	if !ok {
		e.logger.Error("选项指向的事件不存在，内容可能未通过完整校验", map[string]interface{}{
			"character_id": character.ID,
			"event_id":     event.ID,
			"choice_index": index,
			"next":         choice.Next,
		})
		return nil, apperrors.NewNextEventNotFoundError(character.ID, choice.Next)
	}

	e.captureDualChoice(character.ID, event.ID, choice.Text)

	if _, ok := e.store.LogEvent(event.ID, choice.Text); !ok {
		e.warnNotPersisted("log_event", character.ID)
	}
	e.moveTo(character.ID, next.ID, "")

	e.emit(models.NavigationChoice, character.ID, next.ID, choice.Text)
	return &models.Step{Character: character, Event: next}, nil
}

// ContinueToEvent 直接把当前位置设为指定事件，不写入存储也不记录日志
func (e *StoryEngine) ContinueToEvent(characterID, eventID string) (*models.Step, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, apperrors.NewNotInitializedError()
	}
	character, ok := e.byID[characterID]
	if !ok {
		return nil, apperrors.NewCharacterNotFoundError(characterID)
	}
	event, ok := e.stories[characterID].Find(eventID)
	if !ok {
		return nil, apperrors.NewEventNotFoundError(characterID, eventID)
	}

	e.current = &enginePosition{characterID: characterID, eventID: eventID}

	e.emit(models.NavigationJump, characterID, eventID, "")
	return &models.Step{Character: character, Event: event}, nil
}

// CollectEnding 在结局事件上收集结局卡片并记录故事完成
func (e *StoryEngine) CollectEnding() (*CollectResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	character, event, err := e.currentEvent()
	if err != nil {
		return nil, err
	}
	if !event.IsEnding() {
		return nil, apperrors.NewNotAnEndingError(event.ID)
	}

	ending, completed, saved := e.store.CollectEnding(character.ID, character.Name, event.EndingNote)
	if !saved {
		e.warnNotPersisted("collect_ending", character.ID)
	}

	result := &CollectResult{
		Ending:         ending,
		CompletedCount: completed,
		Persisted:      saved,
	}

	e.emit(models.NavigationCollect, character.ID, event.ID, "")
	return result, nil
}

// Reset 清除当前位置与存储中的视图状态，回到就绪状态
func (e *StoryEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.current = nil
	if !e.store.ClearViewState() {
		e.warnNotPersisted("clear_view_state", "")
	}

	e.emit(models.NavigationReset, "", "", "")
}

// PendingDualChoice 返回第一处双选择点暂存的选项文本
func (e *StoryEngine) PendingDualChoice(characterID string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	text, ok := e.dualBuffer[characterID]
	return text, ok
}

// currentEvent 调用方须持有锁
func (e *StoryEngine) currentEvent() (models.Character, models.Event, error) {
	if !e.initialized {
		return models.Character{}, models.Event{}, apperrors.NewNotInitializedError()
	}
	if e.current == nil {
		return models.Character{}, models.Event{}, apperrors.NewNoCurrentEventError()
	}

	character := e.byID[e.current.characterID]
	event, ok := e.stories[e.current.characterID].Find(e.current.eventID)
	if !ok {
		return models.Character{}, models.Event{}, apperrors.NewEventNotFoundError(e.current.characterID, e.current.eventID)
	}
	return character, event, nil
}

// moveTo 持久化新位置并记录到达日志，调用方须持有锁
func (e *StoryEngine) moveTo(characterID, eventID, choiceText string) {
	if !e.store.SetCurrentPosition(characterID, eventID) {
		e.warnNotPersisted("set_position", characterID)
	}
	if _, ok := e.store.LogEvent(eventID, choiceText); !ok {
		e.warnNotPersisted("log_event", characterID)
	}
	e.current = &enginePosition{characterID: characterID, eventID: eventID}
}

// captureDualChoice 第一处选择点暂存文本；第二处写入双选择记录并清空暂存。
// 第二处没有暂存时两处都使用当前选项文本。调用方须持有锁。
func (e *StoryEngine) captureDualChoice(characterID, eventID, choiceText string) {
	switch {
	case strings.HasSuffix(eventID, e.dualPoints.First):
		e.dualBuffer[characterID] = choiceText

	case strings.HasSuffix(eventID, e.dualPoints.Second):
		first, ok := e.dualBuffer[characterID]
		if !ok {
			first = choiceText
		}
		delete(e.dualBuffer, characterID)

		if _, saved := e.store.RecordDualChoice(characterID, first, choiceText); !saved {
			e.warnNotPersisted("record_dual_choice", characterID)
		}
	}
}

func (e *StoryEngine) warnNotPersisted(op, characterID string) {
	e.logger.Warn("进度未能写入存储", map[string]interface{}{
		"operation":    op,
		"character_id": characterID,
	})
}
