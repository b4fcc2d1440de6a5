// internal/services/state_store.go
package services

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/Corphon/CompanionStories/internal/models"
	"github.com/Corphon/CompanionStories/internal/storage"
	"github.com/Corphon/CompanionStories/internal/utils"
	"github.com/google/uuid"
)

// CurrentSchemaVersion 持久化记录的当前结构版本
const CurrentSchemaVersion = "2.0.0"

// 已废弃的视图指针字段，ClearViewState 会删除它们
var deprecatedViewKeys = []string{
	"lastView",
	"currentView",
	"view",
	"currentScene",
	"currentCharacter",
	"activeStory",
	"sceneId",
	"endingId",
	// 1.0.0 的位置字段
	"currentEvent",
	"characterId",
}

// 1.0.0 记录中改名的顶层字段
var legacyKeyRenames = map[string]string{
	"receivedCards":      "collectedEndings",
	"dualCompanionships": "dualChoiceRecords",
	"completedStories":   "completedStoryIds",
	"characterId":        "currentCharacterId",
	"currentEvent":       "currentEventId",
}

// StateStore 玩家状态的持久化存储。
// 每个修改操作都是一次读-改-写事务：写入失败时内存中的修改被丢弃，
// 返回值反映写入前的持久化状态。
type StateStore struct {
	backend storage.Backend
	key     string
	logger  *utils.Logger
	metrics *utils.MetricsCollector
	now     func() time.Time

	// 存档写入前，默认记录沿用同一个安装ID
	pendingID string

	mu sync.Mutex
}

// NewStateStore 创建状态存储
func NewStateStore(backend storage.Backend, key string, logger *utils.Logger, metrics *utils.MetricsCollector) *StateStore {
	if key == "" {
		key = "interactive_story_game"
	}
	return &StateStore{
		backend: backend,
		key:     key,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Key 返回存储键
func (s *StateStore) Key() string {
	return s.key
}

// defaultState 首次访问时的默认记录
func (s *StateStore) defaultState() *models.PlayerState {
	if s.pendingID == "" {
		s.pendingID = uuid.NewString()
	}
	now := s.now().UTC()
	return &models.PlayerState{
		SchemaVersion:     CurrentSchemaVersion,
		InstallationID:    s.pendingID,
		EventLog:          []models.EventLogEntry{},
		CollectedEndings:  []models.CollectedEnding{},
		DualChoiceRecords: []models.DualChoiceRecord{},
		Companionships:    []models.CompanionshipRecord{},
		RecentVisits:      []models.RecentVisit{},
		CompletedStoryIDs: []string{},
		OneTimeFlags:      []string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Load 读取玩家状态，从不失败。
// 缺失或损坏时返回默认值；版本不一致时迁移并写回。
func (s *StateStore) Load() *models.PlayerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *StateStore) load() *models.PlayerState {
	data, found, err := s.backend.Get(s.key)
	if err != nil {
		s.metrics.IncStoreFailure("load")
		s.logger.Error("读取存档失败，使用默认值", map[string]interface{}{
			"key":   s.key,
			"error": err.Error(),
		})
		return s.defaultState()
	}
	if !found {
		return s.defaultState()
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		s.metrics.IncStoreFailure("load")
		fields := map[string]interface{}{"key": s.key}
		if err != nil {
			fields["error"] = err.Error()
		}
		s.logger.Error("存档已损坏，使用默认值", fields)
		return s.defaultState()
	}

	version := recordVersion(raw)
	if version == CurrentSchemaVersion {
		return s.decode(raw)
	}

	s.logger.Info("迁移存档", map[string]interface{}{
		"from": version,
		"to":   CurrentSchemaVersion,
	})
	state := s.decode(migrateLegacyKeys(raw))
	state.SchemaVersion = CurrentSchemaVersion
	s.save(state)
	return state
}

// recordVersion 读取记录版本，兼容 1.0.0 的 version 字段
func recordVersion(raw map[string]json.RawMessage) string {
	for _, key := range []string{"schemaVersion", "version"} {
		var version string
		if value, ok := raw[key]; ok && json.Unmarshal(value, &version) == nil && version != "" {
			return version
		}
	}
	return ""
}

// migrateLegacyKeys 把旧版字段改写为当前字段名，其余字段原样保留
func migrateLegacyKeys(raw map[string]json.RawMessage) map[string]json.RawMessage {
	migrated := make(map[string]json.RawMessage, len(raw))
	for key, value := range raw {
		migrated[key] = value
	}
	delete(migrated, "version")

	for oldKey, newKey := range legacyKeyRenames {
		value, ok := migrated[oldKey]
		if !ok {
			continue
		}
		delete(migrated, oldKey)
		if _, exists := migrated[newKey]; exists || isJSONNull(value) {
			continue
		}
		migrated[newKey] = value
	}

	if value, ok := migrated["realizationMomentShown"]; ok {
		delete(migrated, "realizationMomentShown")
		var shown bool
		if json.Unmarshal(value, &shown) == nil && shown {
			migrated["oneTimeFlags"] = appendFlag(migrated["oneTimeFlags"], "realization_moment")
		}
	}

	if value, ok := migrated["eventLog"]; ok {
		migrated["eventLog"] = migrateEventLog(value)
	}

	return migrated
}

func isJSONNull(value json.RawMessage) bool {
	return len(value) == 0 || string(value) == "null"
}

func appendFlag(value json.RawMessage, flag string) json.RawMessage {
	var flags []string
	if !isJSONNull(value) {
		if err := json.Unmarshal(value, &flags); err != nil {
			return value
		}
	}
	for _, existing := range flags {
		if existing == flag {
			return value
		}
	}
	data, _ := json.Marshal(append(flags, flag))
	return data
}

// migrateEventLog 把日志条目中的 choiceId 改为 choiceText
func migrateEventLog(value json.RawMessage) json.RawMessage {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(value, &entries); err != nil {
		return value
	}
	for _, entry := range entries {
		choice, ok := entry["choiceId"]
		if !ok {
			continue
		}
		delete(entry, "choiceId")
		if _, exists := entry["choiceText"]; !exists && !isJSONNull(choice) {
			entry["choiceText"] = choice
		}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return value
	}
	return data
}

// decode 默认值在前、旧记录在后合并，再解析为 PlayerState。
// 整体解析失败时逐个字段尝试，丢弃类型不符的已知字段。
func (s *StateStore) decode(raw map[string]json.RawMessage) *models.PlayerState {
	defaults := s.defaultState()
	defaultData, _ := json.Marshal(defaults)

	merged := make(map[string]json.RawMessage)
	_ = json.Unmarshal(defaultData, &merged)
	for key, value := range raw {
		merged[key] = value
	}

	state := &models.PlayerState{}
	data, _ := json.Marshal(merged)
	if err := json.Unmarshal(data, state); err != nil {
		state = s.decodeLenient(merged)
	}

	normalizeState(state, defaults)
	return state
}

func (s *StateStore) decodeLenient(merged map[string]json.RawMessage) *models.PlayerState {
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	accepted := make(map[string]json.RawMessage, len(merged))
	for _, key := range keys {
		accepted[key] = merged[key]
		data, _ := json.Marshal(accepted)
		if err := json.Unmarshal(data, &models.PlayerState{}); err != nil {
			delete(accepted, key)
			s.logger.Warn("存档字段类型不符，已丢弃", map[string]interface{}{
				"field": key,
				"error": err.Error(),
			})
		}
	}

	state := &models.PlayerState{}
	data, _ := json.Marshal(accepted)
	_ = json.Unmarshal(data, state)
	return state
}

// normalizeState 补齐空集合并恢复集合不变量
func normalizeState(state *models.PlayerState, defaults *models.PlayerState) {
	if state.InstallationID == "" {
		state.InstallationID = defaults.InstallationID
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = defaults.CreatedAt
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = defaults.UpdatedAt
	}
	if state.EventLog == nil {
		state.EventLog = []models.EventLogEntry{}
	}
	if state.DualChoiceRecords == nil {
		state.DualChoiceRecords = []models.DualChoiceRecord{}
	}
	if state.Companionships == nil {
		state.Companionships = []models.CompanionshipRecord{}
	}

	endings := make([]models.CollectedEnding, 0, len(state.CollectedEndings))
	seenEndings := make(map[[2]string]bool, len(state.CollectedEndings))
	for _, ending := range state.CollectedEndings {
		key := [2]string{ending.CharacterID, ending.EndingNote}
		if seenEndings[key] {
			continue
		}
		seenEndings[key] = true
		endings = append(endings, ending)
	}
	state.CollectedEndings = endings

	visits := make([]models.RecentVisit, 0, models.MaxRecentVisits)
	seenVisits := make(map[string]bool, len(state.RecentVisits))
	for _, visit := range state.RecentVisits {
		if seenVisits[visit.CharacterID] || len(visits) == models.MaxRecentVisits {
			continue
		}
		seenVisits[visit.CharacterID] = true
		visits = append(visits, visit)
	}
	state.RecentVisits = visits

	state.CompletedStoryIDs = uniqueStrings(state.CompletedStoryIDs)
	state.OneTimeFlags = uniqueStrings(state.OneTimeFlags)
}

func uniqueStrings(values []string) []string {
	result := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, value := range values {
		if seen[value] {
			continue
		}
		seen[value] = true
		result = append(result, value)
	}
	return result
}

// Save 写入玩家状态，失败返回 false
func (s *StateStore) Save(state *models.PlayerState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(state)
}

func (s *StateStore) save(state *models.PlayerState) bool {
	if state == nil {
		return false
	}

	record := *state
	record.SchemaVersion = CurrentSchemaVersion
	record.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(record)
	if err != nil {
		s.metrics.IncStoreFailure("save")
		s.logger.Error("序列化存档失败", map[string]interface{}{"error": err.Error()})
		return false
	}

	if err := s.backend.Set(s.key, data); err != nil {
		s.metrics.IncStoreFailure("save")
		s.logger.Error("保存存档失败", map[string]interface{}{
			"key":   s.key,
			"error": err.Error(),
		})
		return false
	}

	state.SchemaVersion = record.SchemaVersion
	state.UpdatedAt = record.UpdatedAt
	return true
}

// Clear 删除整个存档
func (s *StateStore) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Remove(s.key); err != nil {
		s.metrics.IncStoreFailure("clear")
		s.logger.Error("清除存档失败", map[string]interface{}{
			"key":   s.key,
			"error": err.Error(),
		})
		return false
	}
	s.pendingID = ""
	s.logger.Info("存档已清除", map[string]interface{}{"key": s.key})
	return true
}

// update 在锁内执行一次读-改-写；mutate 返回 false 表示无需写入
func (s *StateStore) update(mutate func(state *models.PlayerState) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.load()
	if !mutate(state) {
		return true
	}
	return s.save(state)
}

// RecordVisit 把角色移到最近访问列表首位，最多保留 MaxRecentVisits 个
func (s *StateStore) RecordVisit(characterID string) ([]models.RecentVisit, bool) {
	var before, after []models.RecentVisit
	ok := s.update(func(state *models.PlayerState) bool {
		before = append([]models.RecentVisit{}, state.RecentVisits...)

		visits := make([]models.RecentVisit, 0, models.MaxRecentVisits)
		visits = append(visits, models.RecentVisit{CharacterID: characterID, Timestamp: s.now().UTC()})
		for _, visit := range state.RecentVisits {
			if visit.CharacterID == characterID {
				continue
			}
			if len(visits) == models.MaxRecentVisits {
				break
			}
			visits = append(visits, visit)
		}
		state.RecentVisits = visits
		after = visits
		return true
	})
	if !ok {
		return before, false
	}
	return after, true
}

// LogEvent 追加事件日志，返回日志长度
func (s *StateStore) LogEvent(eventID, choiceText string) (int, bool) {
	var before, after int
	ok := s.update(func(state *models.PlayerState) bool {
		before = len(state.EventLog)
		state.EventLog = append(state.EventLog, models.EventLogEntry{
			EventID:    eventID,
			ChoiceText: choiceText,
			Timestamp:  s.now().UTC(),
		})
		after = len(state.EventLog)
		return true
	})
	if !ok {
		return before, false
	}
	return after, true
}

// SetCurrentPosition 记录当前阅读位置
func (s *StateStore) SetCurrentPosition(characterID, eventID string) bool {
	return s.update(func(state *models.PlayerState) bool {
		state.CurrentCharacterID = characterID
		state.CurrentEventID = eventID
		return true
	})
}

// AddCollectedEnding 收集结局卡片；同一角色同一结局只收集一次
func (s *StateStore) AddCollectedEnding(characterID, characterName, endingNote string) ([]models.CollectedEnding, bool) {
	var before, after []models.CollectedEnding
	ok := s.update(func(state *models.PlayerState) bool {
		before = append([]models.CollectedEnding{}, state.CollectedEndings...)
		after = before
		if !s.addEnding(state, characterID, characterName, endingNote) {
			return false
		}
		after = state.CollectedEndings
		return true
	})
	if !ok {
		return before, false
	}
	return after, true
}

// CollectEnding 在一次事务中收集结局卡片并记录故事完成，
// 返回该结局的卡片与已完成故事数；写入失败时两者都不生效
func (s *StateStore) CollectEnding(characterID, characterName, endingNote string) (models.CollectedEnding, int, bool) {
	card := models.CollectedEnding{
		CharacterID:   characterID,
		CharacterName: characterName,
		EndingNote:    endingNote,
	}
	var before, after int
	ok := s.update(func(state *models.PlayerState) bool {
		before = len(state.CompletedStoryIDs)
		added := s.addEnding(state, characterID, characterName, endingNote)
		completed := completeStory(state, characterID)
		for _, ending := range state.CollectedEndings {
			if ending.CharacterID == characterID && ending.EndingNote == endingNote {
				card = ending
				break
			}
		}
		after = len(state.CompletedStoryIDs)
		return added || completed
	})
	if !ok {
		return models.CollectedEnding{
			CharacterID:   characterID,
			CharacterName: characterName,
			EndingNote:    endingNote,
		}, before, false
	}
	return card, after, true
}

// RecordDualChoice 记录双选择关联记忆，返回记录总数
func (s *StateStore) RecordDualChoice(characterID, choice1, choice2 string) (int, bool) {
	var before, after int
	ok := s.update(func(state *models.PlayerState) bool {
		before = len(state.DualChoiceRecords)
		state.DualChoiceRecords = append(state.DualChoiceRecords, models.DualChoiceRecord{
			CharacterID: characterID,
			Choice1:     choice1,
			Choice2:     choice2,
			Timestamp:   s.now().UTC(),
		})
		after = len(state.DualChoiceRecords)
		return true
	})
	if !ok {
		return before, false
	}
	return after, true
}

// RecordCompanionship 记录一次陪伴方式标签，返回记录总数
func (s *StateStore) RecordCompanionship(characterID, companionshipType string) (int, bool) {
	var before, after int
	ok := s.update(func(state *models.PlayerState) bool {
		before = len(state.Companionships)
		state.Companionships = append(state.Companionships, models.CompanionshipRecord{
			CharacterID:       characterID,
			CompanionshipType: companionshipType,
			Timestamp:         s.now().UTC(),
		})
		after = len(state.Companionships)
		return true
	})
	if !ok {
		return before, false
	}
	return after, true
}

// RecordStoryCompletion 记录故事完成，返回已完成故事数
func (s *StateStore) RecordStoryCompletion(characterID string) (int, bool) {
	var before, after int
	ok := s.update(func(state *models.PlayerState) bool {
		before = len(state.CompletedStoryIDs)
		after = before
		if !completeStory(state, characterID) {
			return false
		}
		after = len(state.CompletedStoryIDs)
		return true
	})
	if !ok {
		return before, false
	}
	return after, true
}

func (s *StateStore) addEnding(state *models.PlayerState, characterID, characterName, endingNote string) bool {
	if state.HasEnding(characterID, endingNote) {
		return false
	}
	state.CollectedEndings = append(state.CollectedEndings, models.CollectedEnding{
		CharacterID:   characterID,
		CharacterName: characterName,
		EndingNote:    endingNote,
		CollectedAt:   s.now().UTC(),
	})
	return true
}

func completeStory(state *models.PlayerState, characterID string) bool {
	if state.HasCompleted(characterID) {
		return false
	}
	state.CompletedStoryIDs = append(state.CompletedStoryIDs, characterID)
	return true
}

// MarkMilestoneShown 标记一次性内容已展示
func (s *StateStore) MarkMilestoneShown(name string) bool {
	return s.update(func(state *models.PlayerState) bool {
		if state.HasFlag(name) {
			return false
		}
		state.OneTimeFlags = append(state.OneTimeFlags, name)
		return true
	})
}

// ClearViewState 只清除视图指针与当前位置，保留历史与收藏
func (s *StateStore) ClearViewState() bool {
	return s.update(func(state *models.PlayerState) bool {
		state.CurrentCharacterID = ""
		state.CurrentEventID = ""
		for _, key := range deprecatedViewKeys {
			delete(state.Extra, key)
		}
		return true
	})
}

// RecentVisits 最近访问的角色，最近的在前
func (s *StateStore) RecentVisits() []models.RecentVisit {
	return s.Load().RecentVisits
}

// CollectedEndings 已收集的结局卡片
func (s *StateStore) CollectedEndings() []models.CollectedEnding {
	return s.Load().CollectedEndings
}

// IsEndingCollected 结局是否已收集
func (s *StateStore) IsEndingCollected(characterID, endingNote string) bool {
	return s.Load().HasEnding(characterID, endingNote)
}

// DualChoice 返回角色最近一次的双选择记录
func (s *StateStore) DualChoice(characterID string) (models.DualChoiceRecord, bool) {
	records := s.Load().DualChoiceRecords
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].CharacterID == characterID {
			return records[i], true
		}
	}
	return models.DualChoiceRecord{}, false
}

// DualChoiceRecords 全部双选择记录
func (s *StateStore) DualChoiceRecords() []models.DualChoiceRecord {
	return s.Load().DualChoiceRecords
}

// Companionships 全部陪伴方式记录
func (s *StateStore) Companionships() []models.CompanionshipRecord {
	return s.Load().Companionships
}

// CurrentPosition 当前阅读位置
func (s *StateStore) CurrentPosition() models.Position {
	return s.Load().Position()
}

// CompletedStoryIDs 已完成的故事
func (s *StateStore) CompletedStoryIDs() []string {
	return s.Load().CompletedStoryIDs
}

// EventLog 事件日志
func (s *StateStore) EventLog() []models.EventLogEntry {
	return s.Load().EventLog
}
