// internal/services/milestone_evaluator.go
package services

import (
	"sort"

	"github.com/Corphon/CompanionStories/internal/models"
)

// MilestoneRealizationMoment 已登记的一次性里程碑
const MilestoneRealizationMoment = "realization_moment"

// companionshipSummaryThreshold 入口页常驻陪伴总结的角色数门槛
const companionshipSummaryThreshold = 3

// StateReader 里程碑计算所需的状态读取与标记接口
type StateReader interface {
	Load() *models.PlayerState
	MarkMilestoneShown(name string) bool
}

// milestoneRule 里程碑触发条件
type milestoneRule struct {
	name    string
	trigger func(state *models.PlayerState) bool
}

var milestoneRules = []milestoneRule{
	{
		name:    MilestoneRealizationMoment,
		trigger: func(state *models.PlayerState) bool { return completedCount(state) >= 5 },
	},
}

// IsKnownMilestone 名称是否为已登记的里程碑
func IsKnownMilestone(name string) bool {
	for _, rule := range milestoneRules {
		if rule.name == name {
			return true
		}
	}
	return false
}

// HubStatus 入口页需要的汇总信息
type HubStatus struct {
	CompletedCount    int                  `json:"completed_count"`
	CompanionedCount  int                  `json:"companioned_count"`
	CollectedCount    int                  `json:"collected_count"`
	TopCompanionships []string             `json:"top_companionships"`
	RecentVisits      []models.RecentVisit `json:"recent_visits"`
	DueMilestones     []string             `json:"due_milestones"`
	ShownMilestones   []string             `json:"shown_milestones"`

	// 每次渲染入口页都会展示，不是一次性内容
	ShowCompanionshipSummary bool `json:"show_companionship_summary"`
}

// MilestoneEvaluator 基于持久化状态的只读派生计算
type MilestoneEvaluator struct {
	store StateReader
}

// NewMilestoneEvaluator 创建里程碑计算器
func NewMilestoneEvaluator(store StateReader) *MilestoneEvaluator {
	return &MilestoneEvaluator{store: store}
}

// CompletedCount 已完成的故事数
func (m *MilestoneEvaluator) CompletedCount() int {
	return completedCount(m.store.Load())
}

// CompanionedCount 有双选择记录的不同角色数
func (m *MilestoneEvaluator) CompanionedCount() int {
	return companionedCount(m.store.Load())
}

// TopCompanionshipTypes 按出现次数降序返回前 n 个陪伴方式，次数相同时先出现的在前
func (m *MilestoneEvaluator) TopCompanionshipTypes(n int) []string {
	return topCompanionshipTypes(m.store.Load(), n)
}

// ShouldShowOneTimeMilestone 条件满足且从未展示过时为 true；未登记的名称始终为 false
func (m *MilestoneEvaluator) ShouldShowOneTimeMilestone(name string) bool {
	state := m.store.Load()
	for _, rule := range milestoneRules {
		if rule.name == name {
			return rule.trigger(state) && !state.HasFlag(name)
		}
	}
	return false
}

// MarkShown 标记里程碑已展示，展示前后须立即调用一次
func (m *MilestoneEvaluator) MarkShown(name string) bool {
	return m.store.MarkMilestoneShown(name)
}

// HubStatus 汇总入口页所需的派生数据
func (m *MilestoneEvaluator) HubStatus(topN int) HubStatus {
	state := m.store.Load()

	status := HubStatus{
		CompletedCount:    completedCount(state),
		CompanionedCount:  companionedCount(state),
		CollectedCount:    len(state.CollectedEndings),
		TopCompanionships: topCompanionshipTypes(state, topN),
		RecentVisits:      state.RecentVisits,
		DueMilestones:     []string{},
		ShownMilestones:   []string{},

		ShowCompanionshipSummary: companionedCount(state) >= companionshipSummaryThreshold,
	}
	for _, rule := range milestoneRules {
		switch {
		case state.HasFlag(rule.name):
			status.ShownMilestones = append(status.ShownMilestones, rule.name)
		case rule.trigger(state):
			status.DueMilestones = append(status.DueMilestones, rule.name)
		}
	}
	return status
}

func completedCount(state *models.PlayerState) int {
	return len(state.CompletedStoryIDs)
}

func companionedCount(state *models.PlayerState) int {
	characters := make(map[string]struct{}, len(state.DualChoiceRecords))
	for _, record := range state.DualChoiceRecords {
		characters[record.CharacterID] = struct{}{}
	}
	return len(characters)
}

func topCompanionshipTypes(state *models.PlayerState, n int) []string {
	if n <= 0 {
		return []string{}
	}

	counts := make(map[string]int)
	var order []string
	for _, record := range state.Companionships {
		if _, seen := counts[record.CompanionshipType]; !seen {
			order = append(order, record.CompanionshipType)
		}
		counts[record.CompanionshipType]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > n {
		order = order[:n]
	}
	if order == nil {
		order = []string{}
	}
	return order
}
