// internal/api/handlers.go
package api

import (
	"net/http"
	"strconv"

	apperrors "github.com/Corphon/CompanionStories/internal/errors"
	"github.com/Corphon/CompanionStories/internal/models"
	"github.com/Corphon/CompanionStories/internal/services"
	"github.com/Corphon/CompanionStories/internal/utils"
	"github.com/gin-gonic/gin"
)

// Handler 处理API请求
type Handler struct {
	Engine     *services.StoryEngine        // 故事引擎
	Store      *services.StateStore         // 玩家状态
	Milestones *services.MilestoneEvaluator // 里程碑
	Repository *services.ContentRepository  // 内容仓库（元数据）
	Hub        *NavigationHub               // 导航事件广播
	Logger     *utils.Logger
	Response   *ResponseHelper // 响应助手
}

// StartStoryRequest 开始故事
type StartStoryRequest struct {
	CharacterID string `json:"character_id" binding:"required"`
}

// ChoiceRequest 选择选项，index 从0开始
type ChoiceRequest struct {
	Index *int `json:"index" binding:"required"`
}

// JumpRequest 直接跳转到指定事件
type JumpRequest struct {
	CharacterID string `json:"character_id" binding:"required"`
	EventID     string `json:"event_id" binding:"required"`
}

// CompanionshipRequest 记录陪伴方式
type CompanionshipRequest struct {
	CharacterID       string `json:"character_id" binding:"required"`
	CompanionshipType string `json:"companionship_type" binding:"required"`
}

// StepResponse 导航结果；Ended 为 true 时没有下一步，展示层应回到入口
type StepResponse struct {
	Step  *models.Step `json:"step"`
	Ended bool         `json:"ended"`
}

// NewHandler 创建API处理器
func NewHandler(
	engine *services.StoryEngine,
	store *services.StateStore,
	milestones *services.MilestoneEvaluator,
	repository *services.ContentRepository,
	hub *NavigationHub,
	logger *utils.Logger,
) *Handler {
	return &Handler{
		Engine:     engine,
		Store:      store,
		Milestones: milestones,
		Repository: repository,
		Hub:        hub,
		Logger:     logger,
		Response:   NewResponseHelper(),
	}
}

// ------------------------------------------------
// 内容

// Health 服务状态
func (h *Handler) Health(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"initialized": h.Engine.IsInitialized(),
		"characters":  len(h.Engine.Characters()),
		"ws_clients":  h.Hub.ClientCount(),
	})
}

// GetCharacters 角色列表，附带可选的故事元数据
func (h *Handler) GetCharacters(c *gin.Context) {
	if !h.Engine.IsInitialized() {
		h.Response.FromError(c, apperrors.NewNotInitializedError())
		return
	}

	characters := h.Engine.Characters()
	summaries := make([]models.CharacterSummary, 0, len(characters))
	for _, character := range characters {
		summaries = append(summaries, models.CharacterSummary{
			Character: character,
			Meta:      h.Repository.LoadOptionalMeta(c.Request.Context(), character.ID),
		})
	}

	h.Response.Success(c, summaries, "角色列表获取成功")
}

// GetCharacterEvents 角色故事的全部事件
func (h *Handler) GetCharacterEvents(c *gin.Context) {
	events, err := h.Engine.EventsFor(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, events)
}

// ------------------------------------------------
// 故事导航

// StartStory 从入口事件开始故事
func (h *Handler) StartStory(c *gin.Context) {
	var req StartStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "参数格式错误: "+err.Error())
		return
	}

	step, err := h.Engine.StartStory(req.CharacterID)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, StepResponse{Step: step}, "故事已开始")
}

// ContinueStory 顺延到下一个事件
func (h *Handler) ContinueStory(c *gin.Context) {
	step, err := h.Engine.ContinueLinear()
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	if step == nil {
		h.Response.Success(c, StepResponse{Ended: true}, "故事已结束")
		return
	}
	h.Response.Success(c, StepResponse{Step: step})
}

// MakeChoice 选择当前事件的选项
func (h *Handler) MakeChoice(c *gin.Context) {
	var req ChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "参数格式错误: "+err.Error())
		return
	}

	step, err := h.Engine.MakeChoice(*req.Index)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, StepResponse{Step: step}, "选择执行成功")
}

// JumpToEvent 直接跳转到事件，不记录进度
func (h *Handler) JumpToEvent(c *gin.Context) {
	var req JumpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "参数格式错误: "+err.Error())
		return
	}

	step, err := h.Engine.ContinueToEvent(req.CharacterID, req.EventID)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, StepResponse{Step: step})
}

// CollectEnding 收集当前结局
func (h *Handler) CollectEnding(c *gin.Context) {
	result, err := h.Engine.CollectEnding()
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, result, "结局卡片已收集")
}

// ResetStory 回到入口
func (h *Handler) ResetStory(c *gin.Context) {
	h.Engine.Reset()
	h.Response.Success(c, h.Engine.Status(), "已回到入口")
}

// GetCurrentStory 当前位置
func (h *Handler) GetCurrentStory(c *gin.Context) {
	h.Response.Success(c, h.Engine.Status())
}

// ------------------------------------------------
// 玩家状态

// GetState 完整的持久化记录
func (h *Handler) GetState(c *gin.Context) {
	h.Response.Success(c, h.Store.Load())
}

// ClearState 删除持久化记录
func (h *Handler) ClearState(c *gin.Context) {
	if !h.Store.Clear() {
		h.Response.InternalError(c, "清除存档失败")
		return
	}
	h.Response.Success(c, nil, "存档已清除")
}

// GetRecentVisits 最近访问的角色
func (h *Handler) GetRecentVisits(c *gin.Context) {
	h.Response.Success(c, h.Store.RecentVisits())
}

// GetCollectedEndings 已收集的结局卡片
func (h *Handler) GetCollectedEndings(c *gin.Context) {
	h.Response.Success(c, h.Store.CollectedEndings())
}

// GetDualChoice 角色最近一次的双选择记录
func (h *Handler) GetDualChoice(c *gin.Context) {
	characterID := c.Param("character_id")
	record, ok := h.Store.DualChoice(characterID)
	if !ok {
		h.Response.NotFound(c, "双选择记录", "角色ID: "+characterID)
		return
	}
	h.Response.Success(c, record)
}

// RecordCompanionship 记录一次陪伴方式
func (h *Handler) RecordCompanionship(c *gin.Context) {
	var req CompanionshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "参数格式错误: "+err.Error())
		return
	}

	count, ok := h.Store.RecordCompanionship(req.CharacterID, req.CompanionshipType)
	if !ok {
		h.Response.Error(c, http.StatusInternalServerError, ErrorStateNotPersisted, "陪伴记录未能保存")
		return
	}
	h.Response.Created(c, gin.H{"count": count}, "陪伴记录已保存")
}

// ------------------------------------------------
// 里程碑

// GetHubStatus 入口页汇总，top 指定陪伴方式数量（默认3）
func (h *Handler) GetHubStatus(c *gin.Context) {
	topN := 3
	if raw := c.Query("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.Response.BadRequest(c, "top 参数必须是非负整数")
			return
		}
		topN = n
	}
	h.Response.Success(c, h.Milestones.HubStatus(topN))
}

// MarkMilestoneShown 标记一次性里程碑已展示
func (h *Handler) MarkMilestoneShown(c *gin.Context) {
	name := c.Param("name")
	if !services.IsKnownMilestone(name) {
		h.Response.NotFound(c, "里程碑", "名称: "+name)
		return
	}
	if !h.Milestones.MarkShown(name) {
		h.Response.Error(c, http.StatusInternalServerError, ErrorStateNotPersisted, "里程碑状态未能保存")
		return
	}
	h.Response.Success(c, gin.H{"name": name, "shown": true})
}

// ------------------------------------------------
// WebSocket

// StoryWebSocket 订阅导航事件
func (h *Handler) StoryWebSocket(c *gin.Context) {
	h.Hub.Serve(c.Writer, c.Request, h.Engine.Status())
}

// GetWebSocketStatus 连接状态
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	h.Response.Success(c, h.Hub.GetStatus())
}
