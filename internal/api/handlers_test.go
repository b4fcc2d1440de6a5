package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Corphon/CompanionStories/internal/config"
	"github.com/Corphon/CompanionStories/internal/di"
	apperrors "github.com/Corphon/CompanionStories/internal/errors"
	"github.com/Corphon/CompanionStories/internal/models"
	"github.com/Corphon/CompanionStories/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
}

type testServer struct {
	container *di.Container
	hub       *NavigationHub
	router    *gin.Engine
}

func writeContent(t *testing.T, dir string) {
	t.Helper()

	characters := []models.Character{
		{ID: "a", Name: "阿澄", Description: "雨天的邻居", Avatar: "avatars/a.png"},
	}
	events := []models.Event{
		{ID: "a_scene_001", Type: models.EventScene, Text: "雨开始下了。"},
		{ID: "a_scene_002", Type: models.EventScene, Text: "她站在屋檐下。"},
		{ID: "a_scene_003", Type: models.EventScene, Text: "要留下吗？", Choices: []models.Choice{
			{Text: "留下来", Next: "a_scene_004"},
			{Text: "先离开", Next: "a_scene_004"},
		}},
		{ID: "a_scene_004", Type: models.EventScene, Text: "雨更大了。"},
		{ID: "a_scene_005", Type: models.EventScene, Text: "接下来呢？", Choices: []models.Choice{
			{Text: "一起听雨", Next: "a_ending_001"},
			{Text: "独自回家", Next: "a_ending_002"},
		}},
		{ID: "a_ending_001", Type: models.EventEnding, Text: "雨声作伴。", EndingNote: "雨声作伴"},
		{ID: "a_ending_002", Type: models.EventEnding, Text: "各自珍重。", EndingNote: "各自珍重"},
	}

	writeJSON := func(rel string, v interface{}) {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("创建目录失败: %v", err)
		}
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("序列化失败: %v", err)
		}
		if err := os.WriteFile(full, data, 0644); err != nil {
			t.Fatalf("写入文件失败: %v", err)
		}
	}
	writeJSON("characters.json", characters)
	writeJSON(filepath.Join("stories", "a", "events.json"), events)
	writeJSON(filepath.Join("stories", "a", "meta.json"), map[string]interface{}{"title": "雨天", "difficulty": "easy"})
}

func newTestServer(t *testing.T, initialize bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	contentDir := t.TempDir()
	writeContent(t, contentDir)

	cfg := &config.Config{
		ContentDir:       contentDir,
		DataDir:          t.TempDir(),
		StorageBackend:   config.BackendFile,
		StorageKey:       config.DefaultStorageKey,
		DualChoiceFirst:  "_scene_003",
		DualChoiceSecond: "_scene_005",
		DebugMode:        true,
		HTTPTimeout:      time.Second,
	}

	logger := utils.NewDiscardLogger()
	container, err := di.Build(cfg, logger)
	if err != nil {
		t.Fatalf("构建容器失败: %v", err)
	}
	t.Cleanup(func() { container.Close() })

	if initialize {
		if err := container.Engine().Initialize(context.Background()); err != nil {
			t.Fatalf("初始化引擎失败: %v", err)
		}
	}

	hub := NewNavigationHub(logger)
	container.Engine().Subscribe(hub.Publish)

	router, err := SetupRouter(container, hub, NewRateLimiter())
	if err != nil {
		t.Fatalf("配置路由失败: %v", err)
	}
	return &testServer{container: container, hub: hub, router: router}
}

func (s *testServer) do(t *testing.T, method, target string, body interface{}) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("序列化请求失败: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp envelope
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s 响应不是JSON: %s", method, target, w.Body.String())
	}
	return w.Code, resp
}

func decodeStep(t *testing.T, resp envelope) StepResponse {
	t.Helper()
	var step StepResponse
	if err := json.Unmarshal(resp.Data, &step); err != nil {
		t.Fatalf("解析导航结果失败: %v", err)
	}
	return step
}

func TestStoryFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, true)

	code, resp := s.do(t, http.MethodPost, "/api/story/start", gin.H{"character_id": "a"})
	if code != http.StatusOK || decodeStep(t, resp).Step.Event.ID != "a_scene_001" {
		t.Fatalf("开始故事失败: %d %+v", code, resp)
	}

	for _, want := range []string{"a_scene_002", "a_scene_003"} {
		_, resp = s.do(t, http.MethodPost, "/api/story/continue", nil)
		if got := decodeStep(t, resp).Step.Event.ID; got != want {
			t.Fatalf("期望到达 %s，实际 %s", want, got)
		}
	}

	_, resp = s.do(t, http.MethodPost, "/api/story/choice", gin.H{"index": 0})
	if got := decodeStep(t, resp).Step.Event.ID; got != "a_scene_004" {
		t.Fatalf("选择后期望 a_scene_004，实际 %s", got)
	}
	s.do(t, http.MethodPost, "/api/story/continue", nil)
	_, resp = s.do(t, http.MethodPost, "/api/story/choice", gin.H{"index": 0})
	if got := decodeStep(t, resp).Step.Event.ID; got != "a_ending_001" {
		t.Fatalf("期望到达结局 a_ending_001，实际 %s", got)
	}

	code, resp = s.do(t, http.MethodPost, "/api/story/ending/collect", nil)
	if code != http.StatusCreated {
		t.Fatalf("收集结局期望 201，实际 %d: %+v", code, resp.Error)
	}

	code, resp = s.do(t, http.MethodPost, "/api/story/continue", nil)
	if code != http.StatusOK || !decodeStep(t, resp).Ended {
		t.Fatalf("结局之后应返回 ended: %d %s", code, resp.Data)
	}

	_, resp = s.do(t, http.MethodGet, "/api/state/dual/a", nil)
	var record models.DualChoiceRecord
	if err := json.Unmarshal(resp.Data, &record); err != nil {
		t.Fatalf("解析双选择记录失败: %v", err)
	}
	if record.Choice1 != "留下来" || record.Choice2 != "一起听雨" {
		t.Fatalf("双选择记录不符: %+v", record)
	}

	_, resp = s.do(t, http.MethodGet, "/api/state/endings", nil)
	var endings []models.CollectedEnding
	if err := json.Unmarshal(resp.Data, &endings); err != nil {
		t.Fatalf("解析结局列表失败: %v", err)
	}
	if len(endings) != 1 || endings[0].EndingNote != "雨声作伴" {
		t.Fatalf("结局列表不符: %+v", endings)
	}

	_, resp = s.do(t, http.MethodGet, "/api/state/recent", nil)
	var visits []models.RecentVisit
	if err := json.Unmarshal(resp.Data, &visits); err != nil {
		t.Fatalf("解析最近访问失败: %v", err)
	}
	if len(visits) != 1 || visits[0].CharacterID != "a" {
		t.Fatalf("最近访问不符: %+v", visits)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, true)

	tests := []struct {
		name       string
		prepare    func()
		method     string
		target     string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{
			name:   "choice without current event",
			method: http.MethodPost, target: "/api/story/choice", body: gin.H{"index": 0},
			wantStatus: http.StatusConflict, wantCode: "NO_CURRENT_EVENT",
		},
		{
			name:   "unknown character",
			method: http.MethodPost, target: "/api/story/start", body: gin.H{"character_id": "zz"},
			wantStatus: http.StatusNotFound, wantCode: ErrorCharacterNotFound,
		},
		{
			name:   "malformed body",
			method: http.MethodPost, target: "/api/story/start", body: "{",
			wantStatus: http.StatusBadRequest, wantCode: ErrorBadRequest,
		},
		{
			name:   "missing index",
			method: http.MethodPost, target: "/api/story/choice", body: gin.H{},
			wantStatus: http.StatusBadRequest, wantCode: ErrorBadRequest,
		},
		{
			name: "choice on scene without choices",
			prepare: func() {
				s.do(t, http.MethodPost, "/api/story/start", gin.H{"character_id": "a"})
			},
			method: http.MethodPost, target: "/api/story/choice", body: gin.H{"index": 0},
			wantStatus: http.StatusBadRequest, wantCode: "NO_CHOICES",
		},
		{
			name:   "collect outside ending",
			method: http.MethodPost, target: "/api/story/ending/collect",
			wantStatus: http.StatusConflict, wantCode: "NOT_AN_ENDING",
		},
		{
			name: "choice index out of range",
			prepare: func() {
				s.do(t, http.MethodPost, "/api/story/jump", gin.H{"character_id": "a", "event_id": "a_scene_003"})
			},
			method: http.MethodPost, target: "/api/story/choice", body: gin.H{"index": 5},
			wantStatus: http.StatusBadRequest, wantCode: ErrorChoiceInvalid,
		},
		{
			name:   "jump to unknown event",
			method: http.MethodPost, target: "/api/story/jump", body: gin.H{"character_id": "a", "event_id": "nope"},
			wantStatus: http.StatusNotFound, wantCode: ErrorEventNotFound,
		},
		{
			name:   "missing dual choice",
			method: http.MethodGet, target: "/api/state/dual/a",
			wantStatus: http.StatusNotFound, wantCode: ErrorDualChoiceNotFound,
		},
		{
			name:   "events of unknown character",
			method: http.MethodGet, target: "/api/characters/zz/events",
			wantStatus: http.StatusNotFound, wantCode: ErrorCharacterNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.prepare != nil {
				tt.prepare()
			}
			code, resp := s.do(t, tt.method, tt.target, tt.body)
			if code != tt.wantStatus {
				t.Fatalf("期望状态码 %d，实际 %d", tt.wantStatus, code)
			}
			if resp.Success || resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Fatalf("期望错误代码 %s，实际 %+v", tt.wantCode, resp.Error)
			}
		})
	}
}

func TestUninitializedEngine(t *testing.T) {
	s := newTestServer(t, false)

	code, resp := s.do(t, http.MethodGet, "/api/characters", nil)
	if code != http.StatusServiceUnavailable || resp.Error == nil || resp.Error.Code != ErrorNotInitialized {
		t.Fatalf("未初始化时期望 503 NOT_INITIALIZED，实际 %d %+v", code, resp.Error)
	}

	code, resp = s.do(t, http.MethodPost, "/api/story/start", gin.H{"character_id": "a"})
	if code != http.StatusServiceUnavailable {
		t.Fatalf("未初始化时开始故事期望 503，实际 %d %+v", code, resp.Error)
	}
}

func TestGetCharactersWithMeta(t *testing.T) {
	s := newTestServer(t, true)

	code, resp := s.do(t, http.MethodGet, "/api/characters", nil)
	if code != http.StatusOK {
		t.Fatalf("获取角色失败: %d", code)
	}
	var summaries []models.CharacterSummary
	if err := json.Unmarshal(resp.Data, &summaries); err != nil {
		t.Fatalf("解析角色列表失败: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Name != "阿澄" {
		t.Fatalf("角色列表不符: %+v", summaries)
	}
	meta := summaries[0].Meta
	if meta.Title != "雨天" || meta.Difficulty != "easy" {
		t.Fatalf("元数据不符: %+v", meta)
	}
}

func TestContentValidationErrorDetails(t *testing.T) {
	err := apperrors.NewContentValidationError([]string{"角色 1: 缺少必填字段 'id'", "角色 2: 缺少必填字段 'name'"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	NewResponseHelper().FromError(c, err)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("校验错误期望 422，实际 %d", w.Code)
	}
	var resp envelope
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("响应不是JSON: %v", err)
	}
	if resp.Error.Code != ErrorContentValidationFailed || len(resp.Error.Details) != 2 {
		t.Fatalf("校验明细应原样返回: %+v", resp.Error)
	}
}

func TestStateEndpoints(t *testing.T) {
	s := newTestServer(t, true)

	code, resp := s.do(t, http.MethodPost, "/api/state/companionships", gin.H{"character_id": "a", "companionship_type": "倾听"})
	if code != http.StatusCreated {
		t.Fatalf("记录陪伴方式失败: %d %+v", code, resp.Error)
	}

	_, resp = s.do(t, http.MethodGet, "/api/state", nil)
	var state models.PlayerState
	if err := json.Unmarshal(resp.Data, &state); err != nil {
		t.Fatalf("解析状态失败: %v", err)
	}
	if len(state.Companionships) != 1 || state.InstallationID == "" {
		t.Fatalf("状态不符: %+v", state)
	}

	code, _ = s.do(t, http.MethodDelete, "/api/state", nil)
	if code != http.StatusOK {
		t.Fatalf("清除存档失败: %d", code)
	}
	if got := s.container.Store().Companionships(); len(got) != 0 {
		t.Fatalf("清除后不应有陪伴记录: %+v", got)
	}
}

func TestMilestoneEndpoints(t *testing.T) {
	s := newTestServer(t, true)

	code, resp := s.do(t, http.MethodPost, "/api/milestones/unknown/shown", nil)
	if code != http.StatusNotFound || resp.Error == nil || resp.Error.Code != ErrorMilestoneNotFound {
		t.Fatalf("未登记的里程碑期望 404 %s，实际 %d %+v", ErrorMilestoneNotFound, code, resp.Error)
	}

	code, _ = s.do(t, http.MethodPost, "/api/milestones/realization_moment/shown", nil)
	if code != http.StatusOK {
		t.Fatalf("标记里程碑失败: %d", code)
	}

	code, resp = s.do(t, http.MethodGet, "/api/milestones/hub?top=2", nil)
	if code != http.StatusOK {
		t.Fatalf("获取入口汇总失败: %d", code)
	}
	if !strings.Contains(string(resp.Data), `"shown_milestones":["realization_moment"]`) {
		t.Fatalf("入口汇总应包含已展示的里程碑: %s", resp.Data)
	}

	code, _ = s.do(t, http.MethodGet, "/api/milestones/hub?top=x", nil)
	if code != http.StatusBadRequest {
		t.Fatalf("非法 top 参数期望 400，实际 %d", code)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"character not found", apperrors.NewCharacterNotFoundError("zz"), http.StatusNotFound, "CHARACTER_NOT_FOUND"},
		{"event not found", apperrors.NewEventNotFoundError("a", "x"), http.StatusNotFound, "EVENT_NOT_FOUND"},
		{"not initialized", apperrors.NewNotInitializedError(), http.StatusServiceUnavailable, "NOT_INITIALIZED"},
		{"content load", apperrors.NewContentLoadError("读取失败", nil), http.StatusServiceUnavailable, "CONTENT_LOAD_FAILED"},
		{"already initialized", apperrors.NewAlreadyInitializedError(), http.StatusConflict, "ALREADY_INITIALIZED"},
		{"no current event", apperrors.NewNoCurrentEventError(), http.StatusConflict, "NO_CURRENT_EVENT"},
		{"not an ending", apperrors.NewNotAnEndingError("a1"), http.StatusConflict, "NOT_AN_ENDING"},
		{"content validation", apperrors.NewContentValidationError([]string{"x"}), http.StatusUnprocessableEntity, ErrorContentValidationFailed},
		{"content shape", apperrors.NewContentShapeError("不是数组"), http.StatusUnprocessableEntity, "CONTENT_SHAPE_INVALID"},
		{"empty story", apperrors.NewEmptyStoryError("a"), http.StatusBadRequest, "EMPTY_STORY"},
		{"invalid index", apperrors.NewInvalidChoiceIndexError(3, 1), http.StatusBadRequest, ErrorChoiceInvalid},
		{"next event missing", apperrors.NewNextEventNotFoundError("a", "x"), http.StatusInternalServerError, "NEXT_EVENT_NOT_FOUND"},
		{"plain error", context.Canceled, http.StatusInternalServerError, ErrorInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := statusForError(tt.err)
			if status != tt.wantStatus || code != tt.wantCode {
				t.Fatalf("期望 %d %s，实际 %d %s", tt.wantStatus, tt.wantCode, status, code)
			}
		})
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if got := w.Header().Get(requestIDHeader); got != "req-123" {
		t.Fatalf("应沿用客户端的请求ID，实际 %q", got)
	}
	var resp envelope
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.RequestID != "req-123" {
		t.Fatalf("响应体中的请求ID不符: %q", resp.RequestID)
	}

	_, resp = s.do(t, http.MethodGet, "/api/health", nil)
	if resp.RequestID == "" {
		t.Fatal("未提供请求ID时应自动生成")
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if !limiter.Allow("ip", 2, time.Minute) {
			t.Fatalf("第 %d 次请求应被允许", i+1)
		}
	}
	if limiter.Allow("ip", 2, time.Minute) {
		t.Fatal("超过限额的请求应被拒绝")
	}

	now = now.Add(2 * time.Minute)
	if !limiter.Allow("ip", 2, time.Minute) {
		t.Fatal("窗口过期后应重新允许")
	}

	now = now.Add(2 * time.Minute)
	limiter.cleanup()
	if len(limiter.visitors) != 0 {
		t.Fatalf("过期访客应被清理，剩余 %d", len(limiter.visitors))
	}
}

func TestWebSocketReceivesNavigation(t *testing.T) {
	s := newTestServer(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	server := httptest.NewServer(s.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/story"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("连接 WebSocket 失败: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var message struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&message); err != nil || message.Type != MessageTypeWelcome {
		t.Fatalf("期望欢迎消息，实际 %+v (%v)", message, err)
	}

	resp, err := http.Post(server.URL+"/api/story/start", "application/json", strings.NewReader(`{"character_id":"a"}`))
	if err != nil {
		t.Fatalf("开始故事请求失败: %v", err)
	}
	resp.Body.Close()

	if err := conn.ReadJSON(&message); err != nil {
		t.Fatalf("读取导航消息失败: %v", err)
	}
	if message.Type != MessageTypeNavigation {
		t.Fatalf("期望导航消息，实际 %s", message.Type)
	}
	var event models.NavigationEvent
	if err := json.Unmarshal(message.Data, &event); err != nil {
		t.Fatalf("解析导航事件失败: %v", err)
	}
	if event.Kind != models.NavigationStart || event.EventID != "a_scene_001" {
		t.Fatalf("导航事件不符: %+v", event)
	}
}
