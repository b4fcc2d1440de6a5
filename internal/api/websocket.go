// internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/CompanionStories/internal/models"
	"github.com/Corphon/CompanionStories/internal/services"
	"github.com/Corphon/CompanionStories/internal/utils"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocket 消息类型
const (
	MessageTypeWelcome    = "welcome"
	MessageTypeNavigation = "navigation"
	MessageTypeValidation = "content_validation"
	MessageTypePong       = "pong"
	MessageTypeError      = "error"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 只在本机提供服务
		return true
	},
}

// WebSocketMessage 推送给客户端的消息
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient 表示一个 WebSocket 客户端连接
type WebSocketClient struct {
	id        string
	conn      WebSocketConnection
	send      chan []byte
	done      chan struct{}
	closed    int32 // 原子操作标志，0=开启，1=关闭
	lastPing  atomic.Int64
	createdAt time.Time
}

func newWebSocketClient(conn WebSocketConnection) *WebSocketClient {
	client := &WebSocketClient{
		id:        uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// Close 安全关闭客户端连接，可重复调用
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后ping时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, client.lastPing.Load())) > timeout
}

// enqueue 非阻塞地放入发送队列，队列满时返回 false
func (client *WebSocketClient) enqueue(message []byte) bool {
	if client.IsClosed() {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// NavigationHub 把引擎导航事件广播给所有 WebSocket 客户端
type NavigationHub struct {
	clients     map[*WebSocketClient]struct{}
	broadcast   chan []byte
	mutex       sync.RWMutex
	pingTimeout time.Duration
	logger      *utils.Logger
}

// NewNavigationHub 创建广播中心，需调用 Run 启动
func NewNavigationHub(logger *utils.Logger) *NavigationHub {
	return &NavigationHub{
		clients:     make(map[*WebSocketClient]struct{}),
		broadcast:   make(chan []byte, 256),
		pingTimeout: 60 * time.Second,
		logger:      logger,
	}
}

// Run 运行广播主循环，直到 ctx 结束
func (hub *NavigationHub) Run(ctx context.Context) {
	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case message := <-hub.broadcast:
			hub.broadcastMessage(message)

		case <-cleanupTicker.C:
			hub.cleanupExpiredConnections()

		case <-ctx.Done():
			hub.shutdown()
			return
		}
	}
}

// Publish 作为引擎观察者使用，不会阻塞导航
func (hub *NavigationHub) Publish(event models.NavigationEvent) {
	hub.enqueue(WebSocketMessage{
		Type:      MessageTypeNavigation,
		Data:      event,
		Timestamp: event.Timestamp,
	})
}

// PublishValidation 推送内容重新校验的结果
func (hub *NavigationHub) PublishValidation(result services.ValidationResult, err error) {
	message := WebSocketMessage{
		Type:      MessageTypeValidation,
		Data:      result,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		message.Error = err.Error()
	}
	hub.enqueue(message)
}

func (hub *NavigationHub) enqueue(message WebSocketMessage) {
	payload, err := json.Marshal(message)
	if err != nil {
		hub.logger.Error("序列化广播消息失败", map[string]interface{}{"error": err.Error()})
		return
	}

	select {
	case hub.broadcast <- payload:
	default:
		hub.logger.Warn("广播队列已满，消息被丢弃", map[string]interface{}{"type": message.Type})
	}
}

// ClientCount 当前连接数
func (hub *NavigationHub) ClientCount() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.clients)
}

// GetStatus 获取广播中心状态
func (hub *NavigationHub) GetStatus() map[string]interface{} {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()

	clients := make([]map[string]interface{}, 0, len(hub.clients))
	for client := range hub.clients {
		if client.IsClosed() {
			continue
		}
		clients = append(clients, map[string]interface{}{
			"client_id":    client.id,
			"connected_at": client.createdAt.Format(time.RFC3339),
			"last_ping":    time.Unix(0, client.lastPing.Load()).Format(time.RFC3339),
		})
	}

	return map[string]interface{}{
		"total_connections": len(clients),
		"clients":           clients,
	}
}

func (hub *NavigationHub) registerClient(client *WebSocketClient) {
	if client == nil {
		return
	}

	hub.mutex.Lock()
	hub.clients[client] = struct{}{}
	count := len(hub.clients)
	hub.mutex.Unlock()

	hub.logger.Info("WebSocket 客户端已连接", map[string]interface{}{
		"client_id":   client.id,
		"connections": count,
	})
}

func (hub *NavigationHub) unregisterClient(client *WebSocketClient) {
	if client == nil {
		return
	}

	hub.mutex.Lock()
	_, exists := hub.clients[client]
	delete(hub.clients, client)
	hub.mutex.Unlock()

	client.Close()
	if exists {
		hub.logger.Info("WebSocket 客户端已断开连接", map[string]interface{}{"client_id": client.id})
	}
}

// cleanupExpiredConnections 清理过期和死连接
func (hub *NavigationHub) cleanupExpiredConnections() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for client := range hub.clients {
		if client.IsClosed() || client.IsExpired(hub.pingTimeout) {
			delete(hub.clients, client)
			client.Close()
		}
	}
}

// broadcastMessage 发送队列已满的客户端会被断开
func (hub *NavigationHub) broadcastMessage(message []byte) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for client := range hub.clients {
		if !client.enqueue(message) {
			delete(hub.clients, client)
			client.Close()
		}
	}
}

func (hub *NavigationHub) shutdown() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for client := range hub.clients {
		client.Close()
	}
	hub.clients = make(map[*WebSocketClient]struct{})

	hub.logger.Info("WebSocket 广播中心已关闭", nil)
}
