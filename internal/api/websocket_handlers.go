// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// WebSocketConnWrapper 包装真实的 websocket.Conn 以实现接口
type WebSocketConnWrapper struct {
	*websocket.Conn
}

// Serve 升级连接并阻塞到连接关闭，welcome 作为第一条消息发送
func (hub *NavigationHub) Serve(w http.ResponseWriter, r *http.Request, welcome interface{}) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("WebSocket 升级失败", map[string]interface{}{"error": err.Error()})
		return
	}

	client := newWebSocketClient(&WebSocketConnWrapper{conn})

	hub.registerClient(client)
	defer hub.unregisterClient(client)

	go hub.writeLoop(client)

	hub.sendTo(client, WebSocketMessage{
		Type:      MessageTypeWelcome,
		Data:      welcome,
		Timestamp: time.Now().UTC(),
	})

	hub.readLoop(client)
}

// readLoop 处理客户端消息，连接出错时返回
func (hub *NavigationHub) readLoop(client *WebSocketClient) {
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for !client.IsClosed() {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				hub.logger.Warn("WebSocket 读取错误", map[string]interface{}{
					"client_id": client.id,
					"error":     err.Error(),
				})
			}
			return
		}

		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		hub.handleMessage(client, data)
	}
}

// handleMessage 客户端只能发送 ping，其余消息回复错误
func (hub *NavigationHub) handleMessage(client *WebSocketClient, data []byte) {
	var message struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &message); err != nil {
		hub.sendTo(client, WebSocketMessage{Type: MessageTypeError, Error: "无效的消息格式", Timestamp: time.Now().UTC()})
		return
	}

	switch message.Type {
	case "ping":
		hub.sendTo(client, WebSocketMessage{Type: MessageTypePong, Timestamp: time.Now().UTC()})
	default:
		hub.sendTo(client, WebSocketMessage{Type: MessageTypeError, Error: "不支持的消息类型: " + message.Type, Timestamp: time.Now().UTC()})
	}
}

func (hub *NavigationHub) sendTo(client *WebSocketClient, message WebSocketMessage) {
	payload, err := json.Marshal(message)
	if err != nil {
		hub.logger.Error("序列化消息失败", map[string]interface{}{"error": err.Error()})
		return
	}
	if !client.enqueue(payload) {
		hub.logger.Warn("客户端消息队列已满，消息被丢弃", map[string]interface{}{"client_id": client.id})
	}
}

// writeLoop 串行写出队列中的消息并定时发送 ping
func (hub *NavigationHub) writeLoop(client *WebSocketClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case <-client.done:
			return

		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
