package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/middleware"
	"relaymail/backend/internal/monitoring"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeActivity    MessageType = "activity"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeError       MessageType = "error"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	AliasID   uint64          `json:"aliasId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ActivityData 活动推送数据
type ActivityData struct {
	AliasID      uint64 `json:"alias_id"`
	Action       string `json:"action"`
	From         string `json:"from"`
	To           string `json:"to"`
	Timestamp    int64  `json:"timestamp"`
	ReverseAlias string `json:"reverse_alias"`
}

// Client 代表一个WebSocket客户端连接
//
// 默认接收用户所有别名的活动；发送 subscribe 后只接收订阅的别名。
type Client struct {
	ID     string
	UserID string

	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	mu      sync.RWMutex
	aliases map[uint64]bool

	sendMu sync.Mutex
	closed bool
}

// enqueue 非阻塞写入发送队列，队列已关闭或已满时返回 false
func (c *Client) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend 关闭发送队列，重复调用无副作用
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// wants 判断客户端是否关心该别名
func (c *Client) wants(aliasID uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.aliases) == 0 || c.aliases[aliasID]
}

type delivery struct {
	userID  string
	aliasID uint64
	data    []byte
}

// Hub 管理所有WebSocket连接，按用户分组
type Hub struct {
	clients    map[string]*Client            // clientID -> Client
	users      map[string]map[string]*Client // userID -> clientID -> Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan delivery
	done       chan struct{}
	mu         sync.RWMutex

	log            *zap.Logger
	metrics        *monitoring.Metrics
	allowedOrigins []string
}

// NewHub 创建WebSocket Hub
//
// 参数:
//   - allowedOrigins: 允许的 Origin 列表，为空时允许所有来源
//   - metrics: 可以为 nil
//   - log: 日志记录器
func NewHub(allowedOrigins []string, metrics *monitoring.Metrics, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:        make(map[string]*Client),
		users:          make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan delivery, 256),
		done:           make(chan struct{}),
		log:            log,
		metrics:        metrics,
		allowedOrigins: allowedOrigins,
	}
}

// Run 启动Hub，ctx 取消时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			close(h.done)
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			if h.users[client.UserID] == nil {
				h.users[client.UserID] = make(map[string]*Client)
			}
			h.users[client.UserID][client.ID] = client
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWebsocketClients(n)
			h.log.Debug("client registered", zap.String("id", client.ID), zap.String("user_id", client.UserID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				if peers := h.users[client.UserID]; peers != nil {
					delete(peers, client.ID)
					if len(peers) == 0 {
						delete(h.users, client.UserID)
					}
				}
				client.closeSend()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWebsocketClients(n)
			h.log.Debug("client unregistered", zap.String("id", client.ID))

		case d := <-h.broadcast:
			h.deliver(d)
		}
	}
}

// NotifyActivity 推送一条活动给该用户的所有连接，队列满时丢弃
func (h *Hub) NotifyActivity(userID string, aliasID uint64, view domain.ActivityView) {
	data, err := json.Marshal(ActivityData{
		AliasID:      aliasID,
		Action:       string(view.Action),
		From:         view.From,
		To:           view.To,
		Timestamp:    view.Timestamp.Unix(),
		ReverseAlias: view.ReverseAlias,
	})
	if err != nil {
		h.log.Error("failed to marshal activity", zap.Error(err))
		return
	}
	msg, err := json.Marshal(&Message{
		Type:      MessageTypeActivity,
		AliasID:   aliasID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- delivery{userID: userID, aliasID: aliasID, data: msg}:
	default:
		h.log.Warn("broadcast queue full, dropping activity", zap.String("user_id", userID))
	}
}

// ClientCount 返回用户当前的连接数
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func (h *Hub) deliver(d delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.users[d.userID] {
		if !client.wants(d.aliasID) {
			continue
		}
		if !client.enqueue(d.data) {
			h.log.Warn("client channel blocked, skipping", zap.String("client_id", client.ID))
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		client.closeSend()
	}
	h.clients = make(map[string]*Client)
	h.users = make(map[string]map[string]*Client)
	h.metrics.SetWebsocketClients(0)
}

// HandleWebSocket 处理WebSocket连接，需要挂在认证中间件之后
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:      uuid.NewString(),
			UserID:  user.ID,
			conn:    conn,
			send:    make(chan []byte, sendBuffer),
			hub:     hub,
			aliases: make(map[uint64]bool),
		}
		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket closed", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if msg.AliasID == 0 {
			c.sendError("aliasId is required")
			return
		}
		c.mu.Lock()
		c.aliases[msg.AliasID] = true
		c.mu.Unlock()
		c.sendMessage(&Message{Type: MessageTypeSubscribed, AliasID: msg.AliasID, Timestamp: time.Now().UTC()})
	case MessageTypeUnsubscribe:
		c.mu.Lock()
		delete(c.aliases, msg.AliasID)
		c.mu.Unlock()
	case MessageTypePing:
		c.sendMessage(&Message{Type: MessageTypePong, Timestamp: time.Now().UTC()})
	case MessageTypePong:
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	default:
		c.sendError("unknown message type")
	}
}

// sendError 发送错误消息给客户端
func (c *Client) sendError(errMsg string) {
	c.sendMessage(&Message{Type: MessageTypeError, Error: errMsg, Timestamp: time.Now().UTC()})
}

// sendMessage 发送消息给客户端
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if !c.enqueue(data) {
		c.hub.log.Debug("client channel closed or blocked", zap.String("client_id", c.ID))
	}
}
