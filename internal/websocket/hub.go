package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	authjwt "contactform/backend/internal/auth/jwt"
	"contactform/backend/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	previewLength = 100
)

// TokenValidator 校验管理令牌
type TokenValidator interface {
	ValidateToken(token string) (*authjwt.Claims, error)
}

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
				if origin == "*" || requestOrigin == origin {
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
	MessageTypeSubmission MessageType = "submission"
	MessageTypeConnected  MessageType = "connected"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// SubmissionEvent 新提交通知数据
type SubmissionEvent struct {
	ID         string `json:"id"`
	ReceivedAt string `json:"receivedAt"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Preview    string `json:"preview,omitempty"`
	HasAudio   bool   `json:"hasAudio"`
	Status     string `json:"status"`
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID      string
	Subject string // 令牌主体（未启用认证时为空）
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	log     *zap.Logger
}

// Hub 管理订阅提交动态的管理端连接
type Hub struct {
	clients        map[string]*Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan []byte
	done           chan struct{}
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string
	validator      TokenValidator
}

// NewHub 创建WebSocket Hub
//
// 参数:
//   - allowedOrigins: 允许的 Origin 列表，用于 WebSocket 连接验证
//   - validator: 管理令牌校验器，为 nil 时不做认证
//   - logger: 日志记录器
func NewHub(allowedOrigins []string, validator TokenValidator, logger *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Hub{
		clients:        make(map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan []byte, 256),
		done:           make(chan struct{}),
		log:            logger,
		allowedOrigins: allowedOrigins,
		validator:      validator,
	}
}

// Run 启动Hub，ctx 结束时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.log.Debug("client registered", zap.String("id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
				h.log.Debug("client unregistered", zap.String("id", client.ID))
			}
			h.mu.Unlock()

		case data := <-h.broadcast:
			h.broadcastAll(data)
		}
	}
}

// ClientCount 返回当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NotifySubmission 向所有管理端连接推送新提交，不会阻塞调用方
func (h *Hub) NotifySubmission(sub *domain.Submission) {
	event := SubmissionEvent{
		ID:         sub.ID,
		ReceivedAt: sub.ReceivedAt.Format(time.RFC3339),
		Name:       sub.Name,
		Email:      sub.Email,
		Preview:    preview(sub.Message),
		HasAudio:   sub.HasAudio(),
		Status:     string(sub.Status),
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal submission event", zap.Error(err))
		return
	}

	msg, err := json.Marshal(&Message{Type: MessageTypeSubmission, Data: data, Timestamp: time.Now()})
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.log.Warn("websocket broadcast queue full, dropping event", zap.String("submission_id", sub.ID))
	}
}

// broadcastAll 向所有客户端广播消息
func (h *Hub) broadcastAll(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
}

// authenticate 从查询参数或 Authorization 头读取令牌并校验
func (h *Hub) authenticate(c *gin.Context) (string, error) {
	if h.validator == nil {
		return "", nil
	}

	token := c.Query("token")
	if token == "" {
		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			token = parts[1]
		}
	}

	if token == "" {
		return "", errors.New("missing authentication token")
	}

	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		return "", err
	}

	return claims.Subject, nil
}

// HandleWebSocket 处理WebSocket连接
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		subject, err := hub.authenticate(c)
		if err != nil {
			hub.log.Warn("websocket authentication failed",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Authentification requise"})
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
			Subject: subject,
			conn:    conn,
			send:    make(chan []byte, 64),
			hub:     hub,
			log:     hub.log,
		}

		client.sendMessage(&Message{Type: MessageTypeConnected, Timestamp: time.Now()})

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

// readPump 读取并丢弃客户端消息，用于处理 pong 和检测断开
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
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
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendMessage 发送消息给客户端
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.log.Warn("client channel blocked", zap.String("clientID", c.ID))
	}
}

func preview(message string) string {
	if utf8.RuneCountInString(message) <= previewLength {
		return message
	}
	return string([]rune(message)[:previewLength]) + "…"
}
