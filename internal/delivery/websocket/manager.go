package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"storybook-server/pkg/taskmanager"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBufferSize = 256
)

// Manager управляет WebSocket-соединениями и рассылает обновления по темам.
type Manager struct {
	clients    map[uuid.UUID]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

var _ taskmanager.Notifier = (*Manager)(nil)

// Client представляет WebSocket-клиента
type Client struct {
	ID      uuid.UUID
	Conn    *websocket.Conn
	Manager *Manager
	Send    chan []byte

	topicsMu sync.RWMutex
	topics   map[string]bool
}

// Message сообщение для отправки через WebSocket
type Message struct {
	Type    string      `json:"type"`
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// NewManager создает менеджер. allowedOrigins пустой или "*" разрешает любой Origin.
func NewManager(allowedOrigins []string, logger *zap.Logger) *Manager {
	m := &Manager{
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, sendBufferSize),
		done:       make(chan struct{}),
		logger:     logger.Named("WebSocketManager"),
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return m
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return len(set) == 0 || origin == "" || set[origin]
	}
}

// Run обрабатывает регистрацию и рассылку до отмены ctx. Затем закрывает все соединения.
func (m *Manager) Run(ctx context.Context) error {
	defer m.closeAll()
	for {
		select {
		case <-ctx.Done():
			close(m.done)
			return nil

		case client := <-m.register:
			m.mu.Lock()
			m.clients[client.ID] = client
			m.mu.Unlock()
			m.logger.Debug("Client connected", zap.String("client_id", client.ID.String()))

		case client := <-m.unregister:
			m.remove(client)

		case message := <-m.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				m.logger.Error("Failed to marshal message", zap.String("topic", message.Topic), zap.Error(err))
				continue
			}
			m.deliver(message.Topic, data)
		}
	}
}

func (m *Manager) deliver(topic string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, client := range m.clients {
		if !client.IsSubscribed(topic) {
			continue
		}
		select {
		case client.Send <- data:
		default:
			// Медленный клиент отключается
			close(client.Send)
			delete(m.clients, id)
			m.logger.Warn("Client send buffer is full, dropping connection", zap.String("client_id", id.String()))
		}
	}
}

func (m *Manager) remove(client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[client.ID]; ok {
		close(client.Send)
		delete(m.clients, client.ID)
		m.logger.Debug("Client disconnected", zap.String("client_id", client.ID.String()))
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, client := range m.clients {
		close(client.Send)
		delete(m.clients, id)
	}
}

// ClientCount количество подключенных клиентов.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Serve апгрейдит соединение и подписывает клиента на topics.
// initial, если не nil, отправляется клиенту сразу после подключения.
func (m *Manager) Serve(w http.ResponseWriter, r *http.Request, topics []string, initial *Message) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:      uuid.New(),
		Conn:    conn,
		Manager: m,
		Send:    make(chan []byte, sendBufferSize),
		topics:  make(map[string]bool, len(topics)),
	}
	for _, t := range topics {
		client.Subscribe(t)
	}
	if initial != nil {
		if data, err := json.Marshal(initial); err == nil {
			client.Send <- data
		}
	}

	select {
	case m.register <- client:
	case <-m.done:
		_ = conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()
	return nil
}

// Broadcast отправляет сообщение всем клиентам, подписанным на тему.
// После остановки менеджера сообщения отбрасываются.
func (m *Manager) Broadcast(messageType, topic string, payload interface{}) {
	select {
	case m.broadcast <- Message{Type: messageType, Topic: topic, Payload: payload}:
	case <-m.done:
	}
}

// readPump обрабатывает команды клиента (подписка/отписка).
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Manager.unregister <- c:
		case <-c.Manager.done:
		}
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Manager.logger.Debug("Read error", zap.String("client_id", c.ID.String()), zap.Error(err))
			}
			return
		}

		var cmd struct {
			Action string `json:"action"`
			Topic  string `json:"topic"`
		}
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}

		switch cmd.Action {
		case "subscribe":
			c.Subscribe(cmd.Topic)
		case "unsubscribe":
			c.Unsubscribe(cmd.Topic)
		}
	}
}

// writePump отправляет сообщения клиенту
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Subscribe подписывает клиента на тему
func (c *Client) Subscribe(topic string) {
	if topic == "" {
		return
	}
	c.topicsMu.Lock()
	c.topics[topic] = true
	c.topicsMu.Unlock()
}

// Unsubscribe отписывает клиента от темы
func (c *Client) Unsubscribe(topic string) {
	c.topicsMu.Lock()
	delete(c.topics, topic)
	c.topicsMu.Unlock()
}

// IsSubscribed проверяет, подписан ли клиент на тему
func (c *Client) IsSubscribed(topic string) bool {
	c.topicsMu.RLock()
	defer c.topicsMu.RUnlock()
	return c.topics[topic]
}
