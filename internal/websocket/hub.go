package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/domain/repositories"
	"github.com/wenzhen/server/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Histories may carry images.
	maxMessageSize = 8 * 1024 * 1024

	// UpstreamUnavailableText replaces the reply when the stream cannot be opened
	UpstreamUnavailableText = "服务暂时不可用"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ChatStreamer opens one streamed reply for a conversation
type ChatStreamer interface {
	Send(ctx context.Context, conversationID string, turns []entities.Turn) (<-chan string, error)
}

// Hub maintains the set of active chat connections.
type Hub struct {
	// Registered clients, keyed by connection id.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	chat      ChatStreamer
	validator *MessageValidator
	logger    *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(chat ChatStreamer, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		chat:       chat,
		validator:  NewMessageValidator(),
		logger:     logger,
	}
}

// Run starts the hub's main loop until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.String("connectionID", client.id),
				zap.String("clientID", client.clientID))

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client.id)
			h.mu.Unlock()
			h.logger.Info("Client unregistered",
				zap.String("connectionID", client.id),
				zap.String("clientID", client.clientID))

		case <-ctx.Done():
			h.mu.Lock()
			for _, client := range h.clients {
				client.cancel()
			}
			h.mu.Unlock()
			return
		}
	}
}

// ClientCount returns the number of registered connections
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WriteData is one frame queued for the connection
type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Never closed; producers stop
	// on ctx instead.
	send chan WriteData

	id       string
	clientID string

	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger
}

// HandleWebSocket upgrades the request and serves chat streams for the
// authenticated client id.
func HandleWebSocket(hub *Hub, c echo.Context, clientID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan WriteData, 256),
		id:       uuid.NewString(),
		clientID: clientID,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With(zap.String("clientID", clientID)),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		cancel()
		conn.Close()
		return errors.New("websocket hub is not running")
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn("Received unsupported message type", zap.Int("type", messageType))
			continue
		}
		c.processMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				c.cancel()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// enqueue queues a JSON message, blocking until there is room or the
// connection is gone.
func (c *Client) enqueue(v interface{}) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return false
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// processMessage processes incoming messages from the client
func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Rejected invalid message", zap.Error(err))
		c.enqueue(CreateErrorMessage("", ErrorCodeInvalidMessage, "Invalid message", err.Error()))
		return
	}

	switch m := msg.(type) {
	case *ChatMessage:
		c.handleChat(m)
	case *PingMessage:
		c.enqueue(CreatePongMessage(m.MessageID, m.Data))
	}
}

// handleChat opens the reply stream and forwards it from its own goroutine
// so the read loop keeps serving pings.
func (c *Client) handleChat(msg *ChatMessage) {
	messageID := msg.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = c.clientID
	}

	fragments, err := c.hub.chat.Send(c.ctx, conversationID, msg.Messages)
	if err != nil {
		c.logger.Warn("Chat send failed",
			zap.String("conversationID", conversationID),
			zap.Error(err))
		c.enqueue(chatErrorMessage(messageID, err))
		return
	}

	go func() {
		var reply strings.Builder
		count := 0
		for fragment := range fragments {
			reply.WriteString(fragment)
			count++
			if !c.enqueue(CreateDeltaMessage(messageID, fragment)) {
				// Connection gone; the chat service stops on ctx
				for range fragments {
				}
				return
			}
		}
		c.enqueue(CreateDoneMessage(messageID, reply.String(), count))
	}()
}

func chatErrorMessage(messageID string, err error) *ErrorMessage {
	switch {
	case errors.Is(err, repositories.ErrUpstreamUnavailable):
		return CreateErrorMessage(messageID, ErrorCodeUpstream, UpstreamUnavailableText, "")
	case errors.Is(err, usecase.ErrStreamInFlight):
		return CreateErrorMessage(messageID, ErrorCodeStreamInFlight, "A reply is still streaming", "")
	case errors.Is(err, usecase.ErrInvalidHistory):
		return CreateErrorMessage(messageID, ErrorCodeInvalidMessage, "Invalid chat request", err.Error())
	default:
		return CreateErrorMessage(messageID, ErrorCodeUpstream, UpstreamUnavailableText, "")
	}
}
