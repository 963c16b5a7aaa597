package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/krshsl/mockprep/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 10 * 1024 * 1024 // recorded answers arrive as base64 audio
	sendBuffer     = 256
)

// Client message types.
const (
	TypeStartQuestion = "start_question"
	TypeStopTimer     = "stop_timer"
	TypeEngagement    = "engagement"
	TypeAnswer        = "answer"
	TypeEndSession    = "end_session"
)

// Server message types.
const (
	TypeConnected     = "connected"
	TypeTick          = "tick"
	TypeTimeUp        = "time_up"
	TypeTimerStopped  = "timer_stopped"
	TypeTranscript    = "transcript"
	TypeEvaluation    = "evaluation"
	TypeEngagementOK  = "engagement_saved"
	TypeSessionReport = "session_report"
	TypeError         = "error"
)

var ErrClientClosed = errors.New("client connection closed")

// Message is a frame sent by the browser during a live session.
type Message struct {
	Type                  string                    `json:"type"`
	Content               string                    `json:"content,omitempty"`
	QuestionID            string                    `json:"question_id,omitempty"`
	EvaluationID          string                    `json:"evaluation_id,omitempty"`
	DurationSeconds       int                       `json:"duration_seconds,omitempty"`
	AudioDataBase64       string                    `json:"audio_data_base64,omitempty"`
	AudioMimeType         string                    `json:"audio_mime_type,omitempty"`
	AnswerDurationSeconds int                       `json:"answer_duration_seconds,omitempty"`
	Engagement            *models.EngagementMetrics `json:"engagement,omitempty"`
}

// OutboundMessage is a frame sent to the browser.
type OutboundMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	QuestionID string `json:"question_id,omitempty"`
	Content    string `json:"content,omitempty"`
	Remaining  *int   `json:"remaining,omitempty"`
	Data       any    `json:"data,omitempty"`
}

// Hub tracks live clients by interview session.
type Hub struct {
	sessions   map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

type Client struct {
	Hub            *Hub
	Conn           *websocket.Conn
	Send           chan []byte
	UserID         string
	SessionID      string
	MessageHandler func(*Client, Message) // runs on the read goroutine
	OnClose        func(*Client)

	mu     sync.Mutex
	closed bool
}

func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes registrations until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			clients, ok := h.sessions[client.SessionID]
			if !ok {
				clients = make(map[*Client]struct{})
				h.sessions[client.SessionID] = clients
			}
			clients[client] = struct{}{}
			h.mu.Unlock()
			slog.Info("Client registered", "user_id", client.UserID, "session_id", client.SessionID)

		case client := <-h.unregister:
			h.remove(client)
			slog.Info("Client unregistered", "user_id", client.UserID, "session_id", client.SessionID)

		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for _, clients := range h.sessions {
				for client := range clients {
					client.closeSend()
				}
			}
			h.sessions = make(map[string]map[*Client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.sessions[client.SessionID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			client.closeSend()
		}
		if len(clients) == 0 {
			delete(h.sessions, client.SessionID)
		}
	}
}

// RegisterClient attaches a connection to a session. The hub must be running.
func (h *Hub) RegisterClient(conn *websocket.Conn, userID, sessionID string) *Client {
	client := &Client{
		Hub:       h,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
		UserID:    userID,
		SessionID: sessionID,
	}
	select {
	case h.register <- client:
	case <-h.done:
		client.closeSend()
	}
	return client
}

// SendToSession delivers msg to every client of a session and returns how
// many accepted it.
func (h *Hub) SendToSession(sessionID string, msg OutboundMessage) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal outbound message", "error", err, "type", msg.Type)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.sessions[sessionID] {
		if client.enqueue(payload) == nil {
			sent++
		}
	}
	return sent
}

// SessionClients returns the number of clients connected to a session.
func (h *Hub) SessionClients(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// SendJSON queues msg for this client only.
func (c *Client) SendJSON(msg OutboundMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.enqueue(payload)
}

// SendError reports a failure to the client as {type:"error", content}.
func (c *Client) SendError(content string) {
	if err := c.SendJSON(OutboundMessage{Type: TypeError, SessionID: c.SessionID, Content: content}); err != nil {
		slog.Debug("Dropped error message", "session_id", c.SessionID, "error", err)
	}
}

// enqueue never blocks; a client with a full buffer misses the message.
func (c *Client) enqueue(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.Send <- payload:
		return nil
	default:
		slog.Warn("Client send buffer full, dropping message", "session_id", c.SessionID)
		return errors.New("send buffer full")
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
		if c.OnClose != nil {
			c.OnClose(c)
		}
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err, "session_id", c.SessionID)
			}
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			slog.Warn("Failed to unmarshal message", "error", err, "session_id", c.SessionID)
			c.SendError("invalid message format")
			continue
		}

		slog.Debug("Message received", "type", msg.Type, "session_id", c.SessionID)
		if c.MessageHandler != nil {
			c.MessageHandler(c, msg)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one JSON document per frame so the browser can JSON.parse each
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
