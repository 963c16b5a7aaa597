package services

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/krshsl/mockprep/models"
	ws "github.com/krshsl/mockprep/websocket"
)

// liveConnection is the per-client state of a live session.
type liveConnection struct {
	countdown *Countdown
	ctx       context.Context
	cancel    context.CancelFunc
	inflight  sync.WaitGroup
}

// WebSocketHandler drives the live interview channel: the answer countdown,
// spoken answers and the end-of-session report.
type WebSocketHandler struct {
	interviews  *InterviewService
	hub         *ws.Hub
	upgrader    websocket.Upgrader
	answerLimit time.Duration
	tickEvery   time.Duration

	mu    sync.Mutex
	conns map[*ws.Client]*liveConnection
}

func NewWebSocketHandler(interviews *InterviewService, hub *ws.Hub, allowedOrigins string, answerLimit time.Duration) *WebSocketHandler {
	if answerLimit <= 0 {
		answerLimit = 2 * time.Minute
	}
	return &WebSocketHandler{
		interviews: interviews,
		hub:        hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, allowedOrigins)
			},
		},
		answerLimit: answerLimit,
		tickEvery:   time.Second,
		conns:       make(map[*ws.Client]*liveConnection),
	}
}

// ServeLive upgrades GET /sessions/{id}/live for the owner of an active session.
func (h *WebSocketHandler) ServeLive(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "id")

	session, err := h.interviews.OwnedSession(r.Context(), user.ID, sessionID)
	if err != nil {
		writeServiceError(w, "Failed to open live session", err)
		return
	}
	if session.Status != models.SessionStatusActive {
		writeServiceError(w, "Failed to open live session", &ConflictError{Message: "session is " + session.Status})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err, "session_id", sessionID)
		return
	}
	slog.Info("WebSocket connection established", "user_id", user.ID, "session_id", sessionID)

	client := h.hub.RegisterClient(conn, user.ID, sessionID)
	client.MessageHandler = h.HandleMessage
	client.OnClose = h.handleClose
	h.attach(client)

	go client.WritePump()
	go client.ReadPump()

	h.interviews.Touch(sessionID, user.ID)
	client.SendJSON(ws.OutboundMessage{
		Type:      ws.TypeConnected,
		SessionID: sessionID,
		Data: map[string]any{
			"answer_time_limit_seconds": int(h.answerLimit.Seconds()),
		},
	})
}

func (h *WebSocketHandler) attach(client *ws.Client) {
	ctx, cancel := context.WithCancel(context.Background())
	countdown := NewCountdown()
	countdown.Interval = h.tickEvery

	h.mu.Lock()
	h.conns[client] = &liveConnection{countdown: countdown, ctx: ctx, cancel: cancel}
	h.mu.Unlock()
	liveSessions.Inc()
}

func (h *WebSocketHandler) connection(client *ws.Client) *liveConnection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[client]
}

func (h *WebSocketHandler) handleClose(client *ws.Client) {
	h.mu.Lock()
	lc, ok := h.conns[client]
	delete(h.conns, client)
	h.mu.Unlock()
	if !ok {
		return
	}

	lc.countdown.Stop()
	lc.cancel()
	lc.inflight.Wait()
	liveSessions.Dec()
	slog.Info("WebSocket connection closed", "user_id", client.UserID, "session_id", client.SessionID)
}

// HandleMessage runs on the client's read goroutine. Model calls are moved
// off it so timer messages are handled while an answer is evaluated.
func (h *WebSocketHandler) HandleMessage(client *ws.Client, msg ws.Message) {
	lc := h.connection(client)
	if lc == nil {
		return
	}

	switch msg.Type {
	case ws.TypeStartQuestion:
		h.startQuestion(client, lc, msg)
	case ws.TypeStopTimer:
		lc.countdown.Stop()
		client.SendJSON(ws.OutboundMessage{Type: ws.TypeTimerStopped, SessionID: client.SessionID})
	case ws.TypeEngagement:
		h.saveEngagement(client, lc, msg)
	case ws.TypeAnswer:
		lc.countdown.Stop()
		h.async(lc, func() { h.answer(lc.ctx, client, msg) })
	case ws.TypeEndSession:
		lc.countdown.Stop()
		h.async(lc, func() { h.endSession(lc.ctx, client) })
	default:
		slog.Warn("Unknown message type", "type", msg.Type, "session_id", client.SessionID)
		client.SendError("unknown message type: " + msg.Type)
	}
}

func (h *WebSocketHandler) async(lc *liveConnection, fn func()) {
	lc.inflight.Add(1)
	go func() {
		defer lc.inflight.Done()
		fn()
	}()
}

func (h *WebSocketHandler) startQuestion(client *ws.Client, lc *liveConnection, msg ws.Message) {
	if msg.QuestionID == "" {
		client.SendError("question_id is required")
		return
	}
	seconds := msg.DurationSeconds
	if seconds <= 0 {
		seconds = int(h.answerLimit.Seconds())
	}
	h.interviews.Touch(client.SessionID, client.UserID)

	questionID := msg.QuestionID
	remaining := seconds
	client.SendJSON(ws.OutboundMessage{Type: ws.TypeTick, SessionID: client.SessionID, QuestionID: questionID, Remaining: &remaining})

	lc.countdown.Start(lc.ctx, seconds,
		func(left int) {
			client.SendJSON(ws.OutboundMessage{Type: ws.TypeTick, SessionID: client.SessionID, QuestionID: questionID, Remaining: &left})
		},
		func() {
			client.SendJSON(ws.OutboundMessage{Type: ws.TypeTimeUp, SessionID: client.SessionID, QuestionID: questionID})
		})
}

func (h *WebSocketHandler) saveEngagement(client *ws.Client, lc *liveConnection, msg ws.Message) {
	if msg.EvaluationID == "" || msg.Engagement == nil {
		client.SendError("evaluation_id and engagement are required")
		return
	}
	if err := h.interviews.AttachEngagement(lc.ctx, client.UserID, client.SessionID, msg.EvaluationID, *msg.Engagement); err != nil {
		slog.Warn("Failed to save engagement", "error", err, "session_id", client.SessionID)
		client.SendError(err.Error())
		return
	}
	client.SendJSON(ws.OutboundMessage{Type: ws.TypeEngagementOK, SessionID: client.SessionID, Data: map[string]string{"evaluation_id": msg.EvaluationID}})
}

func (h *WebSocketHandler) answer(ctx context.Context, client *ws.Client, msg ws.Message) {
	if msg.QuestionID == "" {
		client.SendError("question_id is required")
		return
	}

	text := msg.Content
	if msg.AudioDataBase64 != "" {
		audio, err := base64.StdEncoding.DecodeString(msg.AudioDataBase64)
		if err != nil {
			slog.Warn("Failed to decode base64 audio", "error", err, "session_id", client.SessionID)
			client.SendError("audio_data_base64 is not valid base64")
			return
		}
		mimeType := msg.AudioMimeType
		if mimeType == "" {
			mimeType = "audio/webm"
		}

		transcript, err := h.interviews.Transcribe(ctx, audio, mimeType)
		if err != nil {
			slog.Error("Failed to transcribe answer", "error", err, "session_id", client.SessionID)
			client.SendError("could not transcribe the recorded answer")
			return
		}
		text = transcript
		client.SendJSON(ws.OutboundMessage{Type: ws.TypeTranscript, SessionID: client.SessionID, QuestionID: msg.QuestionID, Content: text})
	}

	evaluation, err := h.interviews.SubmitAnswer(ctx, client.UserID, client.SessionID, AnswerSubmission{
		QuestionID:            msg.QuestionID,
		Answer:                text,
		AnswerDurationSeconds: msg.AnswerDurationSeconds,
		Engagement:            msg.Engagement,
	})
	if err != nil {
		slog.Error("Failed to evaluate live answer", "error", err, "session_id", client.SessionID)
		client.SendError(err.Error())
		return
	}
	client.SendJSON(ws.OutboundMessage{Type: ws.TypeEvaluation, SessionID: client.SessionID, QuestionID: msg.QuestionID, Data: evaluation})
}

func (h *WebSocketHandler) endSession(ctx context.Context, client *ws.Client) {
	slog.Info("Received end_session request", "session_id", client.SessionID)

	report, err := h.interviews.Complete(ctx, client.UserID, client.SessionID)
	if err != nil {
		slog.Error("Failed to conclude live session", "error", err, "session_id", client.SessionID)
		client.SendError("failed to conclude the session")
		return
	}
	h.hub.SendToSession(client.SessionID, ws.OutboundMessage{Type: ws.TypeSessionReport, SessionID: client.SessionID, Data: report})
}
