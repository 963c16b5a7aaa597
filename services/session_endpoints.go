package services

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/krshsl/mockprep/models"
)

const maxAudioBytes = 20 << 20

type SessionEndpoints struct {
	interviews *InterviewService
	live       http.HandlerFunc
	modelLimit func(http.Handler) http.Handler
}

func NewSessionEndpoints(interviews *InterviewService) *SessionEndpoints {
	return &SessionEndpoints{interviews: interviews}
}

// WithLive mounts the websocket upgrade at GET /sessions/{id}/live.
func (e *SessionEndpoints) WithLive(h http.HandlerFunc) *SessionEndpoints {
	e.live = h
	return e
}

// WithModelLimit applies mw to the routes that call the language model.
func (e *SessionEndpoints) WithModelLimit(mw func(http.Handler) http.Handler) *SessionEndpoints {
	e.modelLimit = mw
	return e
}

type CreateSessionResponse struct {
	Session *models.InterviewSession `json:"session"`
	Message string                   `json:"message"`
}

type GetSessionsResponse struct {
	Sessions []models.InterviewSession `json:"sessions"`
	Count    int                       `json:"count"`
}

type BulkDeleteRequest struct {
	SessionIDs []string `json:"session_ids" validate:"required,min=1,max=100,dive,required"`
}

func (e *SessionEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		e.withModelLimit(r).Post("/", e.CreateSessionHandler)
		r.Get("/", e.GetSessionsHandler)
		r.Delete("/bulk", e.BulkDeleteSessionsHandler)
		r.Get("/{id}", e.GetSessionHandler)
		r.Delete("/{id}", e.DeleteSessionHandler)
		e.withModelLimit(r).Post("/{id}/answers", e.SubmitAnswerHandler)
		r.Post("/{id}/answers/{evaluationId}/engagement", e.EngagementHandler)
		e.withModelLimit(r).Post("/{id}/complete", e.CompleteSessionHandler)
		r.Get("/{id}/report", e.GetReportHandler)
		if e.live != nil {
			r.Get("/{id}/live", e.live)
		}
	})
	e.withModelLimit(r).Post("/answers/transcribe", e.TranscribeHandler)
	r.Get("/stats", e.StatsHandler)
}

func (e *SessionEndpoints) withModelLimit(r chi.Router) chi.Router {
	if e.modelLimit == nil {
		return r
	}
	return r.With(e.modelLimit)
}

func requireUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "Not authenticated", "")
	}
	return user, ok
}

func (e *SessionEndpoints) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req QuestionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	session, err := e.interviews.StartSession(r.Context(), user.ID, req)
	if err != nil {
		slog.Error("Failed to create interview session", "error", err, "user_id", user.ID)
		writeServiceError(w, "Failed to create session", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateSessionResponse{Session: session, Message: "Session created successfully"})
}

func (e *SessionEndpoints) GetSessionsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	sessions, err := e.interviews.ListSessions(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to get interview sessions", "error", err, "user_id", user.ID)
		writeServiceError(w, "Failed to get sessions", err)
		return
	}
	if sessions == nil {
		sessions = []models.InterviewSession{}
	}

	writeJSON(w, http.StatusOK, GetSessionsResponse{Sessions: sessions, Count: len(sessions)})
}

func (e *SessionEndpoints) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "id")

	session, err := e.interviews.SessionDetails(r.Context(), user.ID, sessionID)
	if err != nil {
		writeServiceError(w, "Failed to get session", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (e *SessionEndpoints) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "id")

	if err := e.interviews.DeleteSession(r.Context(), user.ID, sessionID); err != nil {
		writeServiceError(w, "Failed to delete session", err)
		return
	}

	slog.Info("Interview session deleted", "session_id", sessionID, "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (e *SessionEndpoints) BulkDeleteSessionsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req BulkDeleteRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	deleted, err := e.interviews.BulkDeleteSessions(r.Context(), user.ID, req.SessionIDs)
	if err != nil {
		writeServiceError(w, "Failed to delete sessions", err)
		return
	}

	slog.Info("Interview sessions deleted", "count", deleted, "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (e *SessionEndpoints) SubmitAnswerHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "id")

	var req AnswerSubmission
	if err := decodeAndValidate(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	evaluation, err := e.interviews.SubmitAnswer(r.Context(), user.ID, sessionID, req)
	if err != nil {
		writeServiceError(w, "Failed to submit answer", err)
		return
	}
	writeJSON(w, http.StatusCreated, evaluation)
}

func (e *SessionEndpoints) EngagementHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "id")
	evaluationID := chi.URLParam(r, "evaluationId")

	var metrics models.EngagementMetrics
	if err := decodeAndValidate(r, &metrics); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	if err := e.interviews.AttachEngagement(r.Context(), user.ID, sessionID, evaluationID, metrics); err != nil {
		writeServiceError(w, "Failed to save engagement", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *SessionEndpoints) CompleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "id")

	report, err := e.interviews.Complete(r.Context(), user.ID, sessionID)
	if err != nil {
		slog.Error("Failed to complete interview session", "error", err, "session_id", sessionID)
		writeServiceError(w, "Failed to complete session", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (e *SessionEndpoints) GetReportHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	report, err := e.interviews.Report(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "Failed to get report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// TranscribeHandler accepts a multipart form with the recording in "audio".
func (e *SessionEndpoints) TranscribeHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request", "multipart field \"audio\" is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request", "failed to read audio")
		return
	}

	transcript, err := e.interviews.Transcribe(r.Context(), audio, header.Header.Get("Content-Type"))
	if err != nil {
		slog.Warn("Failed to transcribe answer", "error", err, "size", len(audio))
		writeServiceError(w, "Failed to transcribe audio", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcript": transcript})
}

func (e *SessionEndpoints) StatsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	stats, err := e.interviews.Stats(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to get user stats", "error", err, "user_id", user.ID)
		writeServiceError(w, "Failed to get stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
