package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/krshsl/mockprep/models"
	"github.com/krshsl/mockprep/queue"
)

const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

// SessionStore is the interview persistence the session flow needs.
type SessionStore interface {
	GetInterviewSession(ctx context.Context, sessionID string) (*models.InterviewSession, error)
	FinishInterviewSession(ctx context.Context, sessionID, status string, endedAt time.Time) (bool, error)
	GetInterviewQuestions(ctx context.Context, sessionID string) ([]models.InterviewQuestion, error)
	GetAnswerEvaluations(ctx context.Context, sessionID string) ([]models.AnswerEvaluation, error)
}

// SessionEventPublisher fans interview events out to other consumers.
type SessionEventPublisher interface {
	PublishEvaluation(ctx context.Context, event queue.EvaluationEvent) error
	PublishSession(ctx context.Context, event queue.SessionEvent) error
}

type trackedSession struct {
	SessionID    string
	UserID       string
	LastActivity time.Time
}

// SessionTracker follows active interview sessions and concludes the ones
// that went idle.
type SessionTracker struct {
	store         SessionStore
	reports       *ReportBuilder
	events        SessionEventPublisher // optional
	idleTimeout   time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	mu     sync.RWMutex
	active map[string]*trackedSession
}

func NewSessionTracker(store SessionStore, reports *ReportBuilder, idleTimeout time.Duration) *SessionTracker {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &SessionTracker{
		store:         store,
		reports:       reports,
		idleTimeout:   idleTimeout,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		active:        make(map[string]*trackedSession),
	}
}

func (t *SessionTracker) WithEvents(p SessionEventPublisher) *SessionTracker {
	t.events = p
	return t
}

func (t *SessionTracker) Register(sessionID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[sessionID] = &trackedSession{
		SessionID:    sessionID,
		UserID:       userID,
		LastActivity: t.now(),
	}
	slog.Info("Session registered for timeout tracking", "session_id", sessionID, "user_id", userID)
}

// Touch records activity. Unknown sessions are registered.
func (t *SessionTracker) Touch(sessionID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.active[sessionID]; ok {
		s.LastActivity = t.now()
		return
	}
	t.active[sessionID] = &trackedSession{SessionID: sessionID, UserID: userID, LastActivity: t.now()}
}

func (t *SessionTracker) IsTracked(sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.active[sessionID]
	return ok
}

// Forget stops tracking a session without concluding it.
func (t *SessionTracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, sessionID)
}

// Conclude finishes a session and returns its report. The session ends as
// completed when at least one answer was given, abandoned otherwise.
// Concluding an already finished session returns the existing report.
func (t *SessionTracker) Conclude(ctx context.Context, sessionID, reason string) (*SessionReport, error) {
	t.Forget(sessionID)

	session, err := t.store.GetInterviewSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, &NotFoundError{Resource: "session", ID: sessionID}
	}

	evaluations, err := t.store.GetAnswerEvaluations(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	status := models.SessionStatusAbandoned
	if len(evaluations) > 0 {
		status = models.SessionStatusCompleted
	}

	endedAt := t.now()
	finished, err := t.store.FinishInterviewSession(ctx, sessionID, status, endedAt)
	if err != nil {
		return nil, err
	}
	if finished {
		session.Status = status
		session.EndedAt = &endedAt
		session.Duration = int(endedAt.Sub(session.StartedAt).Seconds())
		slog.Info("Session concluded", "session_id", sessionID, "status", status, "reason", reason, "answers", len(evaluations))
	}

	questions, err := t.store.GetInterviewQuestions(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	report, err := t.reports.Build(ctx, session, questions, evaluations)
	if err != nil {
		return nil, err
	}

	if finished && t.events != nil {
		event := queue.SessionEvent{
			SessionID:    sessionID,
			UserID:       session.UserID,
			Status:       session.Status,
			Reason:       reason,
			OverallScore: report.Summary.OverallScore,
			Timestamp:    endedAt.UTC(),
		}
		if err := t.events.PublishSession(ctx, event); err != nil {
			slog.Warn("Failed to publish session event", "error", err, "session_id", sessionID)
		}
	}
	return report, nil
}

// Run sweeps for idle sessions until ctx is done.
func (t *SessionTracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.checkTimeouts(ctx)
		}
	}
}

func (t *SessionTracker) checkTimeouts(ctx context.Context) {
	now := t.now()

	t.mu.RLock()
	var timedOut []*trackedSession
	for _, s := range t.active {
		if now.Sub(s.LastActivity) > t.idleTimeout {
			timedOut = append(timedOut, s)
		}
	}
	t.mu.RUnlock()

	for _, s := range timedOut {
		slog.Info("Session timed out, concluding", "session_id", s.SessionID, "inactive_duration", now.Sub(s.LastActivity))
		if _, err := t.Conclude(ctx, s.SessionID, "idle timeout"); err != nil {
			slog.Error("Failed to conclude timed out session", "error", err, "session_id", s.SessionID)
		}
	}
}
