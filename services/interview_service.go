package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/krshsl/mockprep/models"
	"github.com/krshsl/mockprep/queue"
)

// InterviewStore is the persistence behind interview sessions.
type InterviewStore interface {
	SessionStore
	CreateInterviewSession(ctx context.Context, session *models.InterviewSession, questions []models.InterviewQuestion) error
	GetInterviewSessions(ctx context.Context, userID string) ([]models.InterviewSession, error)
	GetInterviewSessionWithDetails(ctx context.Context, sessionID, userID string) (*models.InterviewSession, error)
	DeleteInterviewSession(ctx context.Context, sessionID, userID string) (bool, error)
	BulkDeleteInterviewSessions(ctx context.Context, sessionIDs []string, userID string) (int64, error)
	GetInterviewQuestion(ctx context.Context, sessionID, questionID string) (*models.InterviewQuestion, error)
	CreateAnswerEvaluation(ctx context.Context, evaluation *models.AnswerEvaluation) error
	UpdateEvaluationEngagement(ctx context.Context, sessionID, evaluationID string, metrics models.EngagementMetrics) (bool, error)
	GetUserStats(ctx context.Context, userID string) (*models.UserStats, error)
}

// AnswerSubmission is one answer given during a session.
type AnswerSubmission struct {
	QuestionID            string                    `json:"question_id" validate:"required"`
	Answer                string                    `json:"answer" validate:"max=20000"`
	AnswerDurationSeconds int                       `json:"answer_duration_seconds,omitempty" validate:"gte=0"`
	Engagement            *models.EngagementMetrics `json:"engagement,omitempty"`
}

// InterviewService runs interview sessions for both the REST routes and the
// live websocket channel.
type InterviewService struct {
	store       InterviewStore
	questions   *QuestionGenerator
	evaluator   *AnswerEvaluator
	tracker     *SessionTracker
	reports     *ReportBuilder
	transcriber AudioTranscriber      // optional
	events      SessionEventPublisher // optional
	now         func() time.Time
}

func NewInterviewService(store InterviewStore, questions *QuestionGenerator, evaluator *AnswerEvaluator, tracker *SessionTracker, reports *ReportBuilder) *InterviewService {
	return &InterviewService{
		store:     store,
		questions: questions,
		evaluator: evaluator,
		tracker:   tracker,
		reports:   reports,
		now:       time.Now,
	}
}

func (s *InterviewService) WithTranscriber(t AudioTranscriber) *InterviewService {
	s.transcriber = t
	return s
}

func (s *InterviewService) WithEvents(p SessionEventPublisher) *InterviewService {
	s.events = p
	return s
}

// StartSession generates the questions and stores them with a new active session.
func (s *InterviewService) StartSession(ctx context.Context, userID string, req QuestionRequest) (*models.InterviewSession, error) {
	req.UserID = userID
	set, err := s.questions.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	session := &models.InterviewSession{
		UserID:                userID,
		JobRole:               req.JobRole,
		Domain:                req.Domain,
		ExperienceLevel:       req.ExperienceLevel,
		InterviewType:         req.InterviewType,
		AdditionalConstraints: req.AdditionalConstraints,
		ResumePersonalized:    set.ResumePersonalized,
		Status:                models.SessionStatusActive,
		StartedAt:             s.now(),
	}
	questions := make([]models.InterviewQuestion, 0, len(set.Questions))
	for _, q := range set.Questions {
		questions = append(questions, models.InterviewQuestion{
			Question:   q.Question,
			Type:       q.Type,
			Difficulty: q.Difficulty,
			FocusArea:  q.FocusArea,
		})
	}

	if err := s.store.CreateInterviewSession(ctx, session, questions); err != nil {
		return nil, fmt.Errorf("failed to create interview session: %w", err)
	}
	s.tracker.Register(session.ID, userID)
	return session, nil
}

func (s *InterviewService) ListSessions(ctx context.Context, userID string) ([]models.InterviewSession, error) {
	return s.store.GetInterviewSessions(ctx, userID)
}

// SessionDetails loads a session with its questions, answers and report.
func (s *InterviewService) SessionDetails(ctx context.Context, userID, sessionID string) (*models.InterviewSession, error) {
	session, err := s.store.GetInterviewSessionWithDetails(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, &NotFoundError{Resource: "session", ID: sessionID}
	}
	return session, nil
}

// Touch records live activity on a session.
func (s *InterviewService) Touch(sessionID, userID string) {
	s.tracker.Touch(sessionID, userID)
}

// OwnedSession returns the session when it belongs to userID.
func (s *InterviewService) OwnedSession(ctx context.Context, userID, sessionID string) (*models.InterviewSession, error) {
	session, err := s.store.GetInterviewSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != userID {
		return nil, &NotFoundError{Resource: "session", ID: sessionID}
	}
	return session, nil
}

func (s *InterviewService) DeleteSession(ctx context.Context, userID, sessionID string) error {
	deleted, err := s.store.DeleteInterviewSession(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return &NotFoundError{Resource: "session", ID: sessionID}
	}
	s.tracker.Forget(sessionID)
	return nil
}

// BulkDeleteSessions removes sessions of the user. Every ID must belong to
// the user, otherwise nothing is deleted.
func (s *InterviewService) BulkDeleteSessions(ctx context.Context, userID string, sessionIDs []string) (int64, error) {
	for _, id := range sessionIDs {
		if _, err := s.OwnedSession(ctx, userID, id); err != nil {
			return 0, err
		}
	}
	deleted, err := s.store.BulkDeleteInterviewSessions(ctx, sessionIDs, userID)
	if err != nil {
		return 0, err
	}
	for _, id := range sessionIDs {
		s.tracker.Forget(id)
	}
	return deleted, nil
}

// SubmitAnswer scores an answer to a question of an active session and stores
// the evaluation.
func (s *InterviewService) SubmitAnswer(ctx context.Context, userID, sessionID string, sub AnswerSubmission) (*models.AnswerEvaluation, error) {
	if sub.Engagement != nil {
		if err := validateEngagement(*sub.Engagement); err != nil {
			return nil, err
		}
	}

	session, err := s.OwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusActive {
		return nil, &ConflictError{Message: fmt.Sprintf("session %s is %s", sessionID, session.Status)}
	}

	question, err := s.store.GetInterviewQuestion(ctx, sessionID, sub.QuestionID)
	if err != nil {
		return nil, err
	}
	if question == nil {
		return nil, &NotFoundError{Resource: "question", ID: sub.QuestionID}
	}

	s.tracker.Touch(sessionID, userID)

	result := s.evaluator.Evaluate(ctx, EvaluationRequest{
		Question:        question.Question,
		Answer:          sub.Answer,
		JobRole:         session.JobRole,
		Domain:          session.Domain,
		ExperienceLevel: session.ExperienceLevel,
	})

	evaluation := &models.AnswerEvaluation{
		SessionID:             sessionID,
		QuestionID:            question.ID,
		Answer:                sub.Answer,
		Score:                 result.Score,
		PerformanceLevel:      result.PerformanceLevel,
		Strengths:             result.Strengths,
		Improvements:          result.Improvements,
		DetailedFeedback:      result.DetailedFeedback,
		Recommendation:        result.Recommendation,
		IsFallback:            result.IsFallback,
		AnswerDurationSeconds: sub.AnswerDurationSeconds,
	}
	if sub.Engagement != nil {
		evaluation.Engagement = *sub.Engagement
	}

	if err := s.store.CreateAnswerEvaluation(ctx, evaluation); err != nil {
		return nil, fmt.Errorf("failed to store answer evaluation: %w", err)
	}

	slog.Info("Answer evaluated",
		"session_id", sessionID,
		"question_id", question.ID,
		"score", evaluation.Score,
		"fallback", evaluation.IsFallback)

	s.publishEvaluation(ctx, userID, evaluation)
	return evaluation, nil
}

func (s *InterviewService) publishEvaluation(ctx context.Context, userID string, evaluation *models.AnswerEvaluation) {
	if s.events == nil {
		return
	}
	event := queue.EvaluationEvent{
		SessionID:    evaluation.SessionID,
		QuestionID:   evaluation.QuestionID,
		EvaluationID: evaluation.ID,
		UserID:       userID,
		Score:        evaluation.Score,
		IsFallback:   evaluation.IsFallback,
		Timestamp:    s.now().UTC(),
	}
	if err := s.events.PublishEvaluation(ctx, event); err != nil {
		slog.Warn("Failed to publish evaluation event", "error", err, "session_id", evaluation.SessionID)
	}
}

// AttachEngagement stores the facial engagement metrics of an answer.
func (s *InterviewService) AttachEngagement(ctx context.Context, userID, sessionID, evaluationID string, metrics models.EngagementMetrics) error {
	if _, err := s.OwnedSession(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := validateEngagement(metrics); err != nil {
		return err
	}
	updated, err := s.store.UpdateEvaluationEngagement(ctx, sessionID, evaluationID, metrics)
	if err != nil {
		return err
	}
	if !updated {
		return &NotFoundError{Resource: "evaluation", ID: evaluationID}
	}
	s.tracker.Touch(sessionID, userID)
	return nil
}

func validateEngagement(m models.EngagementMetrics) error {
	switch {
	case m.EyeContactRatio < 0 || m.EyeContactRatio > 1:
		return &ValidationError{Field: "eye_contact_ratio", Message: "must be between 0 and 1"}
	case m.FaceDetectedRatio < 0 || m.FaceDetectedRatio > 1:
		return &ValidationError{Field: "face_detected_ratio", Message: "must be between 0 and 1"}
	case m.AttentionScore < 0 || m.AttentionScore > 100:
		return &ValidationError{Field: "attention_score", Message: "must be between 0 and 100"}
	case m.SampleCount < 0:
		return &ValidationError{Field: "sample_count", Message: "must be >= 0"}
	}
	return nil
}

// Complete ends a session on the user's request and returns its report.
func (s *InterviewService) Complete(ctx context.Context, userID, sessionID string) (*SessionReport, error) {
	if _, err := s.OwnedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.tracker.Conclude(ctx, sessionID, "user ended interview")
}

// Report returns the stored report of a finished session.
func (s *InterviewService) Report(ctx context.Context, userID, sessionID string) (*SessionReport, error) {
	session, err := s.OwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	report, err := s.reports.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if report == nil {
		if session.Status == models.SessionStatusActive {
			return nil, &ConflictError{Message: "session is still active"}
		}
		return nil, &NotFoundError{Resource: "report", ID: sessionID}
	}
	return report, nil
}

// Transcribe turns a recorded answer into text.
func (s *InterviewService) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", &ValidationError{Field: "audio", Message: "is empty"}
	}
	if !strings.HasPrefix(mimeType, "audio/") && !strings.HasPrefix(mimeType, "video/webm") {
		return "", &ValidationError{Field: "audio", Message: fmt.Sprintf("unsupported content type %q", mimeType)}
	}
	if s.transcriber == nil {
		return "", &UpstreamError{Operation: "transcribe_audio", Err: errors.New("transcription is not configured")}
	}

	transcript, err := s.transcriber.TranscribeAudio(ctx, audio, mimeType)
	if err != nil {
		var upstream *UpstreamError
		if !errors.As(err, &upstream) {
			err = &UpstreamError{Operation: "transcribe_audio", Err: err}
		}
		return "", err
	}
	return strings.TrimSpace(transcript), nil
}

func (s *InterviewService) Stats(ctx context.Context, userID string) (*models.UserStats, error) {
	return s.store.GetUserStats(ctx, userID)
}
