package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/krshsl/mockprep/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The methods below complete memorySessionStore as an InterviewStore.

func (m *memorySessionStore) CreateInterviewSession(_ context.Context, session *models.InterviewSession, questions []models.InterviewQuestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session.ID = fmt.Sprintf("session-%d", len(m.sessions)+1)
	for i := range questions {
		questions[i].ID = fmt.Sprintf("%s-q%d", session.ID, i+1)
		questions[i].SessionID = session.ID
		questions[i].Position = i + 1
	}
	stored := *session
	m.sessions[session.ID] = &stored
	m.questions[session.ID] = questions
	session.Questions = questions
	return nil
}

func (m *memorySessionStore) GetInterviewSessions(_ context.Context, userID string) ([]models.InterviewSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.InterviewSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memorySessionStore) GetInterviewSessionWithDetails(_ context.Context, sessionID, userID string) (*models.InterviewSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, nil
	}
	copied := *s
	copied.Questions = m.questions[sessionID]
	copied.Evaluations = m.evaluations[sessionID]
	return &copied, nil
}

func (m *memorySessionStore) DeleteInterviewSession(_ context.Context, sessionID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return false, nil
	}
	delete(m.sessions, sessionID)
	return true, nil
}

func (m *memorySessionStore) BulkDeleteInterviewSessions(_ context.Context, sessionIDs []string, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range sessionIDs {
		if s, ok := m.sessions[id]; ok && s.UserID == userID {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memorySessionStore) GetInterviewQuestion(_ context.Context, sessionID, questionID string) (*models.InterviewQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.questions[sessionID] {
		if q.ID == questionID {
			copied := q
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memorySessionStore) CreateAnswerEvaluation(_ context.Context, evaluation *models.AnswerEvaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	evaluation.ID = fmt.Sprintf("eval-%d", len(m.evaluations[evaluation.SessionID])+1)
	m.evaluations[evaluation.SessionID] = append(m.evaluations[evaluation.SessionID], *evaluation)
	return nil
}

func (m *memorySessionStore) UpdateEvaluationEngagement(_ context.Context, sessionID, evaluationID string, metrics models.EngagementMetrics) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evals := m.evaluations[sessionID]
	for i := range evals {
		if evals[i].ID == evaluationID {
			evals[i].Engagement = metrics
			return true, nil
		}
	}
	return false, nil
}

func (m *memorySessionStore) GetUserStats(_ context.Context, userID string) (*models.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.UserStats{}
	for id, s := range m.sessions {
		if s.UserID != userID {
			continue
		}
		stats.TotalSessions++
		if s.Status == models.SessionStatusCompleted {
			stats.CompletedSessions++
		}
		stats.AnsweredQuestions += int64(len(m.evaluations[id]))
	}
	return stats, nil
}

const (
	twoQuestionsReply = `{"questions":[{"question":"Explain goroutines.","type":"technical","difficulty":"hard","focus_area":"Go"},{"question":"Design a ledger.","type":"technical","difficulty":"hard","focus_area":"Payments"}]}`
	goodAnswerReply   = `{"score": 8, "performance_level": "Good", "strengths": ["Clear"], "improvements": ["Mention trade-offs"], "detailed_feedback": "Solid.", "recommendation": "Keep going."}`
)

type interviewFixture struct {
	service   *InterviewService
	store     *memorySessionStore
	reports   *memoryReportStore
	events    *fakeEvents
	questions *fakeGenerator
	answers   *fakeGenerator
	tracker   *SessionTracker
}

func newInterviewFixture() *interviewFixture {
	f := &interviewFixture{
		store:     newMemorySessionStore(),
		reports:   newMemoryReportStore(),
		events:    &fakeEvents{},
		questions: &fakeGenerator{replies: []string{twoQuestionsReply}},
		answers:   &fakeGenerator{replies: []string{goodAnswerReply}},
	}
	builder := NewReportBuilder(f.reports, &fakeGenerator{replies: []string{`{"summary":"Well done."}`}})
	f.tracker = NewSessionTracker(f.store, builder, time.Hour).WithEvents(f.events)
	f.service = NewInterviewService(f.store, newTestQuestionGenerator(f.questions, nil), newTestEvaluator(f.answers, 0), f.tracker, builder).
		WithEvents(f.events)
	return f
}

func (f *interviewFixture) start(t *testing.T, userID string) *models.InterviewSession {
	t.Helper()
	session, err := f.service.StartSession(context.Background(), userID, baseQuestionRequest)
	require.NoError(t, err)
	return session
}

func TestInterviewService_StartSession(t *testing.T) {
	f := newInterviewFixture()
	session := f.start(t, "user-1")

	assert.Equal(t, models.SessionStatusActive, session.Status)
	assert.Equal(t, "Backend Engineer", session.JobRole)
	require.Len(t, session.Questions, 2)
	assert.Equal(t, "Explain goroutines.", session.Questions[0].Question)
	assert.Equal(t, 2, session.Questions[1].Position)
	assert.True(t, f.tracker.IsTracked(session.ID))
}

func TestInterviewService_StartSessionGenerationFails(t *testing.T) {
	f := newInterviewFixture()
	f.questions.errs = []error{&UpstreamError{Operation: "generate_questions", Err: errors.New("boom")}}

	_, err := f.service.StartSession(context.Background(), "user-1", baseQuestionRequest)
	require.Error(t, err)
	assert.Empty(t, f.store.sessions)
}

func TestInterviewService_SubmitAnswer(t *testing.T) {
	f := newInterviewFixture()
	session := f.start(t, "user-1")

	eval, err := f.service.SubmitAnswer(context.Background(), "user-1", session.ID, AnswerSubmission{
		QuestionID:            session.Questions[0].ID,
		Answer:                "Goroutines are lightweight threads managed by the Go runtime.",
		AnswerDurationSeconds: 42,
		Engagement:            &models.EngagementMetrics{AttentionScore: 75, SampleCount: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, 8.0, eval.Score)
	assert.Equal(t, PerformanceGood, eval.PerformanceLevel)
	assert.Equal(t, 42, eval.AnswerDurationSeconds)
	assert.Equal(t, 75.0, eval.Engagement.AttentionScore)
	assert.Contains(t, f.answers.calls()[0].Prompt, "Explain goroutines.")

	require.Len(t, f.events.evaluations, 1)
	assert.Equal(t, eval.ID, f.events.evaluations[0].EvaluationID)
	assert.Equal(t, "user-1", f.events.evaluations[0].UserID)
}

func TestInterviewService_SubmitAnswerErrors(t *testing.T) {
	f := newInterviewFixture()
	session := f.start(t, "user-1")

	t.Run("other user", func(t *testing.T) {
		_, err := f.service.SubmitAnswer(context.Background(), "user-2", session.ID, AnswerSubmission{QuestionID: session.Questions[0].ID})
		var notFound *NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("unknown question", func(t *testing.T) {
		_, err := f.service.SubmitAnswer(context.Background(), "user-1", session.ID, AnswerSubmission{QuestionID: "nope"})
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "question", notFound.Resource)
	})

	t.Run("engagement out of range", func(t *testing.T) {
		_, err := f.service.SubmitAnswer(context.Background(), "user-1", session.ID, AnswerSubmission{
			QuestionID: session.Questions[0].ID,
			Answer:     "An answer.",
			Engagement: &models.EngagementMetrics{AttentionScore: 5000, EyeContactRatio: -3, SampleCount: -1},
		})
		var invalid *ValidationError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "eye_contact_ratio", invalid.Field)
		assert.Empty(t, f.store.evaluations[session.ID])
		assert.Empty(t, f.answers.calls())
	})

	t.Run("finished session", func(t *testing.T) {
		_, err := f.service.Complete(context.Background(), "user-1", session.ID)
		require.NoError(t, err)

		_, err = f.service.SubmitAnswer(context.Background(), "user-1", session.ID, AnswerSubmission{QuestionID: session.Questions[0].ID})
		var conflict *ConflictError
		assert.ErrorAs(t, err, &conflict)
	})
}

func TestInterviewService_CompleteAndReport(t *testing.T) {
	f := newInterviewFixture()
	session := f.start(t, "user-1")

	_, err := f.service.Report(context.Background(), "user-1", session.ID)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict, "report of an active session")

	_, err = f.service.SubmitAnswer(context.Background(), "user-1", session.ID, AnswerSubmission{
		QuestionID: session.Questions[0].ID,
		Answer:     "An answer long enough to be evaluated by the model.",
	})
	require.NoError(t, err)

	report, err := f.service.Complete(context.Background(), "user-1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Well done.", report.Summary.Summary)
	assert.Equal(t, 1, report.Summary.AnsweredCount)
	assert.Equal(t, 2, report.Summary.QuestionCount)
	assert.Equal(t, models.SessionStatusCompleted, f.store.sessions[session.ID].Status)

	stored, err := f.service.Report(context.Background(), "user-1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, report.Summary.Summary, stored.Summary.Summary)
}

func TestInterviewService_AttachEngagement(t *testing.T) {
	f := newInterviewFixture()
	session := f.start(t, "user-1")
	eval, err := f.service.SubmitAnswer(context.Background(), "user-1", session.ID, AnswerSubmission{
		QuestionID: session.Questions[0].ID,
		Answer:     "Some answer.",
	})
	require.NoError(t, err)

	metrics := models.EngagementMetrics{EyeContactRatio: 0.8, FaceDetectedRatio: 0.95, AttentionScore: 70, SampleCount: 12}
	require.NoError(t, f.service.AttachEngagement(context.Background(), "user-1", session.ID, eval.ID, metrics))
	assert.Equal(t, metrics, f.store.evaluations[session.ID][0].Engagement)

	err = f.service.AttachEngagement(context.Background(), "user-1", session.ID, "missing", metrics)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)

	err = f.service.AttachEngagement(context.Background(), "user-1", session.ID, eval.ID, models.EngagementMetrics{EyeContactRatio: 1.5})
	var invalid *ValidationError
	assert.ErrorAs(t, err, &invalid)
}

func TestInterviewService_BulkDeleteVerifiesOwnership(t *testing.T) {
	f := newInterviewFixture()
	mine := f.start(t, "user-1")
	theirs := f.start(t, "user-2")

	_, err := f.service.BulkDeleteSessions(context.Background(), "user-1", []string{mine.ID, theirs.ID})
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Len(t, f.store.sessions, 2, "nothing is deleted when one ID is foreign")

	n, err := f.service.BulkDeleteSessions(context.Background(), "user-1", []string{mine.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.False(t, f.tracker.IsTracked(mine.ID))
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) TranscribeAudio(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

func TestInterviewService_Transcribe(t *testing.T) {
	f := newInterviewFixture()

	_, err := f.service.Transcribe(context.Background(), []byte("abc"), "audio/webm")
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream, "no transcriber configured")

	f.service.WithTranscriber(fakeTranscriber{text: "  hello there \n"})
	got, err := f.service.Transcribe(context.Background(), []byte("abc"), "audio/webm")
	require.NoError(t, err)
	assert.Equal(t, "hello there", got)

	_, err = f.service.Transcribe(context.Background(), []byte("abc"), "text/plain")
	var invalid *ValidationError
	assert.ErrorAs(t, err, &invalid)

	f.service.WithTranscriber(fakeTranscriber{err: errors.New("quota")})
	_, err = f.service.Transcribe(context.Background(), []byte("abc"), "audio/ogg")
	assert.ErrorAs(t, err, &upstream)
}
