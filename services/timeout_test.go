package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/krshsl/mockprep/models"
	"github.com/krshsl/mockprep/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySessionStore struct {
	mu          sync.Mutex
	sessions    map[string]*models.InterviewSession
	questions   map[string][]models.InterviewQuestion
	evaluations map[string][]models.AnswerEvaluation
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{
		sessions:    map[string]*models.InterviewSession{},
		questions:   map[string][]models.InterviewQuestion{},
		evaluations: map[string][]models.AnswerEvaluation{},
	}
}

func (m *memorySessionStore) GetInterviewSession(_ context.Context, id string) (*models.InterviewSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (m *memorySessionStore) FinishInterviewSession(_ context.Context, id, status string, endedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != models.SessionStatusActive {
		return false, nil
	}
	s.Status = status
	s.EndedAt = &endedAt
	s.Duration = int(endedAt.Sub(s.StartedAt).Seconds())
	return true, nil
}

func (m *memorySessionStore) GetInterviewQuestions(_ context.Context, id string) ([]models.InterviewQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.questions[id], nil
}

func (m *memorySessionStore) GetAnswerEvaluations(_ context.Context, id string) ([]models.AnswerEvaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evaluations[id], nil
}

type fakeEvents struct {
	mu          sync.Mutex
	evaluations []queue.EvaluationEvent
	sessions    []queue.SessionEvent
}

func (f *fakeEvents) PublishEvaluation(_ context.Context, e queue.EvaluationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluations = append(f.evaluations, e)
	return nil
}

func (f *fakeEvents) PublishSession(_ context.Context, e queue.SessionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, e)
	return nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker(store *memorySessionStore, idle time.Duration) (*SessionTracker, *manualClock, *fakeEvents) {
	clock := &manualClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	events := &fakeEvents{}
	tracker := NewSessionTracker(store, NewReportBuilder(newMemoryReportStore(), &fakeGenerator{replies: []string{`{"summary":"Done."}`}}), idle).
		WithEvents(events)
	tracker.now = clock.Now
	return tracker, clock, events
}

func addActiveSession(store *memorySessionStore, id string, startedAt time.Time) {
	store.sessions[id] = &models.InterviewSession{
		ID:            id,
		UserID:        "user-1",
		JobRole:       "Backend Engineer",
		InterviewType: "Technical",
		Status:        models.SessionStatusActive,
		StartedAt:     startedAt,
	}
	store.questions[id] = []models.InterviewQuestion{{ID: id + "-q1", SessionID: id, Position: 1, Question: "Q1"}}
}

func TestSessionTracker_ConcludeCompleted(t *testing.T) {
	store := newMemorySessionStore()
	tracker, clock, events := newTestTracker(store, time.Minute)
	addActiveSession(store, "s1", clock.Now())
	store.evaluations["s1"] = []models.AnswerEvaluation{{SessionID: "s1", QuestionID: "s1-q1", Score: 8}}

	tracker.Register("s1", "user-1")
	clock.Advance(90 * time.Second)

	report, err := tracker.Conclude(context.Background(), "s1", "user ended interview")
	require.NoError(t, err)

	assert.Equal(t, "Done.", report.Summary.Summary)
	assert.Equal(t, 80.0, report.Summary.OverallScore)
	assert.False(t, tracker.IsTracked("s1"))

	stored := store.sessions["s1"]
	assert.Equal(t, models.SessionStatusCompleted, stored.Status)
	assert.Equal(t, 90, stored.Duration)

	require.Len(t, events.sessions, 1)
	assert.Equal(t, "completed", events.sessions[0].Status)
	assert.Equal(t, "user ended interview", events.sessions[0].Reason)
}

func TestSessionTracker_ConcludeAbandonedAndIdempotent(t *testing.T) {
	store := newMemorySessionStore()
	tracker, clock, events := newTestTracker(store, time.Minute)
	addActiveSession(store, "s1", clock.Now())

	first, err := tracker.Conclude(context.Background(), "s1", "user ended interview")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusAbandoned, store.sessions["s1"].Status)

	second, err := tracker.Conclude(context.Background(), "s1", "again")
	require.NoError(t, err)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Len(t, events.sessions, 1)
}

func TestSessionTracker_ConcludeUnknown(t *testing.T) {
	tracker, _, _ := newTestTracker(newMemorySessionStore(), time.Minute)

	_, err := tracker.Conclude(context.Background(), "missing", "x")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestSessionTracker_CheckTimeouts(t *testing.T) {
	store := newMemorySessionStore()
	tracker, clock, _ := newTestTracker(store, 5*time.Minute)
	addActiveSession(store, "idle", clock.Now())
	addActiveSession(store, "busy", clock.Now())

	tracker.Register("idle", "user-1")
	tracker.Register("busy", "user-1")

	clock.Advance(4 * time.Minute)
	tracker.Touch("busy", "user-1")
	clock.Advance(2 * time.Minute)

	tracker.checkTimeouts(context.Background())

	assert.False(t, tracker.IsTracked("idle"))
	assert.Equal(t, models.SessionStatusAbandoned, store.sessions["idle"].Status)

	assert.True(t, tracker.IsTracked("busy"))
	assert.Equal(t, models.SessionStatusActive, store.sessions["busy"].Status)
}

func TestSessionTracker_TouchRegistersUnknown(t *testing.T) {
	tracker, _, _ := newTestTracker(newMemorySessionStore(), time.Minute)
	tracker.Touch("s9", "user-1")
	assert.True(t, tracker.IsTracked("s9"))
}

func TestSessionTracker_RunStopsOnCancel(t *testing.T) {
	tracker, _, _ := newTestTracker(newMemorySessionStore(), time.Minute)
	tracker.sweepInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tracker.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
