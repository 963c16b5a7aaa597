// Package queue carries resume summary jobs and interview events over AMQP.
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	RoutingKeyEvaluationCompleted = "evaluation.completed"
	RoutingKeySessionCompleted    = "session.completed"
)

// ResumeJob asks a worker to (re)build the resume summary of a user.
// DocumentID is empty when the summary should come from resume sections.
type ResumeJob struct {
	UserID      string    `json:"user_id"`
	DocumentID  string    `json:"document_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// EvaluationEvent is published after an answer has been scored.
type EvaluationEvent struct {
	SessionID    string    `json:"session_id"`
	QuestionID   string    `json:"question_id"`
	EvaluationID string    `json:"evaluation_id"`
	UserID       string    `json:"user_id"`
	Score        float64   `json:"score"`
	IsFallback   bool      `json:"is_fallback"`
	Timestamp    time.Time `json:"timestamp"`
}

// SessionEvent is published when a session is concluded.
type SessionEvent struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason"`
	OverallScore float64   `json:"overall_score"`
	Timestamp    time.Time `json:"timestamp"`
}

func decodeResumeJob(body []byte) (ResumeJob, error) {
	var job ResumeJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("failed to decode resume job: %w", err)
	}
	if job.UserID == "" {
		return job, fmt.Errorf("resume job has no user_id")
	}
	return job, nil
}
