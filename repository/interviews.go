package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/krshsl/mockprep/models"
	"gorm.io/gorm"
)

// CreateInterviewSession stores the session and its generated questions in
// one transaction so a session never exists without its questions.
func (r *GORMRepository) CreateInterviewSession(ctx context.Context, session *models.InterviewSession, questions []models.InterviewQuestion) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Questions", "Evaluations", "Summary", "PerformanceScores", "User").Create(session).Error; err != nil {
			return fmt.Errorf("failed to create interview session: %w", err)
		}
		if len(questions) == 0 {
			return nil
		}
		for i := range questions {
			questions[i].SessionID = session.ID
			questions[i].Position = i + 1
		}
		if err := tx.Create(&questions).Error; err != nil {
			return fmt.Errorf("failed to create interview questions: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Error("Failed to create interview session", "error", err, "user_id", session.UserID)
		return err
	}
	session.Questions = questions
	slog.Info("Interview session created", "session_id", session.ID, "user_id", session.UserID, "questions", len(questions))
	return nil
}

func (r *GORMRepository) GetInterviewSessions(ctx context.Context, userID string) ([]models.InterviewSession, error) {
	var sessions []models.InterviewSession
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC").
		Preload("Summary").
		Find(&sessions).Error
	if err != nil {
		slog.Error("Failed to get interview sessions", "error", err, "user_id", userID)
		return nil, err
	}
	return sessions, nil
}

// GetInterviewSessionWithDetails loads a session owned by userID together with
// its questions, evaluations, report and scores.
func (r *GORMRepository) GetInterviewSessionWithDetails(ctx context.Context, sessionID string, userID string) (*models.InterviewSession, error) {
	if !isUUID(sessionID) {
		return nil, nil
	}
	var session models.InterviewSession
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", sessionID, userID).
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Evaluations", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") }).
		Preload("Summary").
		Preload("PerformanceScores").
		First(&session).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		slog.Error("Failed to get interview session with details", "error", err, "session_id", sessionID, "user_id", userID)
		return nil, err
	}
	return &session, nil
}

// GetInterviewSession gets an interview session by ID without user check
func (r *GORMRepository) GetInterviewSession(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	if !isUUID(sessionID) {
		return nil, nil
	}
	var session models.InterviewSession
	if err := r.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		slog.Error("Failed to get interview session", "error", err, "session_id", sessionID)
		return nil, err
	}
	return &session, nil
}

// FinishInterviewSession moves an active session to its final status.
// Returns false when the session was already finished.
func (r *GORMRepository) FinishInterviewSession(ctx context.Context, sessionID, status string, endedAt time.Time) (bool, error) {
	var session models.InterviewSession
	if err := r.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error; err != nil {
		return false, fmt.Errorf("failed to load session: %w", err)
	}

	result := r.db.WithContext(ctx).
		Model(&models.InterviewSession{}).
		Where("id = ? AND status = ?", sessionID, models.SessionStatusActive).
		Updates(map[string]any{
			"status":   status,
			"ended_at": endedAt,
			"duration": int(endedAt.Sub(session.StartedAt).Seconds()),
		})
	if result.Error != nil {
		slog.Error("Failed to finish interview session", "error", result.Error, "session_id", sessionID)
		return false, fmt.Errorf("failed to finish interview session: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GORMRepository) DeleteInterviewSession(ctx context.Context, sessionID, userID string) (bool, error) {
	if !isUUID(sessionID) {
		return false, nil
	}
	result := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", sessionID, userID).Delete(&models.InterviewSession{})
	if result.Error != nil {
		slog.Error("Failed to delete interview session", "error", result.Error, "session_id", sessionID)
		return false, fmt.Errorf("failed to delete interview session: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// BulkDeleteInterviewSessions soft deletes the given sessions of a user and
// returns how many rows were affected.
func (r *GORMRepository) BulkDeleteInterviewSessions(ctx context.Context, sessionIDs []string, userID string) (int64, error) {
	if len(sessionIDs) == 0 || !isUUID(sessionIDs...) {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Where("id IN ? AND user_id = ?", sessionIDs, userID).
		Delete(&models.InterviewSession{})
	if result.Error != nil {
		slog.Error("Failed to bulk delete interview sessions", "error", result.Error, "user_id", userID)
		return 0, fmt.Errorf("failed to bulk delete interview sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *GORMRepository) GetInterviewQuestion(ctx context.Context, sessionID, questionID string) (*models.InterviewQuestion, error) {
	if !isUUID(sessionID, questionID) {
		return nil, nil
	}
	var question models.InterviewQuestion
	if err := r.db.WithContext(ctx).Where("id = ? AND session_id = ?", questionID, sessionID).First(&question).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get interview question: %w", err)
	}
	return &question, nil
}

func (r *GORMRepository) GetInterviewQuestions(ctx context.Context, sessionID string) ([]models.InterviewQuestion, error) {
	var questions []models.InterviewQuestion
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("position").Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("failed to get interview questions: %w", err)
	}
	return questions, nil
}

func (r *GORMRepository) CreateAnswerEvaluation(ctx context.Context, evaluation *models.AnswerEvaluation) error {
	if err := r.db.WithContext(ctx).Create(evaluation).Error; err != nil {
		slog.Error("Failed to create answer evaluation", "error", err, "session_id", evaluation.SessionID)
		return fmt.Errorf("failed to create answer evaluation: %w", err)
	}
	slog.Info("Answer evaluation stored", "evaluation_id", evaluation.ID, "session_id", evaluation.SessionID, "score", evaluation.Score)
	return nil
}

func (r *GORMRepository) GetAnswerEvaluations(ctx context.Context, sessionID string) ([]models.AnswerEvaluation, error) {
	var evaluations []models.AnswerEvaluation
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at").Find(&evaluations).Error; err != nil {
		slog.Error("Failed to get answer evaluations", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get answer evaluations: %w", err)
	}
	return evaluations, nil
}

// UpdateEvaluationEngagement attaches facial engagement metrics to an evaluation of the session.
func (r *GORMRepository) UpdateEvaluationEngagement(ctx context.Context, sessionID, evaluationID string, metrics models.EngagementMetrics) (bool, error) {
	if !isUUID(sessionID, evaluationID) {
		return false, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.AnswerEvaluation{}).
		Where("id = ? AND session_id = ?", evaluationID, sessionID).
		Updates(map[string]any{
			"engagement_eye_contact_ratio":   metrics.EyeContactRatio,
			"engagement_face_detected_ratio": metrics.FaceDetectedRatio,
			"engagement_attention_score":     metrics.AttentionScore,
			"engagement_dominant_expression": metrics.DominantExpression,
			"engagement_sample_count":        metrics.SampleCount,
			"updated_at":                     time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to update engagement: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GORMRepository) CreateInterviewSummary(ctx context.Context, summary *models.InterviewSummary) error {
	if err := r.db.WithContext(ctx).Create(summary).Error; err != nil {
		slog.Error("Failed to create interview summary", "error", err)
		return err
	}
	slog.Info("Interview summary created", "summary_id", summary.ID, "session_id", summary.SessionID)
	return nil
}

func (r *GORMRepository) GetInterviewSummary(ctx context.Context, sessionID string) (*models.InterviewSummary, error) {
	var summary models.InterviewSummary
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&summary).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		slog.Error("Failed to get interview summary", "error", err, "session_id", sessionID)
		return nil, err
	}
	return &summary, nil
}

// ReplacePerformanceScores swaps the metric rows of a session for the given set.
func (r *GORMRepository) ReplacePerformanceScores(ctx context.Context, sessionID string, scores []models.PerformanceScore) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.PerformanceScore{}).Error; err != nil {
			return fmt.Errorf("failed to clear performance scores: %w", err)
		}
		if len(scores) == 0 {
			return nil
		}
		for i := range scores {
			scores[i].SessionID = sessionID
		}
		if err := tx.Create(&scores).Error; err != nil {
			return fmt.Errorf("failed to create performance scores: %w", err)
		}
		return nil
	})
}

func (r *GORMRepository) GetPerformanceScores(ctx context.Context, sessionID string) ([]models.PerformanceScore, error) {
	var scores []models.PerformanceScore
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&scores).Error
	if err != nil {
		slog.Error("Failed to get performance scores", "error", err, "session_id", sessionID)
		return nil, err
	}
	return scores, nil
}
