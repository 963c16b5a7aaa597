// Package models holds the gorm models for the mock interview backend.
//
// Database schema overview:
//  1. users, refresh_tokens, permanent_tokens - cookie based authentication
//  2. skills - a user's skill list, unique per (user_id, name)
//  3. resume_sections - structured resume blocks
//  4. resume_documents - uploaded resume files (text extracted, originals in object storage)
//  5. resume_summaries - one summary per user, used to personalize questions
//  6. interview_sessions - each mock interview attempt and its generation parameters
//  7. interview_questions - the generated questions of a session
//  8. answer_evaluations - scored answers with facial engagement metrics
//  9. interview_summaries - the end-of-session report
//  10. performance_scores - per-metric scores for a session
package models

// All returns every model in migration order.
func All() []any {
	return []any{
		&User{},
		&RefreshToken{},
		&PermanentToken{},
		&Skill{},
		&ResumeSection{},
		&ResumeDocument{},
		&ResumeSummary{},
		&InterviewSession{},
		&InterviewQuestion{},
		&AnswerEvaluation{},
		&InterviewSummary{},
		&PerformanceScore{},
	}
}
