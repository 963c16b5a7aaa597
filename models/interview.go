package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusAbandoned = "abandoned"
)

// InterviewSession is one mock interview attempt. The parameters used to
// generate its questions are stored alongside so the report can refer to them.
type InterviewSession struct {
	ID                    string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID                string         `gorm:"type:uuid;not null;index" json:"user_id"`
	JobRole               string         `gorm:"size:200;not null" json:"job_role"`
	Domain                string         `gorm:"size:200;not null" json:"domain"`
	ExperienceLevel       string         `gorm:"size:50;not null" json:"experience_level"`
	InterviewType         string         `gorm:"size:50;not null" json:"interview_type"`
	AdditionalConstraints string         `gorm:"type:text" json:"additional_constraints,omitempty"`
	ResumePersonalized    bool           `gorm:"not null;default:false" json:"resume_personalized"`
	Status                string         `gorm:"not null;default:'active';check:status IN ('active', 'completed', 'abandoned')" json:"status"`
	StartedAt             time.Time      `gorm:"not null" json:"started_at"`
	EndedAt               *time.Time     `json:"ended_at,omitempty"`
	Duration              int            `json:"duration"` // seconds
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	DeletedAt             gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	User              *User               `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Questions         []InterviewQuestion `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"questions,omitempty"`
	Evaluations       []AnswerEvaluation  `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"evaluations,omitempty"`
	Summary           *InterviewSummary   `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"summary,omitempty"`
	PerformanceScores []PerformanceScore  `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"performance_scores,omitempty"`
}

// InterviewQuestion is a generated question, ordered by Position within its session.
type InterviewQuestion struct {
	ID         string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SessionID  string    `gorm:"type:uuid;not null;index" json:"session_id"`
	Position   int       `gorm:"not null" json:"position"`
	Question   string    `gorm:"type:text;not null" json:"question"`
	Type       string    `gorm:"size:50" json:"type"`
	Difficulty string    `gorm:"size:20" json:"difficulty"`
	FocusArea  string    `gorm:"size:200" json:"focus_area"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EngagementMetrics is the result object forwarded by the browser's facial
// analysis overlay for the duration of one answer.
type EngagementMetrics struct {
	EyeContactRatio    float64 `gorm:"type:decimal(4,3)" json:"eye_contact_ratio"`   // 0..1
	FaceDetectedRatio  float64 `gorm:"type:decimal(4,3)" json:"face_detected_ratio"` // 0..1
	AttentionScore     float64 `gorm:"type:decimal(5,2)" json:"attention_score"`     // 0..100
	DominantExpression string  `gorm:"size:30" json:"dominant_expression,omitempty"`
	SampleCount        int     `json:"sample_count"`
}

// Present reports whether any samples were collected.
func (m EngagementMetrics) Present() bool {
	return m.SampleCount > 0
}

// AnswerEvaluation is the scored answer to one question.
type AnswerEvaluation struct {
	ID                    string            `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SessionID             string            `gorm:"type:uuid;not null;index" json:"session_id"`
	QuestionID            string            `gorm:"type:uuid;not null;index" json:"question_id"`
	Answer                string            `gorm:"type:text" json:"answer"`
	Score                 float64           `gorm:"type:decimal(4,2);not null" json:"score"` // 0.00 to 10.00
	PerformanceLevel      string            `gorm:"size:50;not null" json:"performance_level"`
	Strengths             []string          `gorm:"type:jsonb;serializer:json" json:"strengths"`
	Improvements          []string          `gorm:"type:jsonb;serializer:json" json:"improvements"`
	DetailedFeedback      string            `gorm:"type:text" json:"detailed_feedback"`
	Recommendation        string            `gorm:"type:text" json:"recommendation"`
	IsFallback            bool              `gorm:"not null;default:false" json:"is_fallback"`
	AnswerDurationSeconds int               `json:"answer_duration_seconds"`
	Engagement            EngagementMetrics `gorm:"embedded;embeddedPrefix:engagement_" json:"engagement"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// InterviewSummary stores the final report for a session
type InterviewSummary struct {
	ID              string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SessionID       string         `gorm:"type:uuid;not null;uniqueIndex" json:"session_id"`
	Summary         string         `gorm:"type:text;not null" json:"summary"` // narrative
	Strengths       []string       `gorm:"type:jsonb;serializer:json" json:"strengths"`
	Improvements    []string       `gorm:"type:jsonb;serializer:json" json:"improvements"`
	Recommendations string         `gorm:"type:text" json:"recommendations,omitempty"`
	OverallScore    float64        `gorm:"type:decimal(5,2)" json:"overall_score"` // 0.00 to 100.00
	AnsweredCount   int            `json:"answered_count"`
	QuestionCount   int            `json:"question_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// PerformanceScore is a key-value table to store scores for various metrics
// This allows for future expansion without schema changes
type PerformanceScore struct {
	ID        string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SessionID string    `gorm:"type:uuid;not null;index" json:"session_id"`
	Metric    string    `gorm:"not null" json:"metric"`                  // e.g. "Answer Quality", "Completion", "Engagement"
	Score     float64   `gorm:"type:decimal(5,2);not null" json:"score"` // 0.00 to 100.00
	MaxScore  float64   `gorm:"type:decimal(5,2);not null;default:100.00" json:"max_score"`
	Weight    float64   `gorm:"type:decimal(3,2);not null;default:1.00" json:"weight"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
