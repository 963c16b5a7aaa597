package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ProficiencyBeginner     = "beginner"
	ProficiencyIntermediate = "intermediate"
	ProficiencyAdvanced     = "advanced"
	ProficiencyExpert       = "expert"
)

const (
	SummarySourceUpload   = "upload"
	SummarySourceSections = "sections"
	SummarySourceManual   = "manual"
)

// Skill is a single entry in a user's skill list. Rows are hard deleted; a
// skill either exists in the user's row set or it doesn't.
type Skill struct {
	ID              string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID          string    `gorm:"type:uuid;not null;uniqueIndex:idx_skills_user_name" json:"user_id"`
	Name            string    `gorm:"size:100;not null;uniqueIndex:idx_skills_user_name" json:"name"`
	Category        string    `gorm:"size:50" json:"category,omitempty"`
	Proficiency     string    `gorm:"size:20;not null;default:'intermediate';check:proficiency IN ('beginner', 'intermediate', 'advanced', 'expert')" json:"proficiency"`
	YearsExperience float64   `gorm:"type:decimal(4,1);not null;default:0" json:"years_experience"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ResumeSection is one structured block of a resume (a job, a degree, a project...)
type ResumeSection struct {
	ID           string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID       string    `gorm:"type:uuid;not null;index" json:"user_id"`
	SectionType  string    `gorm:"size:30;not null;check:section_type IN ('summary', 'experience', 'education', 'projects', 'certifications', 'other')" json:"section_type"`
	Title        string    `gorm:"size:255;not null" json:"title"`
	Organization string    `gorm:"size:255" json:"organization,omitempty"`
	StartDate    string    `gorm:"size:20" json:"start_date,omitempty"` // free-form, e.g. "2021-03"
	EndDate      string    `gorm:"size:20" json:"end_date,omitempty"`
	Description  string    `gorm:"type:text" json:"description,omitempty"`
	Position     int       `gorm:"not null;default:0" json:"position"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ResumeDocument is an uploaded resume file. The original bytes live in the
// object store under StorageKey; only the extracted text is kept here.
type ResumeDocument struct {
	ID            string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID        string         `gorm:"type:uuid;not null;index" json:"user_id"`
	FileName      string         `gorm:"size:255;not null" json:"file_name"`
	ContentType   string         `gorm:"size:120;not null" json:"content_type"`
	SizeBytes     int64          `gorm:"not null" json:"size_bytes"`
	StorageKey    string         `gorm:"size:500;not null" json:"storage_key"`
	ExtractedText string         `gorm:"type:text" json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// ResumeSummary is the text blob used to personalize generated questions.
// There is at most one per user.
type ResumeSummary struct {
	ID         string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID     string    `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	Summary    string    `gorm:"type:text;not null" json:"summary"`
	Source     string    `gorm:"size:20;not null;default:'manual';check:source IN ('upload', 'sections', 'manual')" json:"source"`
	DocumentID *string   `gorm:"type:uuid" json:"document_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
