package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/krshsl/mockprep/models"
	"gorm.io/gorm/clause"
)

// UpsertSkill inserts the skill or updates the existing row with the same
// (user_id, name). The stored row is written back into skill.
func (r *GORMRepository) UpsertSkill(ctx context.Context, skill *models.Skill) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"category", "proficiency", "years_experience", "updated_at"}),
	}).Create(skill).Error
	if err != nil {
		slog.Error("Failed to upsert skill", "error", err, "user_id", skill.UserID, "name", skill.Name)
		return fmt.Errorf("failed to upsert skill: %w", err)
	}
	slog.Info("Skill saved", "skill_id", skill.ID, "user_id", skill.UserID, "name", skill.Name)
	return nil
}

// UpdateSkill overwrites an existing skill owned by the user. Returns false
// when no row matched and ErrDuplicate when the new name is already taken.
func (r *GORMRepository) UpdateSkill(ctx context.Context, skill *models.Skill) (bool, error) {
	if !isUUID(skill.ID) {
		return false, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.Skill{}).
		Where("id = ? AND user_id = ?", skill.ID, skill.UserID).
		Updates(map[string]any{
			"name":             skill.Name,
			"category":         skill.Category,
			"proficiency":      skill.Proficiency,
			"years_experience": skill.YearsExperience,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return false, fmt.Errorf("skill %q: %w", skill.Name, ErrDuplicate)
		}
		slog.Error("Failed to update skill", "error", result.Error, "skill_id", skill.ID)
		return false, fmt.Errorf("failed to update skill: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GORMRepository) ListSkills(ctx context.Context, userID string) ([]models.Skill, error) {
	var skills []models.Skill
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("name").Find(&skills).Error; err != nil {
		slog.Error("Failed to list skills", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to list skills: %w", err)
	}
	return skills, nil
}

func (r *GORMRepository) GetSkill(ctx context.Context, id, userID string) (*models.Skill, error) {
	if !isUUID(id) {
		return nil, nil
	}
	var skill models.Skill
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&skill).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get skill: %w", err)
	}
	return &skill, nil
}

// DeleteSkill removes a skill owned by the user. Returns false when nothing was deleted.
func (r *GORMRepository) DeleteSkill(ctx context.Context, id, userID string) (bool, error) {
	if !isUUID(id) {
		return false, nil
	}
	result := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Skill{})
	if result.Error != nil {
		slog.Error("Failed to delete skill", "error", result.Error, "skill_id", id)
		return false, fmt.Errorf("failed to delete skill: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// UpsertResumeSection creates the section when it has no ID, otherwise it
// updates the row owned by section.UserID.
func (r *GORMRepository) UpsertResumeSection(ctx context.Context, section *models.ResumeSection) (bool, error) {
	if section.ID != "" && !isUUID(section.ID) {
		return false, nil
	}
	db := r.db.WithContext(ctx)
	if section.ID == "" {
		if err := db.Create(section).Error; err != nil {
			slog.Error("Failed to create resume section", "error", err, "user_id", section.UserID)
			return false, fmt.Errorf("failed to create resume section: %w", err)
		}
		return true, nil
	}

	result := db.Model(&models.ResumeSection{}).
		Where("id = ? AND user_id = ?", section.ID, section.UserID).
		Updates(map[string]any{
			"section_type": section.SectionType,
			"title":        section.Title,
			"organization": section.Organization,
			"start_date":   section.StartDate,
			"end_date":     section.EndDate,
			"description":  section.Description,
			"position":     section.Position,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		slog.Error("Failed to update resume section", "error", result.Error, "section_id", section.ID)
		return false, fmt.Errorf("failed to update resume section: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GORMRepository) ListResumeSections(ctx context.Context, userID string) ([]models.ResumeSection, error) {
	var sections []models.ResumeSection
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("position, created_at").
		Find(&sections).Error
	if err != nil {
		slog.Error("Failed to list resume sections", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to list resume sections: %w", err)
	}
	return sections, nil
}

func (r *GORMRepository) DeleteResumeSection(ctx context.Context, id, userID string) (bool, error) {
	if !isUUID(id) {
		return false, nil
	}
	result := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.ResumeSection{})
	if result.Error != nil {
		slog.Error("Failed to delete resume section", "error", result.Error, "section_id", id)
		return false, fmt.Errorf("failed to delete resume section: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GORMRepository) CreateResumeDocument(ctx context.Context, doc *models.ResumeDocument) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		slog.Error("Failed to create resume document", "error", err, "user_id", doc.UserID)
		return fmt.Errorf("failed to create resume document: %w", err)
	}
	slog.Info("Resume document stored", "document_id", doc.ID, "user_id", doc.UserID, "size_bytes", doc.SizeBytes)
	return nil
}

func (r *GORMRepository) ListResumeDocuments(ctx context.Context, userID string) ([]models.ResumeDocument, error) {
	var docs []models.ResumeDocument
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to list resume documents: %w", err)
	}
	return docs, nil
}

// GetResumeDocument looks a document up by ID. An empty userID skips the
// ownership check; the resume worker uses that.
func (r *GORMRepository) GetResumeDocument(ctx context.Context, id, userID string) (*models.ResumeDocument, error) {
	if !isUUID(id) {
		return nil, nil
	}
	query := r.db.WithContext(ctx).Where("id = ?", id)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	var doc models.ResumeDocument
	if err := query.First(&doc).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get resume document: %w", err)
	}
	return &doc, nil
}

// GetLatestResumeDocument returns the most recent upload of a user, or nil.
func (r *GORMRepository) GetLatestResumeDocument(ctx context.Context, userID string) (*models.ResumeDocument, error) {
	var doc models.ResumeDocument
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").First(&doc).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest resume document: %w", err)
	}
	return &doc, nil
}

func (r *GORMRepository) DeleteResumeDocument(ctx context.Context, id, userID string) (bool, error) {
	if !isUUID(id) {
		return false, nil
	}
	result := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.ResumeDocument{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete resume document: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// UpsertResumeSummary keeps exactly one summary per user.
func (r *GORMRepository) UpsertResumeSummary(ctx context.Context, summary *models.ResumeSummary) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"summary", "source", "document_id", "updated_at"}),
	}).Create(summary).Error
	if err != nil {
		slog.Error("Failed to upsert resume summary", "error", err, "user_id", summary.UserID)
		return fmt.Errorf("failed to upsert resume summary: %w", err)
	}
	slog.Info("Resume summary saved", "user_id", summary.UserID, "source", summary.Source, "length", len(summary.Summary))
	return nil
}

func (r *GORMRepository) GetResumeSummary(ctx context.Context, userID string) (*models.ResumeSummary, error) {
	var summary models.ResumeSummary
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&summary).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		slog.Error("Failed to get resume summary", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to get resume summary: %w", err)
	}
	return &summary, nil
}

func (r *GORMRepository) DeleteResumeSummary(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.ResumeSummary{}).Error; err != nil {
		return fmt.Errorf("failed to delete resume summary: %w", err)
	}
	return nil
}

// CountResumeSections is used by the seeder to stay idempotent.
func (r *GORMRepository) CountResumeSections(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ResumeSection{}).Where("user_id = ?", userID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count resume sections: %w", err)
	}
	return count, nil
}
