package services

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/krshsl/mockprep/models"
)

type SkillStore interface {
	UpsertSkill(ctx context.Context, skill *models.Skill) error
	UpdateSkill(ctx context.Context, skill *models.Skill) (bool, error)
	ListSkills(ctx context.Context, userID string) ([]models.Skill, error)
	GetSkill(ctx context.Context, id, userID string) (*models.Skill, error)
	DeleteSkill(ctx context.Context, id, userID string) (bool, error)
}

type SkillRequest struct {
	Name            string  `json:"name" validate:"required,notblank,max=100"`
	Category        string  `json:"category,omitempty" validate:"max=50"`
	Proficiency     string  `json:"proficiency,omitempty" validate:"omitempty,oneof=beginner intermediate advanced expert"`
	YearsExperience float64 `json:"years_experience" validate:"gte=0,lte=60"`
}

func (r SkillRequest) toModel(userID string) *models.Skill {
	proficiency := r.Proficiency
	if proficiency == "" {
		proficiency = models.ProficiencyIntermediate
	}
	return &models.Skill{
		UserID:          userID,
		Name:            strings.TrimSpace(r.Name),
		Category:        strings.TrimSpace(r.Category),
		Proficiency:     proficiency,
		YearsExperience: r.YearsExperience,
	}
}

type SkillEndpoints struct {
	repo SkillStore
}

func NewSkillEndpoints(repo SkillStore) *SkillEndpoints {
	return &SkillEndpoints{repo: repo}
}

func (e *SkillEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/skills", func(r chi.Router) {
		r.Get("/", e.ListSkillsHandler)
		r.Post("/", e.UpsertSkillHandler)
		r.Put("/{id}", e.UpdateSkillHandler)
		r.Delete("/{id}", e.DeleteSkillHandler)
	})
}

func (e *SkillEndpoints) ListSkillsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	skills, err := e.repo.ListSkills(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, "Failed to list skills", err)
		return
	}
	if skills == nil {
		skills = []models.Skill{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": skills, "count": len(skills)})
}

// UpsertSkillHandler creates a skill or updates the one with the same name.
func (e *SkillEndpoints) UpsertSkillHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req SkillRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	skill := req.toModel(user.ID)
	if err := e.repo.UpsertSkill(r.Context(), skill); err != nil {
		writeServiceError(w, "Failed to save skill", err)
		return
	}
	writeJSON(w, http.StatusOK, skill)
}

func (e *SkillEndpoints) UpdateSkillHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req SkillRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	skill := req.toModel(user.ID)
	skill.ID = chi.URLParam(r, "id")
	updated, err := e.repo.UpdateSkill(r.Context(), skill)
	if err != nil {
		writeServiceError(w, "Failed to update skill", err)
		return
	}
	if !updated {
		writeServiceError(w, "Failed to update skill", &NotFoundError{Resource: "skill", ID: skill.ID})
		return
	}

	stored, err := e.repo.GetSkill(r.Context(), skill.ID, user.ID)
	if err != nil || stored == nil {
		writeJSON(w, http.StatusOK, skill)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (e *SkillEndpoints) DeleteSkillHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	deleted, err := e.repo.DeleteSkill(r.Context(), id, user.ID)
	if err != nil {
		writeServiceError(w, "Failed to delete skill", err)
		return
	}
	if !deleted {
		writeServiceError(w, "Failed to delete skill", &NotFoundError{Resource: "skill", ID: id})
		return
	}

	slog.Info("Skill deleted", "skill_id", id, "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}
