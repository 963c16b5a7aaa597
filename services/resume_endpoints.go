package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/krshsl/mockprep/models"
)

const multipartOverhead = 64 << 10

type SectionStore interface {
	UpsertResumeSection(ctx context.Context, section *models.ResumeSection) (bool, error)
	ListResumeSections(ctx context.Context, userID string) ([]models.ResumeSection, error)
	DeleteResumeSection(ctx context.Context, id, userID string) (bool, error)
}

type ResumeSectionRequest struct {
	SectionType  string `json:"section_type" validate:"required,oneof=summary experience education projects certifications other"`
	Title        string `json:"title" validate:"required,notblank,max=255"`
	Organization string `json:"organization,omitempty" validate:"max=255"`
	StartDate    string `json:"start_date,omitempty" validate:"max=20"`
	EndDate      string `json:"end_date,omitempty" validate:"max=20"`
	Description  string `json:"description,omitempty" validate:"max=10000"`
	Position     int    `json:"position" validate:"gte=0"`
}

func (r ResumeSectionRequest) toModel(userID string) *models.ResumeSection {
	return &models.ResumeSection{
		UserID:       userID,
		SectionType:  r.SectionType,
		Title:        strings.TrimSpace(r.Title),
		Organization: strings.TrimSpace(r.Organization),
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		Description:  strings.TrimSpace(r.Description),
		Position:     r.Position,
	}
}

type ManualSummaryRequest struct {
	Summary string `json:"summary" validate:"required,notblank,max=5000"`
}

type ResumeEndpoints struct {
	resumes  *ResumeService
	sections SectionStore
}

func NewResumeEndpoints(resumes *ResumeService, sections SectionStore) *ResumeEndpoints {
	return &ResumeEndpoints{resumes: resumes, sections: sections}
}

func (e *ResumeEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/resume", func(r chi.Router) {
		r.Get("/sections", e.ListSectionsHandler)
		r.Post("/sections", e.CreateSectionHandler)
		r.Put("/sections/{id}", e.UpdateSectionHandler)
		r.Delete("/sections/{id}", e.DeleteSectionHandler)

		r.Get("/documents", e.ListDocumentsHandler)
		r.Post("/documents", e.UploadDocumentHandler)
		r.Delete("/documents/{id}", e.DeleteDocumentHandler)

		r.Get("/summary", e.GetSummaryHandler)
		r.Put("/summary", e.PutSummaryHandler)
		r.Delete("/summary", e.DeleteSummaryHandler)
		r.Post("/summary/generate", e.GenerateSummaryHandler)
	})
}

func (e *ResumeEndpoints) ListSectionsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	sections, err := e.sections.ListResumeSections(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, "Failed to list resume sections", err)
		return
	}
	if sections == nil {
		sections = []models.ResumeSection{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": sections, "count": len(sections)})
}

func (e *ResumeEndpoints) CreateSectionHandler(w http.ResponseWriter, r *http.Request) {
	e.saveSection(w, r, "")
}

func (e *ResumeEndpoints) UpdateSectionHandler(w http.ResponseWriter, r *http.Request) {
	e.saveSection(w, r, chi.URLParam(r, "id"))
}

func (e *ResumeEndpoints) saveSection(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req ResumeSectionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	section := req.toModel(user.ID)
	section.ID = id
	saved, err := e.sections.UpsertResumeSection(r.Context(), section)
	if err != nil {
		writeServiceError(w, "Failed to save resume section", err)
		return
	}
	if !saved {
		writeServiceError(w, "Failed to save resume section", &NotFoundError{Resource: "resume section", ID: id})
		return
	}

	status := http.StatusOK
	if id == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, section)
}

func (e *ResumeEndpoints) DeleteSectionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	deleted, err := e.sections.DeleteResumeSection(r.Context(), id, user.ID)
	if err != nil {
		writeServiceError(w, "Failed to delete resume section", err)
		return
	}
	if !deleted {
		writeServiceError(w, "Failed to delete resume section", &NotFoundError{Resource: "resume section", ID: id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *ResumeEndpoints) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	docs, err := e.resumes.ListDocuments(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, "Failed to list resume documents", err)
		return
	}
	if docs == nil {
		docs = []models.ResumeDocument{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

// UploadDocumentHandler accepts a multipart form with the resume in "file".
func (e *ResumeEndpoints) UploadDocumentHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, e.resumes.MaxBytes()+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "Resume too large", "")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "Invalid request", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request", "failed to read file")
		return
	}

	result, err := e.resumes.Upload(r.Context(), user.ID, filepath.Base(header.Filename), data)
	if err != nil {
		slog.Warn("Resume upload rejected", "error", err, "user_id", user.ID, "file_name", header.Filename)
		writeServiceError(w, "Failed to upload resume", err)
		return
	}

	slog.Info("Resume uploaded", "user_id", user.ID, "document_id", result.Document.ID, "summary_queued", result.SummaryQueued)
	writeJSON(w, http.StatusCreated, result)
}

func (e *ResumeEndpoints) DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := e.resumes.DeleteDocument(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "Failed to delete resume document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *ResumeEndpoints) GetSummaryHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	summary, err := e.resumes.GetResumeSummary(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, "Failed to get resume summary", err)
		return
	}
	if summary == nil {
		writeServiceError(w, "Failed to get resume summary", &NotFoundError{Resource: "resume summary", ID: user.ID})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (e *ResumeEndpoints) PutSummaryHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req ManualSummaryRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	summary, err := e.resumes.SaveManualSummary(r.Context(), user.ID, req.Summary)
	if err != nil {
		writeServiceError(w, "Failed to save resume summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (e *ResumeEndpoints) DeleteSummaryHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := e.resumes.DeleteSummary(r.Context(), user.ID); err != nil {
		writeServiceError(w, "Failed to delete resume summary", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *ResumeEndpoints) GenerateSummaryHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	summary, err := e.resumes.GenerateSummary(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to generate resume summary", "error", err, "user_id", user.ID)
		writeServiceError(w, "Failed to generate resume summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
