package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/krshsl/mockprep/cache"
	"github.com/krshsl/mockprep/models"
	"github.com/krshsl/mockprep/queue"
	"github.com/krshsl/mockprep/resumetext"
	"github.com/krshsl/mockprep/storage"
)

// ResumeStore is the persistence the resume flow needs.
type ResumeStore interface {
	CreateResumeDocument(ctx context.Context, doc *models.ResumeDocument) error
	ListResumeDocuments(ctx context.Context, userID string) ([]models.ResumeDocument, error)
	GetResumeDocument(ctx context.Context, id, userID string) (*models.ResumeDocument, error)
	GetLatestResumeDocument(ctx context.Context, userID string) (*models.ResumeDocument, error)
	DeleteResumeDocument(ctx context.Context, id, userID string) (bool, error)
	ListResumeSections(ctx context.Context, userID string) ([]models.ResumeSection, error)
	UpsertResumeSummary(ctx context.Context, summary *models.ResumeSummary) error
	GetResumeSummary(ctx context.Context, userID string) (*models.ResumeSummary, error)
	DeleteResumeSummary(ctx context.Context, userID string) error
}

// SummaryCache is the read-through cache in front of resume summaries.
type SummaryCache interface {
	Get(ctx context.Context, userID string) (*models.ResumeSummary, error)
	Generation(ctx context.Context, userID string) (int64, error)
	Populate(ctx context.Context, summary *models.ResumeSummary, gen int64) error
	Invalidate(ctx context.Context, userID string) error
}

// ResumeJobPublisher enqueues summary jobs for the resume worker.
type ResumeJobPublisher interface {
	PublishResumeJob(ctx context.Context, job queue.ResumeJob) error
}

// UploadResult is returned for an accepted resume upload. Summary is nil
// when summarization was queued or failed.
type UploadResult struct {
	Document      *models.ResumeDocument `json:"document"`
	Summary       *models.ResumeSummary  `json:"summary,omitempty"`
	SummaryQueued bool                   `json:"summary_queued"`
}

// ResumeService ingests resumes and maintains the per-user resume summary.
type ResumeService struct {
	repo     ResumeStore
	llm      TextGenerator
	objects  storage.Store
	cache    SummaryCache       // optional
	jobs     ResumeJobPublisher // optional; summaries run inline without it
	maxBytes int64
}

func NewResumeService(repo ResumeStore, llm TextGenerator, objects storage.Store, cfg UploadConfig) *ResumeService {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	return &ResumeService{repo: repo, llm: llm, objects: objects, maxBytes: maxBytes}
}

func (s *ResumeService) WithCache(c SummaryCache) *ResumeService {
	s.cache = c
	return s
}

func (s *ResumeService) WithJobs(p ResumeJobPublisher) *ResumeService {
	s.jobs = p
	return s
}

// MaxBytes is the largest accepted resume file.
func (s *ResumeService) MaxBytes() int64 {
	return s.maxBytes
}

// Upload stores a resume file, extracts its text and starts summarization.
func (s *ResumeService) Upload(ctx context.Context, userID, fileName string, data []byte) (*UploadResult, error) {
	if len(data) == 0 {
		return nil, &ValidationError{Field: "file", Message: "is empty"}
	}
	if int64(len(data)) > s.maxBytes {
		return nil, &ValidationError{Field: "file", Message: fmt.Sprintf("exceeds the %d byte limit", s.maxBytes)}
	}

	contentType, err := resumetext.DetectContentType(fileName, data)
	if err != nil {
		return nil, &ValidationError{Field: "file", Message: "must be a PDF, DOCX or plain text file"}
	}

	text, err := resumetext.ExtractText(contentType, data)
	if err != nil {
		slog.Warn("Resume text extraction failed", "error", err, "user_id", userID, "content_type", contentType)
		if errors.Is(err, resumetext.ErrNoText) {
			return nil, &ValidationError{Field: "file", Message: "contains no readable text"}
		}
		return nil, &ValidationError{Field: "file", Message: "could not be read"}
	}

	key := fmt.Sprintf("resumes/%s/%s%s", userID, uuid.NewString(), resumetext.Extension(contentType))
	if err := s.objects.Put(ctx, key, data, contentType); err != nil {
		return nil, fmt.Errorf("failed to store resume: %w", err)
	}

	doc := &models.ResumeDocument{
		UserID:        userID,
		FileName:      fileName,
		ContentType:   contentType,
		SizeBytes:     int64(len(data)),
		StorageKey:    key,
		ExtractedText: text,
	}
	if err := s.repo.CreateResumeDocument(ctx, doc); err != nil {
		if delErr := s.objects.Delete(ctx, key); delErr != nil {
			slog.Error("Failed to remove orphaned resume object", "error", delErr, "key", key)
		}
		return nil, err
	}
	resumeUploadsTotal.WithLabelValues(contentType).Inc()

	result := &UploadResult{Document: doc}
	if s.jobs != nil {
		err := s.jobs.PublishResumeJob(ctx, queue.ResumeJob{UserID: userID, DocumentID: doc.ID})
		if err == nil {
			result.SummaryQueued = true
			slog.Info("Resume summary queued", "user_id", userID, "document_id", doc.ID)
			return result, nil
		}
		slog.Warn("Failed to queue resume summary, summarizing inline", "error", err, "user_id", userID)
	}

	summary, err := s.summarize(ctx, userID, models.SummarySourceUpload, text, &doc.ID)
	if err != nil {
		slog.Error("Failed to summarize uploaded resume", "error", err, "user_id", userID, "document_id", doc.ID)
		return result, nil
	}
	result.Summary = summary
	return result, nil
}

func (s *ResumeService) ListDocuments(ctx context.Context, userID string) ([]models.ResumeDocument, error) {
	return s.repo.ListResumeDocuments(ctx, userID)
}

// DeleteDocument removes the record and then the stored original.
func (s *ResumeService) DeleteDocument(ctx context.Context, userID, documentID string) error {
	doc, err := s.repo.GetResumeDocument(ctx, documentID, userID)
	if err != nil {
		return err
	}
	if doc == nil {
		return &NotFoundError{Resource: "resume document", ID: documentID}
	}

	if _, err := s.repo.DeleteResumeDocument(ctx, documentID, userID); err != nil {
		return err
	}
	if err := s.objects.Delete(ctx, doc.StorageKey); err != nil {
		slog.Warn("Failed to delete resume object", "error", err, "key", doc.StorageKey)
	}
	slog.Info("Resume document deleted", "document_id", documentID, "user_id", userID)
	return nil
}

// GetResumeSummary reads through the cache to the database.
// A load that races a save is not cached.
func (s *ResumeService) GetResumeSummary(ctx context.Context, userID string) (*models.ResumeSummary, error) {
	cacheable := false
	var gen int64
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, userID)
		switch {
		case err != nil:
			slog.Warn("Resume summary cache read failed", "error", err, "user_id", userID)
		case cached != nil:
			return cached, nil
		default:
			gen, err = s.cache.Generation(ctx, userID)
			cacheable = err == nil
		}
	}

	summary, err := s.repo.GetResumeSummary(ctx, userID)
	if err != nil || summary == nil {
		return summary, err
	}

	if cacheable {
		err := s.cache.Populate(ctx, summary, gen)
		switch {
		case errors.Is(err, cache.ErrStale):
			slog.Debug("Resume summary changed during load, not caching", "user_id", userID)
		case err != nil:
			slog.Warn("Resume summary cache write failed", "error", err, "user_id", userID)
		}
	}
	return summary, nil
}

// SaveManualSummary replaces the summary with text written by the user.
func (s *ResumeService) SaveManualSummary(ctx context.Context, userID, text string) (*models.ResumeSummary, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ValidationError{Field: "summary", Message: "is required"}
	}
	summary := &models.ResumeSummary{UserID: userID, Summary: text, Source: models.SummarySourceManual}
	if err := s.store(ctx, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *ResumeService) DeleteSummary(ctx context.Context, userID string) error {
	if err := s.repo.DeleteResumeSummary(ctx, userID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// GenerateSummary rebuilds the summary from the latest upload, or from the
// resume sections when nothing was uploaded.
func (s *ResumeService) GenerateSummary(ctx context.Context, userID string) (*models.ResumeSummary, error) {
	doc, err := s.repo.GetLatestResumeDocument(ctx, userID)
	if err != nil {
		return nil, err
	}
	if doc != nil && doc.ExtractedText != "" {
		return s.summarize(ctx, userID, models.SummarySourceUpload, doc.ExtractedText, &doc.ID)
	}
	return s.SummarizeSections(ctx, userID)
}

func (s *ResumeService) SummarizeDocument(ctx context.Context, userID, documentID string) (*models.ResumeSummary, error) {
	doc, err := s.repo.GetResumeDocument(ctx, documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, &NotFoundError{Resource: "resume document", ID: documentID}
	}
	return s.summarize(ctx, doc.UserID, models.SummarySourceUpload, doc.ExtractedText, &doc.ID)
}

func (s *ResumeService) SummarizeSections(ctx context.Context, userID string) (*models.ResumeSummary, error) {
	sections, err := s.repo.ListResumeSections(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		return nil, &ValidationError{Field: "resume", Message: "has no uploaded document or sections to summarize"}
	}
	return s.summarize(ctx, userID, models.SummarySourceSections, formatSections(sections), nil)
}

// HandleJob is the resume worker's entry point.
func (s *ResumeService) HandleJob(ctx context.Context, job queue.ResumeJob) error {
	var err error
	if job.DocumentID != "" {
		_, err = s.SummarizeDocument(ctx, job.UserID, job.DocumentID)
	} else {
		_, err = s.SummarizeSections(ctx, job.UserID)
	}
	return err
}

func (s *ResumeService) summarize(ctx context.Context, userID, source, text string, documentID *string) (*models.ResumeSummary, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Field: "resume", Message: "has no text to summarize"}
	}

	reply, err := s.llm.GenerateText(ctx, GenerationRequest{
		Operation:         "summarize_resume",
		SystemInstruction: resumeSummarySystemInstruction,
		Prompt:            buildResumeSummaryPrompt(text),
	})
	if err != nil {
		return nil, err
	}
	reply = strings.TrimSpace(CleanJSONBlock(reply))
	if reply == "" {
		return nil, &UpstreamError{Operation: "summarize_resume", Err: errors.New("empty summary")}
	}

	summary := &models.ResumeSummary{
		UserID:     userID,
		Summary:    reply,
		Source:     source,
		DocumentID: documentID,
	}
	if err := s.store(ctx, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *ResumeService) store(ctx context.Context, summary *models.ResumeSummary) error {
	if err := s.repo.UpsertResumeSummary(ctx, summary); err != nil {
		return err
	}
	s.invalidate(ctx, summary.UserID)
	return nil
}

func (s *ResumeService) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		slog.Warn("Failed to invalidate cached resume summary", "error", err, "user_id", userID)
	}
}

func formatSections(sections []models.ResumeSection) string {
	var b strings.Builder
	for _, sec := range sections {
		fmt.Fprintf(&b, "%s: %s", strings.ToUpper(sec.SectionType), sec.Title)
		if sec.Organization != "" {
			fmt.Fprintf(&b, " at %s", sec.Organization)
		}
		if sec.StartDate != "" || sec.EndDate != "" {
			end := sec.EndDate
			if end == "" {
				end = "present"
			}
			fmt.Fprintf(&b, " (%s - %s)", sec.StartDate, end)
		}
		b.WriteString("\n")
		if d := strings.TrimSpace(sec.Description); d != "" {
			b.WriteString(d)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
