package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/krshsl/mockprep/models"
)

// QuestionRequest is the body of the question generation function.
type QuestionRequest struct {
	JobRole               string `json:"jobRole" validate:"required,max=200"`
	Domain                string `json:"domain" validate:"required,max=200"`
	ExperienceLevel       string `json:"experienceLevel" validate:"required,max=50"`
	InterviewType         string `json:"interviewType" validate:"required,max=50"`
	AdditionalConstraints string `json:"additionalConstraints,omitempty" validate:"max=2000"`
	NumQuestions          int    `json:"numQuestions,omitempty" validate:"gte=0"`
	UserID                string `json:"userId,omitempty"`
}

// Question is one generated interview question.
type Question struct {
	Question   string `json:"question"`
	Type       string `json:"type"`
	Difficulty string `json:"difficulty"`
	FocusArea  string `json:"focus_area"`
}

// QuestionSet is the response of the question generation function.
type QuestionSet struct {
	Questions          []Question `json:"questions"`
	ResumePersonalized bool       `json:"resumePersonalized"`
	TotalQuestions     int        `json:"totalQuestions"`
}

// ResumeSummaryLookup finds the stored resume summary of a user, or nil.
type ResumeSummaryLookup interface {
	GetResumeSummary(ctx context.Context, userID string) (*models.ResumeSummary, error)
}

// ErrNoQuestions is returned when the model reply held no usable question.
var ErrNoQuestions = errors.New("model returned no usable questions")

type QuestionGenerator struct {
	llm              TextGenerator
	summaries        ResumeSummaryLookup
	defaultQuestions int
	maxQuestions     int
}

func NewQuestionGenerator(llm TextGenerator, summaries ResumeSummaryLookup, cfg InterviewConfig) *QuestionGenerator {
	g := &QuestionGenerator{
		llm:              llm,
		summaries:        summaries,
		defaultQuestions: cfg.DefaultQuestions,
		maxQuestions:     cfg.MaxQuestions,
	}
	if g.defaultQuestions <= 0 {
		g.defaultQuestions = 5
	}
	if g.maxQuestions <= 0 {
		g.maxQuestions = 20
	}
	return g
}

// questionCount applies the default and the upper bound to a requested count.
func (g *QuestionGenerator) questionCount(requested int) int {
	if requested <= 0 {
		return g.defaultQuestions
	}
	return min(requested, g.maxQuestions)
}

// Generate asks the model for interview questions, personalized with the
// user's resume summary when one exists.
func (g *QuestionGenerator) Generate(ctx context.Context, req QuestionRequest) (*QuestionSet, error) {
	count := g.questionCount(req.NumQuestions)

	resumeSummary := g.lookupSummary(ctx, req.UserID)

	text, err := g.llm.GenerateText(ctx, GenerationRequest{
		Operation:         "generate_questions",
		SystemInstruction: questionSystemInstruction,
		Prompt:            buildQuestionPrompt(req, count, resumeSummary),
		Schema:            questionsResponseSchema,
	})
	if err != nil {
		return nil, err
	}

	questions, err := parseQuestions(text)
	if err != nil {
		slog.Error("Failed to parse generated questions", "error", err, "response_length", len(text))
		return nil, err
	}

	questions = normalizeQuestions(questions, req)
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	if len(questions) > count {
		questions = questions[:count]
	}

	questionsGeneratedTotal.Add(float64(len(questions)))
	slog.Info("Interview questions generated",
		"job_role", req.JobRole,
		"requested", count,
		"returned", len(questions),
		"resume_personalized", resumeSummary != "")

	return &QuestionSet{
		Questions:          questions,
		ResumePersonalized: resumeSummary != "",
		TotalQuestions:     len(questions),
	}, nil
}

func (g *QuestionGenerator) lookupSummary(ctx context.Context, userID string) string {
	if userID == "" || g.summaries == nil {
		return ""
	}
	summary, err := g.summaries.GetResumeSummary(ctx, userID)
	if err != nil {
		slog.Warn("Resume summary lookup failed, generating without personalization", "error", err, "user_id", userID)
		return ""
	}
	if summary == nil {
		return ""
	}
	return strings.TrimSpace(summary.Summary)
}

// parseQuestions accepts a bare array or an object with a "questions" array.
func parseQuestions(text string) ([]Question, error) {
	var questions []Question
	err := decodePayload(text, func(raw []byte) error {
		q, err := decodeQuestions(raw)
		if err != nil {
			return err
		}
		questions = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return questions, nil
}

func decodeQuestions(raw []byte) ([]Question, error) {
	if raw[0] == '{' {
		var wrapped struct {
			Questions json.RawMessage `json:"questions"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode questions object: %w", err)
		}
		if len(wrapped.Questions) == 0 {
			return nil, &PayloadError{Problems: []string{"questions: missing"}}
		}
		raw = wrapped.Questions
	}

	if err := validateAgainstSchema(questionsPayloadSchema, raw); err != nil {
		return nil, err
	}

	var questions []Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("failed to decode questions: %w", err)
	}
	return questions, nil
}

func normalizeQuestions(questions []Question, req QuestionRequest) []Question {
	out := make([]Question, 0, len(questions))
	for _, q := range questions {
		q.Question = strings.TrimSpace(q.Question)
		if q.Question == "" {
			continue
		}
		if strings.TrimSpace(q.Type) == "" {
			q.Type = strings.ToLower(req.InterviewType)
		}
		if strings.TrimSpace(q.Difficulty) == "" {
			q.Difficulty = difficultyForLevel(req.ExperienceLevel)
		}
		if strings.TrimSpace(q.FocusArea) == "" {
			q.FocusArea = req.Domain
		}
		out = append(out, q)
	}
	return out
}

func difficultyForLevel(level string) string {
	l := strings.ToLower(level)
	switch {
	case strings.Contains(l, "entry"), strings.Contains(l, "junior"), strings.Contains(l, "intern"):
		return "easy"
	case strings.Contains(l, "senior"), strings.Contains(l, "lead"), strings.Contains(l, "principal"), strings.Contains(l, "staff"):
		return "hard"
	default:
		return "medium"
	}
}
