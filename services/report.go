package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/krshsl/mockprep/models"
	"golang.org/x/sync/singleflight"
)

const (
	MetricAnswerQuality = "Answer Quality"
	MetricCompletion    = "Completion"
	MetricEngagement    = "Engagement"
	MetricConsistency   = "Consistency"

	maxReportHighlights = 5
)

// ReportStore persists session reports.
type ReportStore interface {
	GetInterviewSummary(ctx context.Context, sessionID string) (*models.InterviewSummary, error)
	CreateInterviewSummary(ctx context.Context, summary *models.InterviewSummary) error
	ReplacePerformanceScores(ctx context.Context, sessionID string, scores []models.PerformanceScore) error
	GetPerformanceScores(ctx context.Context, sessionID string) ([]models.PerformanceScore, error)
}

// SessionReport is the end-of-session report.
type SessionReport struct {
	Summary           *models.InterviewSummary  `json:"summary"`
	PerformanceScores []models.PerformanceScore `json:"performance_scores"`
}

type reportAnswer struct {
	Question string
	Score    float64
	Feedback string
}

// reportContext is what the narrative prompt is built from.
type reportContext struct {
	JobRole         string
	Domain          string
	ExperienceLevel string
	InterviewType   string
	Answered        int
	Total           int
	AverageScore    float64
	Answers         []reportAnswer
}

type ReportBuilder struct {
	store  ReportStore
	llm    TextGenerator
	flight singleflight.Group
}

func NewReportBuilder(store ReportStore, llm TextGenerator) *ReportBuilder {
	return &ReportBuilder{store: store, llm: llm}
}

// Get returns the stored report of a session, or nil when none was built.
func (b *ReportBuilder) Get(ctx context.Context, sessionID string) (*SessionReport, error) {
	summary, err := b.store.GetInterviewSummary(ctx, sessionID)
	if err != nil || summary == nil {
		return nil, err
	}
	scores, err := b.store.GetPerformanceScores(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionReport{Summary: summary, PerformanceScores: scores}, nil
}

// Build creates the report of a session once. Later calls, and calls racing
// the first one, get the stored report.
func (b *ReportBuilder) Build(ctx context.Context, session *models.InterviewSession, questions []models.InterviewQuestion, evaluations []models.AnswerEvaluation) (*SessionReport, error) {
	v, err, _ := b.flight.Do(session.ID, func() (any, error) {
		existing, err := b.Get(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			slog.Info("Report already exists for session, skipping generation", "session_id", session.ID)
			return existing, nil
		}
		return b.build(ctx, session, questions, evaluations)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SessionReport), nil
}

func (b *ReportBuilder) build(ctx context.Context, session *models.InterviewSession, questions []models.InterviewQuestion, evaluations []models.AnswerEvaluation) (*SessionReport, error) {
	answered := latestPerQuestion(evaluations)
	total := max(len(questions), len(answered))

	scores := make([]float64, 0, len(answered))
	var strengths, improvements []string
	for _, e := range answered {
		scores = append(scores, e.Score)
		strengths = append(strengths, e.Strengths...)
		improvements = append(improvements, e.Improvements...)
	}
	mean := meanOf(scores)

	rc := reportContext{
		JobRole:         session.JobRole,
		Domain:          session.Domain,
		ExperienceLevel: session.ExperienceLevel,
		InterviewType:   session.InterviewType,
		Answered:        len(answered),
		Total:           total,
		AverageScore:    mean,
		Answers:         reportAnswers(questions, answered),
	}
	narrative, recommendations := b.narrative(ctx, session.ID, rc)

	summary := &models.InterviewSummary{
		SessionID:       session.ID,
		Summary:         narrative,
		Strengths:       topDistinct(strengths, maxReportHighlights),
		Improvements:    topDistinct(improvements, maxReportHighlights),
		Recommendations: recommendations,
		OverallScore:    round2(mean * 10),
		AnsweredCount:   len(answered),
		QuestionCount:   total,
	}
	if err := b.store.CreateInterviewSummary(ctx, summary); err != nil {
		return nil, err
	}

	perf := performanceScores(session.ID, answered, total)
	if err := b.store.ReplacePerformanceScores(ctx, session.ID, perf); err != nil {
		return nil, err
	}

	slog.Info("Session report generated", "session_id", session.ID, "overall_score", summary.OverallScore, "answered", len(answered), "total", total)
	return &SessionReport{Summary: summary, PerformanceScores: perf}, nil
}

// narrative asks the model for the report text and falls back to a template.
func (b *ReportBuilder) narrative(ctx context.Context, sessionID string, rc reportContext) (string, string) {
	if rc.Answered == 0 || b.llm == nil {
		return templatedNarrative(rc)
	}

	text, err := b.llm.GenerateText(ctx, GenerationRequest{
		Operation:         "session_report",
		SystemInstruction: reportSystemInstruction,
		Prompt:            buildReportPrompt(rc),
		Schema:            reportResponseSchema,
	})
	if err != nil {
		slog.Warn("Report narrative failed upstream, using template", "error", err, "session_id", sessionID)
		return templatedNarrative(rc)
	}

	summary, recommendations, err := parseReport(text)
	if err != nil {
		slog.Warn("Report narrative unparseable, using template", "error", err, "session_id", sessionID)
		return templatedNarrative(rc)
	}
	if recommendations == "" {
		_, recommendations = templatedNarrative(rc)
	}
	return summary, recommendations
}

func parseReport(text string) (string, string, error) {
	var summary, recommendations string
	err := decodePayload(text, func(raw []byte) error {
		var err error
		summary, recommendations, err = decodeReport(raw)
		return err
	})
	if err != nil {
		return "", "", err
	}
	return summary, recommendations, nil
}

func decodeReport(raw []byte) (string, string, error) {
	if err := validateAgainstSchema(reportPayloadSchema, raw); err != nil {
		return "", "", err
	}

	var payload struct {
		Summary         string `json:"summary"`
		Recommendations string `json:"recommendations"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", "", fmt.Errorf("failed to decode report: %w", err)
	}
	payload.Summary = strings.TrimSpace(payload.Summary)
	if payload.Summary == "" {
		return "", "", &PayloadError{Problems: []string{"summary: empty"}}
	}
	return payload.Summary, strings.TrimSpace(payload.Recommendations), nil
}

func templatedNarrative(rc reportContext) (string, string) {
	if rc.Answered == 0 {
		return fmt.Sprintf("The %s interview for the %s role ended before any question was answered, so no performance could be assessed.", strings.ToLower(rc.InterviewType), rc.JobRole),
			"Start a new session and answer each question out loud, aiming for one to two minutes per answer."
	}

	level := PerformanceLevelFor(rc.AverageScore)
	summary := fmt.Sprintf("You answered %d of %d questions in this %s interview for the %s role, with an average score of %.1f out of 10 (%s).",
		rc.Answered, rc.Total, strings.ToLower(rc.InterviewType), rc.JobRole, rc.AverageScore, level)
	if rc.Answered < rc.Total {
		summary += fmt.Sprintf(" %d questions were left unanswered.", rc.Total-rc.Answered)
	}
	return summary, recommendationFor(level)
}

// latestPerQuestion keeps the most recent evaluation of each question.
// evaluations are expected in creation order.
func latestPerQuestion(evaluations []models.AnswerEvaluation) []models.AnswerEvaluation {
	index := make(map[string]int, len(evaluations))
	out := make([]models.AnswerEvaluation, 0, len(evaluations))
	for _, e := range evaluations {
		if i, ok := index[e.QuestionID]; ok {
			out[i] = e
			continue
		}
		index[e.QuestionID] = len(out)
		out = append(out, e)
	}
	return out
}

func reportAnswers(questions []models.InterviewQuestion, answered []models.AnswerEvaluation) []reportAnswer {
	text := make(map[string]string, len(questions))
	for _, q := range questions {
		text[q.ID] = q.Question
	}
	out := make([]reportAnswer, 0, len(answered))
	for _, e := range answered {
		out = append(out, reportAnswer{Question: text[e.QuestionID], Score: e.Score, Feedback: e.DetailedFeedback})
	}
	return out
}

func performanceScores(sessionID string, answered []models.AnswerEvaluation, total int) []models.PerformanceScore {
	scores := make([]float64, 0, len(answered))
	var attention []float64
	for _, e := range answered {
		scores = append(scores, e.Score)
		if e.Engagement.Present() {
			attention = append(attention, e.Engagement.AttentionScore)
		}
	}

	metric := func(name string, score float64) models.PerformanceScore {
		return models.PerformanceScore{
			SessionID: sessionID,
			Metric:    name,
			Score:     round2(clamp(score, 0, 100)),
			MaxScore:  100,
			Weight:    1,
		}
	}

	completion := 0.0
	if total > 0 {
		completion = float64(len(answered)) / float64(total) * 100
	}

	out := []models.PerformanceScore{
		metric(MetricAnswerQuality, meanOf(scores)*10),
		metric(MetricCompletion, completion),
	}
	if len(attention) > 0 {
		out = append(out, metric(MetricEngagement, meanOf(attention)))
	}
	// one answer says nothing about consistency
	if len(scores) >= 2 {
		out = append(out, metric(MetricConsistency, 100-stddevOf(scores)*10))
	}
	return out
}

// topDistinct keeps the first n distinct non-empty entries, case-insensitively.
func topDistinct(items []string, n int) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, n)
	for _, item := range items {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
		if len(out) == n {
			break
		}
	}
	return out
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddevOf is the population standard deviation.
func stddevOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := meanOf(values)
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
