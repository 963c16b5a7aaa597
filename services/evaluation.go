package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
)

const (
	PerformanceExcellent        = "Excellent"
	PerformanceGood             = "Good"
	PerformanceSatisfactory     = "Satisfactory"
	PerformanceNeedsImprovement = "Needs Improvement"
)

const (
	defaultStrength         = "You attempted to answer the question and stayed on topic."
	defaultImprovement      = "Add concrete examples and measurable outcomes to support your points."
	defaultDetailedFeedback = "Your answer was reviewed. Focus on structure, specific examples and the impact of your work to strengthen future responses."
	fallbackFeedback        = "Automated feedback is temporarily unavailable, so this score is an estimate based on the length and completeness of your answer."
)

// EvaluationRequest is the body of the answer evaluation function.
type EvaluationRequest struct {
	Question        string `json:"question" validate:"required,max=4000"`
	Answer          string `json:"answer" validate:"max=20000"`
	JobRole         string `json:"jobRole" validate:"required,max=200"`
	Domain          string `json:"domain" validate:"required,max=200"`
	ExperienceLevel string `json:"experienceLevel,omitempty" validate:"max=50"`
}

// EvaluationResult is the scored answer. It is always returned, even when the
// model could not be reached.
type EvaluationResult struct {
	Score            float64  `json:"score"`
	PerformanceLevel string   `json:"performance_level"`
	Strengths        []string `json:"strengths"`
	Improvements     []string `json:"improvements"`
	DetailedFeedback string   `json:"detailed_feedback"`
	Recommendation   string   `json:"recommendation"`
	IsFallback       bool     `json:"is_fallback"`
}

type AnswerEvaluator struct {
	llm  TextGenerator
	intn func(n int) int
}

func NewAnswerEvaluator(llm TextGenerator) *AnswerEvaluator {
	return &AnswerEvaluator{llm: llm, intn: rand.IntN}
}

// Evaluate scores an answer with the model and degrades to a heuristic score
// when the model fails or its reply cannot be used.
func (e *AnswerEvaluator) Evaluate(ctx context.Context, req EvaluationRequest) *EvaluationResult {
	if strings.TrimSpace(req.Answer) == "" {
		return e.finish(e.fallbackEvaluation(req.Answer))
	}

	text, err := e.llm.GenerateText(ctx, GenerationRequest{
		Operation:         "evaluate_answer",
		SystemInstruction: evaluationSystemInstruction,
		Prompt:            buildEvaluationPrompt(req),
		Schema:            evaluationResponseSchema,
	})
	if err != nil {
		slog.Warn("Answer evaluation failed upstream, using fallback", "error", err)
		return e.finish(e.fallbackEvaluation(req.Answer))
	}

	result, err := parseEvaluation(text)
	if err != nil {
		slog.Warn("Answer evaluation unparseable, using fallback", "error", err, "response_length", len(text))
		return e.finish(e.fallbackEvaluation(req.Answer))
	}
	return e.finish(result)
}

func (e *AnswerEvaluator) finish(result *EvaluationResult) *EvaluationResult {
	observeEvaluation(result.IsFallback)
	return result
}

type rawEvaluation struct {
	Score            json.RawMessage `json:"score"`
	PerformanceLevel string          `json:"performance_level"`
	Strengths        []string        `json:"strengths"`
	Improvements     []string        `json:"improvements"`
	DetailedFeedback string          `json:"detailed_feedback"`
	Recommendation   string          `json:"recommendation"`
}

func parseEvaluation(text string) (*EvaluationResult, error) {
	var result *EvaluationResult
	err := decodePayload(text, func(raw []byte) error {
		r, err := decodeEvaluation(raw)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func decodeEvaluation(raw []byte) (*EvaluationResult, error) {
	if err := validateAgainstSchema(evaluationPayloadSchema, raw); err != nil {
		return nil, err
	}

	var parsed rawEvaluation
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation: %w", err)
	}

	score, err := parseScore(parsed.Score)
	if err != nil {
		return nil, err
	}

	result := &EvaluationResult{
		Score:            score,
		PerformanceLevel: canonicalLevel(parsed.PerformanceLevel),
		Strengths:        nonEmpty(parsed.Strengths),
		Improvements:     nonEmpty(parsed.Improvements),
		DetailedFeedback: strings.TrimSpace(parsed.DetailedFeedback),
		Recommendation:   strings.TrimSpace(parsed.Recommendation),
	}
	applyEvaluationDefaults(result)
	return result, nil
}

// parseScore accepts a number or a numeric string, clamps it to 0-10 and
// rounds to one decimal.
func parseScore(raw json.RawMessage) (float64, error) {
	var score float64
	if err := json.Unmarshal(raw, &score); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("score is neither a number nor a string: %s", raw)
		}
		// tolerate "7/10"
		s = strings.TrimSpace(strings.SplitN(s, "/", 2)[0])
		score, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("score %q is not numeric", s)
		}
	}
	if math.IsNaN(score) {
		return 0, fmt.Errorf("score is NaN")
	}
	return roundScore(score), nil
}

func roundScore(score float64) float64 {
	score = max(0, min(10, score))
	return math.Round(score*10) / 10
}

// PerformanceLevelFor maps a 0-10 score onto its level.
func PerformanceLevelFor(score float64) string {
	switch {
	case score >= 9:
		return PerformanceExcellent
	case score >= 7:
		return PerformanceGood
	case score >= 5:
		return PerformanceSatisfactory
	default:
		return PerformanceNeedsImprovement
	}
}

func canonicalLevel(level string) string {
	for _, known := range []string{PerformanceExcellent, PerformanceGood, PerformanceSatisfactory, PerformanceNeedsImprovement} {
		if strings.EqualFold(strings.TrimSpace(level), known) {
			return known
		}
	}
	return ""
}

func recommendationFor(level string) string {
	switch level {
	case PerformanceExcellent:
		return "Keep practising at this level and try harder follow-up questions in the same area."
	case PerformanceGood:
		return "Add one concrete example with measurable impact to turn a good answer into an excellent one."
	case PerformanceSatisfactory:
		return "Structure your answers with the STAR method and go deeper on the technical details."
	default:
		return "Review the fundamentals of this topic and practise answering out loud with a clear structure."
	}
}

func applyEvaluationDefaults(r *EvaluationResult) {
	if r.PerformanceLevel == "" {
		r.PerformanceLevel = PerformanceLevelFor(r.Score)
	}
	if len(r.Strengths) == 0 {
		r.Strengths = []string{defaultStrength}
	}
	if len(r.Improvements) == 0 {
		r.Improvements = []string{defaultImprovement}
	}
	if r.DetailedFeedback == "" {
		r.DetailedFeedback = defaultDetailedFeedback
	}
	if r.Recommendation == "" {
		r.Recommendation = recommendationFor(r.PerformanceLevel)
	}
}

// fallbackEvaluation estimates a score from answer length plus a random bonus.
func (e *AnswerEvaluator) fallbackEvaluation(answer string) *EvaluationResult {
	words := len(strings.Fields(answer))

	var (
		score        float64
		strengths    []string
		improvements []string
	)
	switch {
	case words == 0:
		score = 0
		strengths = []string{"You can retry this question to practise a full answer."}
		improvements = []string{"No answer was recorded. Make sure to respond to every question, even briefly."}
	case words < 20:
		score = 3
		strengths = []string{"You gave a direct response."}
		improvements = []string{"Your answer was very short. Expand on your reasoning and give an example."}
	case words < 60:
		score = 5
		strengths = []string{"You provided a reasonably developed answer."}
		improvements = []string{"Add specific examples and outcomes to make the answer more convincing."}
	default:
		score = 6
		strengths = []string{"You gave a detailed answer with plenty of context."}
		improvements = []string{"Make sure the key point comes first and keep the answer focused."}
	}
	if words > 0 {
		score += float64(e.intn(3))
	}
	score = roundScore(score)

	result := &EvaluationResult{
		Score:            score,
		PerformanceLevel: PerformanceLevelFor(score),
		Strengths:        strengths,
		Improvements:     improvements,
		DetailedFeedback: fallbackFeedback,
		IsFallback:       true,
	}
	applyEvaluationDefaults(result)
	return result
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
