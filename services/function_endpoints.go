package services

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// FunctionEndpoints serves the single-shot question generation and answer
// evaluation functions.
type FunctionEndpoints struct {
	questions *QuestionGenerator
	evaluator *AnswerEvaluator
}

func NewFunctionEndpoints(questions *QuestionGenerator, evaluator *AnswerEvaluator) *FunctionEndpoints {
	return &FunctionEndpoints{questions: questions, evaluator: evaluator}
}

func (e *FunctionEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/functions", func(r chi.Router) {
		r.Post("/generate-questions", e.GenerateQuestionsHandler)
		r.Post("/evaluate-answer", e.EvaluateAnswerHandler)
	})
}

func (e *FunctionEndpoints) GenerateQuestionsHandler(w http.ResponseWriter, r *http.Request) {
	var req QuestionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	if user, ok := UserFromContext(r.Context()); ok {
		if req.UserID != "" && req.UserID != user.ID {
			slog.Warn("Ignoring userId that does not match the authenticated user", "user_id", user.ID, "body_user_id", req.UserID)
		}
		req.UserID = user.ID
	}

	set, err := e.questions.Generate(r.Context(), req)
	if err != nil {
		slog.Error("Failed to generate questions", "error", err, "user_id", req.UserID, "job_role", req.JobRole)
		writeJSONError(w, http.StatusInternalServerError, "Failed to generate questions", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, set)
}

func (e *FunctionEndpoints) EvaluateAnswerHandler(w http.ResponseWriter, r *http.Request) {
	var req EvaluationRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	result := e.evaluator.Evaluate(r.Context(), req)
	writeJSON(w, http.StatusOK, result)

	slog.Info("Answer evaluated", "score", result.Score, "performance_level", result.PerformanceLevel, "fallback", result.IsFallback)
}
