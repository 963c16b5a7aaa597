package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/krshsl/mockprep/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFunctionRouter(llm *fakeGenerator, summaries ResumeSummaryLookup, user *models.User) http.Handler {
	endpoints := NewFunctionEndpoints(
		newTestQuestionGenerator(llm, summaries),
		newTestEvaluator(llm, 0),
	)
	r := chi.NewRouter()
	if user != nil {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(WithUser(req.Context(), user)))
			})
		})
	}
	endpoints.RegisterRoutes(r)
	return r
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf).WithContext(context.Background())
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGenerateQuestionsHandler(t *testing.T) {
	llm := &fakeGenerator{replies: []string{`[{"question":"Q1","type":"technical","difficulty":"hard","focus_area":"Go"}]`}}
	user := &models.User{ID: "user-1"}
	summaries := &fakeSummaries{summaries: map[string]string{"user-1": "Go developer"}}
	h := newFunctionRouter(llm, summaries, user)

	rec := postJSON(t, h, "/functions/generate-questions", map[string]any{
		"jobRole":         "Backend Engineer",
		"domain":          "Fintech",
		"experienceLevel": "Senior",
		"interviewType":   "technical",
		"numQuestions":    1,
		"userId":          "someone-else",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var set QuestionSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	assert.Equal(t, 1, set.TotalQuestions)
	assert.True(t, set.ResumePersonalized, "authenticated user's summary should be used")
	assert.Contains(t, llm.calls()[0].Prompt, "Go developer")
}

func TestGenerateQuestionsHandlerErrors(t *testing.T) {
	t.Run("invalid request", func(t *testing.T) {
		h := newFunctionRouter(&fakeGenerator{}, nil, nil)
		rec := postJSON(t, h, "/functions/generate-questions", map[string]any{"jobRole": "SRE"})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Invalid request", body.Error)
		assert.Contains(t, body.Details, "domain")
	})

	t.Run("generation failure", func(t *testing.T) {
		llm := &fakeGenerator{errs: []error{&UpstreamError{Operation: "generate_questions", Err: errors.New("model overloaded")}}}
		h := newFunctionRouter(llm, nil, nil)
		rec := postJSON(t, h, "/functions/generate-questions", map[string]any{
			"jobRole": "SRE", "domain": "Cloud", "experienceLevel": "Mid", "interviewType": "technical",
		})
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Failed to generate questions", body.Error)
		assert.Contains(t, body.Details, "model overloaded")
	})
}

func TestEvaluateAnswerHandler(t *testing.T) {
	t.Run("model reply", func(t *testing.T) {
		llm := &fakeGenerator{replies: []string{`{"score": 9.5, "performance_level": "Excellent", "strengths": ["Depth"], "improvements": ["Brevity"], "detailed_feedback": "Great.", "recommendation": "Keep going."}`}}
		h := newFunctionRouter(llm, nil, nil)
		rec := postJSON(t, h, "/functions/evaluate-answer", baseEvaluationRequest)
		require.Equal(t, http.StatusOK, rec.Code)

		var got EvaluationResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, 9.5, got.Score)
		assert.False(t, got.IsFallback)
	})

	t.Run("fallback still 200", func(t *testing.T) {
		h := newFunctionRouter(&fakeGenerator{replies: []string{"no json here"}}, nil, nil)
		rec := postJSON(t, h, "/functions/evaluate-answer", baseEvaluationRequest)
		require.Equal(t, http.StatusOK, rec.Code)

		var got EvaluationResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.True(t, got.IsFallback)
		assert.Equal(t, 5.0, got.Score)
	})

	t.Run("invalid json", func(t *testing.T) {
		h := newFunctionRouter(&fakeGenerator{}, nil, nil)
		rec := postJSON(t, h, "/functions/evaluate-answer", `{"question": `)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
