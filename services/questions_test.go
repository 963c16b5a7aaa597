package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQuestionGenerator(llm TextGenerator, summaries ResumeSummaryLookup) *QuestionGenerator {
	return NewQuestionGenerator(llm, summaries, InterviewConfig{DefaultQuestions: 5, MaxQuestions: 20})
}

var baseQuestionRequest = QuestionRequest{
	JobRole:         "Backend Engineer",
	Domain:          "Payments",
	ExperienceLevel: "Senior",
	InterviewType:   "Technical",
}

func TestQuestionCount(t *testing.T) {
	g := newTestQuestionGenerator(&fakeGenerator{}, nil)
	assert.Equal(t, 5, g.questionCount(0))
	assert.Equal(t, 5, g.questionCount(-3))
	assert.Equal(t, 7, g.questionCount(7))
	assert.Equal(t, 20, g.questionCount(50))
}

func TestGenerateQuestionsPersonalized(t *testing.T) {
	llm := &fakeGenerator{replies: []string{`[
		{"question": "How did you design the ledger service?", "type": "technical", "difficulty": "hard", "focus_area": "Distributed systems"},
		{"question": "Explain idempotency keys.", "type": "technical", "difficulty": "medium", "focus_area": "APIs"}
	]`}}
	summaries := &fakeSummaries{summaries: map[string]string{"u1": "Eight years building payment platforms in Go."}}
	g := newTestQuestionGenerator(llm, summaries)

	req := baseQuestionRequest
	req.UserID = "u1"
	req.NumQuestions = 2
	set, err := g.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, set.ResumePersonalized)
	assert.Equal(t, 2, set.TotalQuestions)
	assert.Equal(t, "How did you design the ledger service?", set.Questions[0].Question)

	calls := llm.calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "Eight years building payment platforms in Go.")
	assert.Contains(t, calls[0].Prompt, "Generate exactly 2 interview questions")
	assert.Equal(t, "generate_questions", calls[0].Operation)
	assert.NotNil(t, calls[0].Schema)
}

func TestGenerateQuestionsWithoutSummary(t *testing.T) {
	llm := &fakeGenerator{replies: []string{`{"questions": [{"question": "Tell me about a production incident."}]}`}}
	g := newTestQuestionGenerator(llm, &fakeSummaries{})

	req := baseQuestionRequest
	req.UserID = "nobody"
	set, err := g.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, set.ResumePersonalized)
	require.Len(t, set.Questions, 1)
	q := set.Questions[0]
	assert.Equal(t, "technical", q.Type)
	assert.Equal(t, "hard", q.Difficulty)
	assert.Equal(t, "Payments", q.FocusArea)
	assert.NotContains(t, llm.calls()[0].Prompt, "resume summary")
}

func TestGenerateQuestionsSummaryLookupErrorIsNotFatal(t *testing.T) {
	llm := &fakeGenerator{replies: []string{`[{"question": "Q1"}]`}}
	g := newTestQuestionGenerator(llm, &fakeSummaries{err: errors.New("redis down")})

	req := baseQuestionRequest
	req.UserID = "u1"
	set, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, set.ResumePersonalized)
}

func TestGenerateQuestionsTruncatesAndDropsBlanks(t *testing.T) {
	llm := &fakeGenerator{replies: []string{"```json\n" + `[
		{"question": "  "},
		{"question": "Q1"}, {"question": "Q2"}, {"question": "Q3"}, {"question": "Q4"}
	]` + "\n```"}}
	g := newTestQuestionGenerator(llm, nil)

	req := baseQuestionRequest
	req.NumQuestions = 3
	set, err := g.Generate(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, set.Questions, 3)
	assert.Equal(t, "Q1", set.Questions[0].Question)
	assert.Equal(t, 3, set.TotalQuestions)
}

func TestGenerateQuestionsFailures(t *testing.T) {
	tests := []struct {
		name  string
		llm   *fakeGenerator
		check func(t *testing.T, err error)
	}{
		{
			name: "upstream error",
			llm:  &fakeGenerator{errs: []error{&UpstreamError{Operation: "generate_questions", Err: errors.New("503")}}},
			check: func(t *testing.T, err error) {
				var upstream *UpstreamError
				assert.ErrorAs(t, err, &upstream)
			},
		},
		{
			name:  "no json",
			llm:   &fakeGenerator{replies: []string{"Sorry, I can't help with that."}},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrNoJSON) },
		},
		{
			name: "schema mismatch",
			llm:  &fakeGenerator{replies: []string{`[{"text": "missing question field"}]`}},
			check: func(t *testing.T, err error) {
				var payloadErr *PayloadError
				assert.ErrorAs(t, err, &payloadErr)
			},
		},
		{
			name:  "only blanks",
			llm:   &fakeGenerator{replies: []string{`[{"question": ""}]`}},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrNoQuestions) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestQuestionGenerator(tt.llm, nil)
			_, err := g.Generate(context.Background(), baseQuestionRequest)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestDifficultyForLevel(t *testing.T) {
	assert.Equal(t, "easy", difficultyForLevel("Entry Level"))
	assert.Equal(t, "easy", difficultyForLevel("junior"))
	assert.Equal(t, "medium", difficultyForLevel("Mid"))
	assert.Equal(t, "hard", difficultyForLevel("Lead"))
	assert.Equal(t, "hard", difficultyForLevel("Principal Engineer"))
}
