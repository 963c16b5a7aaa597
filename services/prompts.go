package services

import (
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const questionSystemInstruction = `You are an experienced technical interviewer. You write realistic interview questions that match the candidate's target role, domain and seniority. You never include answers or commentary.`

const evaluationSystemInstruction = `You are a fair, demanding interview coach. You score a candidate's answer on a 0-10 scale and give specific, actionable feedback. Score 9-10 only for outstanding answers, 7-8 for good answers, 5-6 for satisfactory answers and below 5 when the answer is weak, off-topic or missing.`

const reportSystemInstruction = `You are an interview coach writing the end-of-session report for a mock interview. Be concise, concrete and encouraging without hiding weaknesses.`

const resumeSummarySystemInstruction = `You summarize resumes for interviewers. Write in the third person, neutral tone, no markdown.`

func buildQuestionPrompt(req QuestionRequest, count int, resumeSummary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate exactly %d interview questions for a %s candidate applying for a %s role in the %s domain.\n",
		count, req.ExperienceLevel, req.JobRole, req.Domain)
	fmt.Fprintf(&b, "Interview type: %s.\n", req.InterviewType)
	if c := strings.TrimSpace(req.AdditionalConstraints); c != "" {
		fmt.Fprintf(&b, "Additional constraints from the candidate: %s\n", c)
	}
	if resumeSummary != "" {
		b.WriteString("\nCandidate resume summary (tailor at least half of the questions to this background, referring to concrete projects or skills):\n")
		b.WriteString(resumeSummary)
		b.WriteString("\n")
	}
	b.WriteString(`
Return a JSON array. Each element must have:
- "question": the question text
- "type": one of technical, behavioral, situational, system_design
- "difficulty": one of easy, medium, hard
- "focus_area": the skill or topic being assessed
Return ONLY the JSON array.`)
	return b.String()
}

func buildEvaluationPrompt(req EvaluationRequest) string {
	level := req.ExperienceLevel
	if level == "" {
		level = "unspecified"
	}
	return fmt.Sprintf(`Evaluate this interview answer.

Role: %s
Domain: %s
Experience level: %s

Question:
%s

Candidate answer:
%s

Return a JSON object with:
- "score": number from 0 to 10
- "performance_level": one of Excellent, Good, Satisfactory, Needs Improvement
- "strengths": list of short strings
- "improvements": list of short strings
- "detailed_feedback": two to four sentences
- "recommendation": one actionable sentence
Return ONLY the JSON object.`, req.JobRole, req.Domain, level, req.Question, req.Answer)
}

func buildReportPrompt(session reportContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mock interview for a %s %s role (%s domain, %s interview).\n",
		session.ExperienceLevel, session.JobRole, session.Domain, session.InterviewType)
	fmt.Fprintf(&b, "Answered %d of %d questions. Average score %.1f/10.\n\n", session.Answered, session.Total, session.AverageScore)
	for i, qa := range session.Answers {
		fmt.Fprintf(&b, "Q%d: %s\nScore: %.1f\nFeedback: %s\n\n", i+1, qa.Question, qa.Score, qa.Feedback)
	}
	b.WriteString(`Return a JSON object with:
- "summary": a narrative of 80-150 words about the overall performance
- "recommendations": two or three sentences on what to practise next
Return ONLY the JSON object.`)
	return b.String()
}

func buildResumeSummaryPrompt(source string) string {
	return fmt.Sprintf(`Summarize the following resume in 120 to 200 words. Cover the candidate's current role, years of experience, core technical skills, notable projects and achievements, and education. Do not invent facts.

RESUME:
%s`, source)
}

var questionsResponseSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"question":   {Type: genai.TypeString},
			"type":       {Type: genai.TypeString, Enum: []string{"technical", "behavioral", "situational", "system_design"}},
			"difficulty": {Type: genai.TypeString, Enum: []string{"easy", "medium", "hard"}},
			"focus_area": {Type: genai.TypeString},
		},
		Required: []string{"question", "type", "difficulty", "focus_area"},
	},
}

var evaluationResponseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"score":             {Type: genai.TypeNumber, Minimum: genai.Ptr(0.0), Maximum: genai.Ptr(10.0)},
		"performance_level": {Type: genai.TypeString, Enum: []string{PerformanceExcellent, PerformanceGood, PerformanceSatisfactory, PerformanceNeedsImprovement}},
		"strengths":         {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"improvements":      {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"detailed_feedback": {Type: genai.TypeString},
		"recommendation":    {Type: genai.TypeString},
	},
	Required: []string{"score", "performance_level", "strengths", "improvements", "detailed_feedback", "recommendation"},
}

var reportResponseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary":         {Type: genai.TypeString},
		"recommendations": {Type: genai.TypeString},
	},
	Required: []string{"summary", "recommendations"},
}
