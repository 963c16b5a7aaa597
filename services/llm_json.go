package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrNoJSON is returned when a model reply has no parseable JSON value.
var ErrNoJSON = errors.New("no JSON value found in model output")

// CleanJSONBlock strips markdown code fences from a model reply.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx >= 0 {
		// language tag such as "json"
		firstLine := text[:idx]
		if len(firstLine) < 20 && !strings.ContainsAny(firstLine, " {[") {
			text = text[idx+1:]
		}
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// ExtractJSON returns the first JSON object or array embedded in text.
// Braces inside string literals are ignored while matching.
func ExtractJSON(text string) ([]byte, error) {
	candidates := JSONCandidates(text)
	if len(candidates) == 0 {
		return nil, ErrNoJSON
	}
	return candidates[0], nil
}

// JSONCandidates returns every valid JSON object or array embedded in text,
// ordered by where each one starts. Nested values are listed after the value
// that contains them.
func JSONCandidates(text string) [][]byte {
	cleaned := CleanJSONBlock(text)
	if cleaned == "" {
		return nil
	}
	if (cleaned[0] == '{' || cleaned[0] == '[') && json.Valid([]byte(cleaned)) {
		return [][]byte{[]byte(cleaned)}
	}

	var out [][]byte
	for start := 0; start < len(cleaned); start++ {
		if cleaned[start] != '{' && cleaned[start] != '[' {
			continue
		}
		end := matchClosing(cleaned, start)
		if end < 0 {
			continue
		}
		candidate := cleaned[start : end+1]
		if json.Valid([]byte(candidate)) {
			out = append(out, []byte(candidate))
		}
	}
	return out
}

// decodePayload hands each JSON candidate in text to decode until one is
// accepted. Prose such as "on a scale [0, 10]" ahead of the payload is skipped
// this way. When every candidate is rejected the first rejection is returned.
func decodePayload(text string, decode func(raw []byte) error) error {
	candidates := JSONCandidates(text)
	if len(candidates) == 0 {
		return ErrNoJSON
	}

	var firstErr error
	for _, raw := range candidates {
		err := decode(raw)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// matchClosing returns the index of the bracket closing the one at start, or -1.
func matchClosing(s string, start int) int {
	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

// PayloadError lists why a model payload failed schema validation.
type PayloadError struct {
	Problems []string
}

func (e *PayloadError) Error() string {
	return "model payload failed validation: " + strings.Join(e.Problems, "; ")
}

// validateAgainstSchema checks doc against a JSON Schema document.
func validateAgainstSchema(schema string, doc []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to run schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
	}
	return &PayloadError{Problems: problems}
}

const questionsPayloadSchema = `{
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "required": ["question"],
    "properties": {
      "question":   {"type": "string"},
      "type":       {"type": "string"},
      "difficulty": {"type": "string"},
      "focus_area": {"type": "string"}
    }
  }
}`

const evaluationPayloadSchema = `{
  "type": "object",
  "required": ["score"],
  "properties": {
    "score":             {"type": ["number", "string"]},
    "performance_level": {"type": "string"},
    "strengths":         {"type": "array", "items": {"type": "string"}},
    "improvements":      {"type": "array", "items": {"type": "string"}},
    "detailed_feedback": {"type": "string"},
    "recommendation":    {"type": "string"}
  }
}`

const reportPayloadSchema = `{
  "type": "object",
  "required": ["summary"],
  "properties": {
    "summary":         {"type": "string", "minLength": 1},
    "recommendations": {"type": "string"}
  }
}`
