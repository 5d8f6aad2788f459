package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"lesson-content-engine/models"
)

// ErrMalformedModelOutput wraps every failure to read JSON out of a completion.
var ErrMalformedModelOutput = errors.New("malformed model output")

var answerLetters = map[string]int{"A": 0, "B": 1, "C": 2, "D": 3}

// ParseModelJSON decodes the JSON value embedded in a model reply into v.
// Markdown code fences are removed and any prose before the first '[' or '{'
// or after the matching last ']' or '}' is ignored.
func ParseModelJSON(raw string, v any) error {
	body := stripCodeFence(strings.TrimSpace(raw))

	start := strings.IndexAny(body, "[{")
	if start < 0 {
		return fmt.Errorf("%w: no JSON value found", ErrMalformedModelOutput)
	}
	closer := byte(']')
	if body[start] == '{' {
		closer = '}'
	}
	end := strings.LastIndexByte(body, closer)
	if end < start {
		return fmt.Errorf("%w: unterminated JSON value", ErrMalformedModelOutput)
	}

	if err := json.Unmarshal([]byte(body[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedModelOutput, err)
	}
	return nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// drop the opening fence line, including any language tag
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// parseMCQArray reads a JSON array of questions. An object wrapping the array
// under "questions" is accepted too.
func parseMCQArray(raw string) ([]models.RawMCQ, error) {
	var items []models.RawMCQ
	err := ParseModelJSON(raw, &items)
	if err == nil {
		return items, nil
	}

	var wrapped struct {
		Questions []models.RawMCQ `json:"questions"`
	}
	if werr := ParseModelJSON(raw, &wrapped); werr == nil && wrapped.Questions != nil {
		return wrapped.Questions, nil
	}
	return nil, err
}

// NormalizeMCQ turns a raw model question into its final form. The answer key
// may be a letter A-D or a 0-based index; anything else becomes 0. It reports
// false when the question text is empty after normalization.
func NormalizeMCQ(raw models.RawMCQ) (models.MCQQuestion, bool) {
	q := models.MCQQuestion{
		Question:      NormalizeLatex(raw.Question),
		CorrectAnswer: answerIndex(raw.CorrectAnswer),
		Explanation:   NormalizeLatex(raw.Explanation),
		Difficulty:    normalizeDifficulty(raw.Difficulty),
		Topic:         NormalizeLatex(raw.Topic),
	}
	for i := 0; i < len(q.Options) && i < len(raw.Options); i++ {
		q.Options[i] = NormalizeLatex(raw.Options[i])
	}
	return q, q.Question != ""
}

// NormalizeAll normalizes raws in order, dropping questions with no text.
func NormalizeAll(raws []models.RawMCQ) []models.MCQQuestion {
	out := make([]models.MCQQuestion, 0, len(raws))
	for _, r := range raws {
		if q, ok := NormalizeMCQ(r); ok {
			out = append(out, q)
		}
	}
	return out
}

func answerIndex(key models.AnswerKey) int {
	if len(key) == 0 {
		return 0
	}

	var s string
	if err := json.Unmarshal(key, &s); err == nil {
		s = strings.ToUpper(strings.TrimSpace(s))
		if idx, ok := answerLetters[s]; ok {
			return idx
		}
		// "C)" or "C. text"
		if len(s) > 1 {
			if idx, ok := answerLetters[s[:1]]; ok && !isLetterByte(s[1]) {
				return idx
			}
		}
		if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 3 {
			return n
		}
		return 0
	}

	var f float64
	if err := json.Unmarshal(key, &f); err == nil {
		n := int(f)
		if float64(n) == f && n >= 0 && n <= 3 {
			return n
		}
	}
	return 0
}

func isLetterByte(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func normalizeDifficulty(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "easy", "kolay":
		return "easy"
	case "hard", "zor":
		return "hard"
	default:
		return "medium"
	}
}
