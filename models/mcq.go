package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// QuestionKind labels one slot of a question distribution.
type QuestionKind string

const (
	KindTheoretical  QuestionKind = "theoretical"
	KindMathematical QuestionKind = "mathematical"
)

// Question type requested by the teacher; drives the theoretical/mathematical ratio.
const (
	QuestionTypeTheoretical  = "theoretical"
	QuestionTypeMathematical = "mathematical"
	QuestionTypeMixed        = "mixed"
)

var optionLetters = [4]string{"A", "B", "C", "D"}

// OptionSet accepts either a JSON list or an object keyed A..D.
// Object form is decoded into A,B,C,D order; missing letters become "".
type OptionSet []string

func (o *OptionSet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}

	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		out := make(OptionSet, 0, len(items))
		for _, item := range items {
			out = append(out, rawToString(item))
		}
		*o = out
		return nil
	case '{':
		var keyed map[string]json.RawMessage
		if err := json.Unmarshal(data, &keyed); err != nil {
			return err
		}
		byLetter := make(map[string]string, len(keyed))
		for k, v := range keyed {
			letter := strings.ToUpper(strings.TrimSpace(k))
			if letter != "" {
				letter = letter[:1]
			}
			byLetter[letter] = rawToString(v)
		}
		out := make(OptionSet, 4)
		for i, l := range optionLetters {
			out[i] = byLetter[l]
		}
		*o = out
		return nil
	default:
		return fmt.Errorf("options: expected list or object, got %s", string(data[:1]))
	}
}

// MarshalJSON always emits the lettered object form the prompts ask for.
func (o OptionSet) MarshalJSON() ([]byte, error) {
	keyed := make(map[string]string, 4)
	for i, l := range optionLetters {
		if i < len(o) {
			keyed[l] = o[i]
		}
	}
	return json.Marshal(keyed)
}

// AnswerKey keeps the model's correct_answer verbatim: a letter or a 0-based index.
type AnswerKey json.RawMessage

func (a *AnswerKey) UnmarshalJSON(data []byte) error {
	*a = append((*a)[:0], data...)
	return nil
}

func (a AnswerKey) MarshalJSON() ([]byte, error) {
	if len(a) == 0 {
		return []byte("null"), nil
	}
	return []byte(a), nil
}

// RawMCQ is a model-produced candidate question before normalization.
type RawMCQ struct {
	Question      string    `json:"question"`
	Options       OptionSet `json:"options"`
	CorrectAnswer AnswerKey `json:"correct_answer"`
	Explanation   string    `json:"explanation"`
	Difficulty    string    `json:"difficulty"`
	Topic         string    `json:"topic"`
}

// MCQQuestion is a final question: exactly four options and a 0-based answer index.
type MCQQuestion struct {
	Question      string    `bson:"question" json:"question"`
	Options       [4]string `bson:"options" json:"options"`
	CorrectAnswer int       `bson:"correct_answer" json:"correctAnswer"`
	Explanation   string    `bson:"explanation" json:"explanation"`
	Difficulty    string    `bson:"difficulty" json:"difficulty"`
	Topic         string    `bson:"topic" json:"topic"`
}

// Quiz is a persisted quiz generation run.
type Quiz struct {
	ID               string        `bson:"_id" json:"id"`
	TeacherID        string        `bson:"teacher_id" json:"teacher_id"`
	DocumentID       string        `bson:"document_id,omitempty" json:"document_id,omitempty"`
	Status           string        `bson:"status" json:"status"` // pending, completed, failed
	QuestionType     string        `bson:"question_type" json:"question_type"`
	Difficulty       string        `bson:"difficulty" json:"difficulty"`
	Requested        int           `bson:"requested" json:"requested"`
	Questions        []MCQQuestion `bson:"questions" json:"questions"`
	Stage1Count      int           `bson:"stage1_count" json:"stage1Count"`
	Stage2Count      int           `bson:"stage2_count" json:"stage2Count"`
	Stage3Count      int           `bson:"stage3_count" json:"stage3Count"`
	ProcessingTimeMs int64         `bson:"processing_time_ms" json:"processingTime"`
	ErrorMessage     string        `bson:"error_message,omitempty" json:"error_message,omitempty"`
	CreatedAt        time.Time     `bson:"created_at" json:"created_at"`
	CompletedAt      *time.Time    `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

const (
	QuizPending   = "pending"
	QuizCompleted = "completed"
	QuizFailed    = "failed"
)

func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		return ""
	}
	return trimmed
}
