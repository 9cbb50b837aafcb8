package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MinOptions          = 2
	MaxOptions          = 20
	MaxQuestionLength   = 500
	MaxOptionTextLength = 200
)

type Poll struct {
	ID        int64     `db:"id"`
	Question  string    `db:"question"`
	Likes     int64     `db:"likes"`
	Token     string    `db:"token"`
	CreatedAt time.Time `db:"created_at"`
	Options   []Option  `db:"-"`
}

type Option struct {
	ID     int64  `db:"id"`
	PollID int64  `db:"poll_id"`
	Text   string `db:"text"`
	Votes  int64  `db:"votes"`
}

// OptionInput is one entry of an edit request. ID 0 means "new option".
type OptionInput struct {
	ID   int64  `json:"id,omitempty"`
	Text string `json:"text"`
}

// NormalizeQuestion trims and validates a poll question.
func NormalizeQuestion(question string) (string, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return "", &ValidationError{Field: "question", Message: "must not be empty"}
	}
	if utf8.RuneCountInString(q) > MaxQuestionLength {
		return "", &ValidationError{Field: "question", Message: "is too long"}
	}
	return q, nil
}

// NormalizeOptions trims every option text and enforces count and length
// limits. A non-zero option id may appear only once.
func NormalizeOptions(options []OptionInput) ([]OptionInput, error) {
	if len(options) < MinOptions {
		return nil, &ValidationError{Field: "options", Message: "at least two options are required"}
	}
	if len(options) > MaxOptions {
		return nil, &ValidationError{Field: "options", Message: "too many options"}
	}

	out := make([]OptionInput, len(options))
	seen := make(map[int64]bool, len(options))
	for i, o := range options {
		if o.ID != 0 {
			if seen[o.ID] {
				return nil, &ValidationError{Field: "options", Message: "option ids must be unique"}
			}
			seen[o.ID] = true
		}
		text := strings.TrimSpace(o.Text)
		if text == "" {
			return nil, &ValidationError{Field: "options", Message: "option text must not be empty"}
		}
		if utf8.RuneCountInString(text) > MaxOptionTextLength {
			return nil, &ValidationError{Field: "options", Message: "option text is too long"}
		}
		out[i] = OptionInput{ID: o.ID, Text: text}
	}
	return out, nil
}

// NewOptionInputs turns plain option texts into inputs without ids.
func NewOptionInputs(texts []string) []OptionInput {
	inputs := make([]OptionInput, len(texts))
	for i, t := range texts {
		inputs[i] = OptionInput{Text: t}
	}
	return inputs
}

// OptionTexts returns the texts of the given inputs in order.
func OptionTexts(inputs []OptionInput) []string {
	texts := make([]string, len(inputs))
	for i, in := range inputs {
		texts[i] = in.Text
	}
	return texts
}
