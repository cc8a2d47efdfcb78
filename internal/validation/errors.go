package validation

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies a validation issue.
type Code string

const (
	CodeMissingRequiredValue Code = "missing_required_value"
	CodeOutOfRange           Code = "out_of_range"
	CodeNotInChoices         Code = "not_in_choices"
	CodeTypeMismatch         Code = "type_mismatch"
	CodeUnknownKey           Code = "unknown_key"
	CodeInvalidDefinition    Code = "invalid_definition"
)

var (
	ErrMissingRequiredValue = errors.New("missing required value")
	ErrOutOfRange           = errors.New("out of range")
	ErrNotInChoices         = errors.New("not in choices")
	ErrTypeMismatch         = errors.New("type mismatch")
	ErrUnknownKey           = errors.New("unknown key")
	ErrInvalidDefinition    = errors.New("invalid definition")
)

var sentinels = map[Code]error{
	CodeMissingRequiredValue: ErrMissingRequiredValue,
	CodeOutOfRange:           ErrOutOfRange,
	CodeNotInChoices:         ErrNotInChoices,
	CodeTypeMismatch:         ErrTypeMismatch,
	CodeUnknownKey:           ErrUnknownKey,
	CodeInvalidDefinition:    ErrInvalidDefinition,
}

// Issue is one violated constraint.
type Issue struct {
	Code    Code   `json:"code"`
	Key     string `json:"key,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Key == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.Key, i.Message)
}

// Error aggregates validation issues. errors.Is matches the sentinel of any
// contained issue code.
type Error struct {
	Issues []Issue
}

func (e *Error) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.String())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *Error) Add(code Code, key, message string) {
	if strings.TrimSpace(message) == "" {
		return
	}
	e.Issues = append(e.Issues, Issue{Code: code, Key: key, Message: message})
}

// Merge folds err into e. Non-validation errors become invalid_definition issues.
func (e *Error) Merge(key string, err error) {
	if err == nil {
		return
	}
	var other *Error
	if errors.As(err, &other) {
		e.Issues = append(e.Issues, other.Issues...)
		return
	}
	e.Add(CodeInvalidDefinition, key, err.Error())
}

func (e *Error) Has(code Code) bool {
	for _, issue := range e.Issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

func (e *Error) Is(target error) bool {
	for _, issue := range e.Issues {
		if sentinel, ok := sentinels[issue.Code]; ok && sentinel == target {
			return true
		}
	}
	return false
}

func (e *Error) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
