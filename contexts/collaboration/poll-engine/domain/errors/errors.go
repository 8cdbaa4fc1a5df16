package errors

import (
	"errors"
	"strings"
)

var (
	ErrInvalidPollInput       = errors.New("invalid poll input")
	ErrPollNotFound           = errors.New("poll not found")
	ErrPollClosed             = errors.New("poll is closed")
	ErrUnknownPollType        = errors.New("unknown poll type")
	ErrOptionNotFound         = errors.New("poll option not found")
	ErrStanceNotFound         = errors.New("stance not found")
	ErrInvalidStanceInput     = errors.New("invalid stance input")
	ErrSingleChoiceOnly       = errors.New("poll accepts a single choice")
	ErrDiscussionNotFound     = errors.New("discussion not found")
	ErrGroupNotFound          = errors.New("group not found")
	ErrCommunityNotFound      = errors.New("community not found")
	ErrConflict               = errors.New("poll conflict")
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	ErrIdempotencyConflict    = errors.New("idempotency key conflict")
)

// FieldError is one validation violation scoped to a field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationErrors collects every violation found at save time; save is
// rejected whenever the list is non-empty.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, item := range v {
		parts = append(parts, item.Field+" "+item.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a violation and returns the extended list.
func (v ValidationErrors) Add(field string, message string) ValidationErrors {
	return append(v, FieldError{Field: field, Message: message})
}

// AsValidation unwraps err into ValidationErrors when possible.
func AsValidation(err error) (ValidationErrors, bool) {
	var validation ValidationErrors
	if errors.As(err, &validation) {
		return validation, true
	}
	return nil, false
}
