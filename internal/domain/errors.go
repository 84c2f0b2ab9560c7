package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord marks a record or mention that cannot be normalized.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrValidation marks a write batch rejected in strict mode.
	ErrValidation = errors.New("validation failed")

	// ErrNoSnapshot is returned when no successful fetch has happened yet.
	ErrNoSnapshot = errors.New("no snapshot available")

	// ErrEmptyQuestion is returned for blank FAQ questions.
	ErrEmptyQuestion = errors.New("question is required")

	// ErrNotConfigured marks a collaborator without endpoint or credentials.
	ErrNotConfigured = errors.New("collaborator not configured")

	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// MalformedRecordError describes which field of which record could not be resolved.
// Mention is -1 when the whole record is unusable.
type MalformedRecordError struct {
	Record  int    `json:"record"`
	Mention int    `json:"mention"`
	Field   string `json:"field"`
	Reason  string `json:"reason"`
}

func (e *MalformedRecordError) Error() string {
	if e.Mention < 0 {
		return fmt.Sprintf("record %d: %s: %s", e.Record, e.Field, e.Reason)
	}
	return fmt.Sprintf("record %d mention %d: %s: %s", e.Record, e.Mention, e.Field, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error {
	return ErrMalformedRecord
}
