package lorebook

import "fmt"

// ValidationError is returned when caller input is malformed: an importance
// score outside [1,10], an unknown category or role, or empty message content.
// Validation failures are surfaced directly and never retried.
type ValidationError struct {
	// Field is the name of the offending input field
	Field string
	// Reason describes why the value was rejected
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError is returned when a requested record is absent, or present
// but inactive and therefore invisible to normal operations.
type NotFoundError struct {
	// Kind names the record set, e.g. "memory entry"
	Kind string
	// ID is the identifier that failed to resolve
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NewNotFoundError creates a not-found error for a record.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// DependencyError is returned when an external provider (embedding,
// extraction, summarization) stays unreachable or keeps timing out after
// bounded retries. Creation paths surface it alongside whatever state was
// already persisted; summary paths degrade to a fallback result instead.
type DependencyError struct {
	// Provider names the failing collaborator, e.g. "embedder"
	Provider string
	// Err is the final underlying error after retries were exhausted
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Provider, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// NewDependencyError wraps the final error from an exhausted provider call.
func NewDependencyError(provider string, err error) *DependencyError {
	return &DependencyError{Provider: provider, Err: err}
}
