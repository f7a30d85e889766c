package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrQueueFull is returned when the note pipeline cannot accept work.
	ErrQueueFull = errors.New("pipeline queue full")
)

// ValidationError rejects bad user input before any pipeline work runs.
// It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "validation failed"
	}
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidArgument }

// ExtractionError means the model output could not be parsed into the
// expected structure. The note is persisted regardless; processing is marked
// failed and the note stays retryable.
type ExtractionError struct {
	Stage   string // "artifacts" or "relationships"
	RawText string
	Cause   error
}

func (e *ExtractionError) Error() string {
	if e == nil {
		return "extraction failed"
	}
	return fmt.Sprintf("extraction failed (stage=%s): unparsable model output", e.Stage)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// CandidateRetrievalError wraps vector-store failures during candidate
// lookup. Retryable; degrades to an empty candidate list only when the
// engine is configured to do so.
type CandidateRetrievalError struct {
	Cause error
}

func (e *CandidateRetrievalError) Error() string {
	if e == nil {
		return "candidate retrieval failed"
	}
	return fmt.Sprintf("candidate retrieval failed: %v", e.Cause)
}

func (e *CandidateRetrievalError) Unwrap() error { return e.Cause }

// AdjudicationError wraps a failed or unparsable LLM same-entity judgment.
// The engine treats the item as new rather than guessing a merge.
type AdjudicationError struct {
	Cause error
}

func (e *AdjudicationError) Error() string {
	if e == nil {
		return "adjudication failed"
	}
	return fmt.Sprintf("adjudication failed: %v", e.Cause)
}

func (e *AdjudicationError) Unwrap() error { return e.Cause }

// SyncError is a per-store projection failure. It never blocks the other
// store or the user-visible response; it surfaces through sync-status fields.
type SyncError struct {
	Store string // "qdrant" or "graph"
	Cause error
}

func (e *SyncError) Error() string {
	if e == nil {
		return "store sync failed"
	}
	return fmt.Sprintf("%s sync failed: %v", e.Store, e.Cause)
}

func (e *SyncError) Unwrap() error { return e.Cause }
