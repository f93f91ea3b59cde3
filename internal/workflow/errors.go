package workflow

import (
	"errors"
	"fmt"
)

// Kind classifies workflow failures for logging and metrics.
type Kind string

const (
	// KindValidation covers bad uploads and missing context. The user gets a corrective message.
	KindValidation Kind = "validation"
	// KindExternalService covers gateway and model failures.
	KindExternalService Kind = "external_service"
	// KindState covers events that no longer match the session step.
	KindState Kind = "state"
	// KindConcurrency covers duplicate triggers. Benign.
	KindConcurrency Kind = "concurrency"
	KindInternal    Kind = "internal"
)

// Error carries a Kind through handler returns.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("workflow: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("workflow: %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindInternal when it carries none.
func KindOf(err error) Kind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return KindInternal
}
