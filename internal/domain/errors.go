// Package domain defines core types and errors for the metrics gateway.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError indicates an invalid plan or request. Problems carries every
// offending field so the caller can fix them all at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid plan: " + strings.Join(e.Problems, "; ")
}

// ErrValidation creates a ValidationError with a single formatted problem.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Problems: []string{fmt.Sprintf(format, args...)}}
}

// PlanGenerationError indicates the language model was unreachable, timed out,
// or returned output that could not be parsed into a plan.
type PlanGenerationError struct {
	Message string
}

func (e *PlanGenerationError) Error() string { return e.Message }

// ErrPlanGeneration creates a PlanGenerationError with a formatted message.
func ErrPlanGeneration(format string, args ...interface{}) *PlanGenerationError {
	return &PlanGenerationError{Message: fmt.Sprintf(format, args...)}
}

// ExecutionErrorKind distinguishes engine timeouts from engine failures so
// callers can decide whether to retry with a smaller scope.
type ExecutionErrorKind string

const (
	ExecutionTimeout       ExecutionErrorKind = "TIMEOUT"
	ExecutionEngineFailure ExecutionErrorKind = "ENGINE_FAILURE"
)

// ExecutionError indicates the semantic query engine failed or timed out.
// Detail carries the raw engine diagnostic output.
type ExecutionError struct {
	Kind   ExecutionErrorKind
	Detail string
}

func (e *ExecutionError) Error() string {
	if e.Kind == ExecutionTimeout {
		return "query engine timed out"
	}
	msg := "query engine failed"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// RateLimitError indicates the client exhausted its request allowance.
type RateLimitError struct {
	Message string
	ResetAt time.Time
}

func (e *RateLimitError) Error() string { return e.Message }

// AuthError indicates a missing or invalid credential.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// ErrAuth creates an AuthError with a formatted message.
func ErrAuth(format string, args ...interface{}) *AuthError {
	return &AuthError{Message: fmt.Sprintf(format, args...)}
}
