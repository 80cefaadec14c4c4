// Package apperr defines the error taxonomy shared by the analysis pipeline
// and the HTTP layer. Every terminal failure maps to one Error value carrying
// a stable code (persisted in the audit trail) and the HTTP status returned
// to the caller.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a categorized pipeline failure.
type Error struct {
	Code       string // stable machine code, e.g. "INVALID_VIDEO"
	HTTPStatus int
	Message    string // caller-visible message
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.cause)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors by code so sentinel comparisons work across wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithCause returns a copy of e carrying err as its cause. The copy keeps
// e's code, status and message, so errors.Is against the sentinel still holds.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, HTTPStatus: e.HTTPStatus, Message: e.Message, cause: err}
}

var (
	// ErrInvalidVideo covers absent/conflicting video sources, URLs outside
	// the trusted grammars, and fetch or filesystem failures during intake.
	ErrInvalidVideo = &Error{
		Code:       "INVALID_VIDEO",
		HTTPStatus: http.StatusBadRequest,
		Message:    "Invalid or missing video input",
	}

	// ErrInvalidMilestoneID is a missing or non-integer milestone id.
	ErrInvalidMilestoneID = &Error{
		Code:       "INVALID_MILESTONE_ID",
		HTTPStatus: http.StatusBadRequest,
		Message:    "Invalid or missing milestone ID",
	}

	// ErrMilestoneNotFound means the milestone id did not resolve.
	ErrMilestoneNotFound = &Error{
		Code:       "MILESTONE_NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Message:    "invalid milestone ID",
	}

	// ErrConfigurationMissing covers a milestone with no validators, no
	// current system prompt, no active model, or no resolvable policy.
	ErrConfigurationMissing = &Error{
		Code:       "CONFIGURATION_MISSING",
		HTTPStatus: http.StatusInternalServerError,
		Message:    "Internal server error",
	}

	// ErrModelResponseParse means the provider returned a non-JSON or
	// schema-violating body.
	ErrModelResponseParse = &Error{
		Code:       "MODEL_RESPONSE_PARSE_ERROR",
		HTTPStatus: http.StatusInternalServerError,
		Message:    "Internal server error",
	}

	// ErrInternal is the uncategorized fallback.
	ErrInternal = &Error{
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
		Message:    "Internal server error",
	}
)

// Classify returns err as an *Error, wrapping uncategorized errors as
// ErrInternal. A nil err returns nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.WithCause(err)
}
