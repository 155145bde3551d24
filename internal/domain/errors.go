package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is implemented by errors that carry their own status code.
type HTTPError interface {
	error
	StatusCode() int
}

// Sentinels for errors.Is matching.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("revision conflict")
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
)

type (
	// ValidationError reports malformed input. Fields maps input names to messages.
	ValidationError struct {
		Message string
		Fields  map[string]string
	}

	// NotFoundError reports a missing document, comment or presence record.
	NotFoundError struct {
		Resource string
		ID       string
	}

	// ConflictError reports a stale expected revision. Callers refetch and retry.
	ConflictError struct {
		DocumentID       string
		ExpectedRevision int64
		CurrentRevision  int64
	}

	ForbiddenError struct {
		Message string
	}
)

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrValidation.Error()
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document %s is at revision %d, expected %d", e.DocumentID, e.CurrentRevision, e.ExpectedRevision)
}

func (e *ForbiddenError) Error() string { return e.Message }

func (e *ValidationError) StatusCode() int { return http.StatusUnprocessableEntity }
func (e *NotFoundError) StatusCode() int   { return http.StatusNotFound }
func (e *ConflictError) StatusCode() int   { return http.StatusConflict }
func (e *ForbiddenError) StatusCode() int  { return http.StatusForbidden }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *NotFoundError) Is(target error) bool   { return target == ErrNotFound }
func (e *ConflictError) Is(target error) bool   { return target == ErrConflict }
func (e *ForbiddenError) Is(target error) bool  { return target == ErrForbidden }

func Invalid(field, message string) *ValidationError {
	return &ValidationError{Message: message, Fields: map[string]string{field: message}}
}

func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}
