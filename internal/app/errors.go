package app

import (
	"errors"
	"fmt"
	"net/http"

	"counsel/api/internal/auth"
	"counsel/api/internal/domain"
	"counsel/api/internal/export"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		var fields any
		if len(validationErr.Fields) > 0 {
			fields = validationErr.Fields
		}
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Error(), fields
	}
	var conflictErr *domain.ConflictError
	if errors.As(err, &conflictErr) {
		return http.StatusConflict, "REVISION_CONFLICT", conflictErr.Error(), map[string]any{
			"expectedRevision": conflictErr.ExpectedRevision,
			"currentRevision":  conflictErr.CurrentRevision,
		}
	}
	var notFoundErr *domain.NotFoundError
	if errors.As(err, &notFoundErr) {
		return http.StatusNotFound, "NOT_FOUND", notFoundErr.Error(), nil
	}
	var forbiddenErr *domain.ForbiddenError
	if errors.As(err, &forbiddenErr) {
		return http.StatusForbidden, "FORBIDDEN", forbiddenErr.Error(), nil
	}

	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusNotImplemented, "EXPORT_DEPENDENCY_MISSING", err.Error(), nil
	case errors.Is(err, export.ErrPublishUnavailable):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
