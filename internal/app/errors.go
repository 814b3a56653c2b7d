package app

import (
	"errors"
	"fmt"
	"net/http"

	"pecademic/api/internal/contentstore"
	"pecademic/api/internal/session"
	"pecademic/api/internal/submission"
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

var errSubmissionInProgress = domainError(
	http.StatusConflict,
	string(contentstore.KindConflict),
	"Another submission is already in progress",
	nil,
)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var failure *submission.Failure
	if errors.As(err, &failure) {
		return statusForKind(failure.Kind), string(failure.Kind), failure.Reason(), failureDetails(failure)
	}
	if errors.Is(err, session.ErrNoSession) || errors.Is(err, session.ErrNotFound) {
		return http.StatusUnauthorized, string(contentstore.KindUnauthenticated), "Unauthorized", nil
	}
	var storeErr *contentstore.Error
	if errors.As(err, &storeErr) {
		return statusForKind(storeErr.Kind), string(storeErr.Kind), storeErr.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// statusForKind maps a failure kind to the response status. Failures the remote store reported
// surface as 502 since the request itself was fine.
func statusForKind(kind contentstore.Kind) int {
	switch kind {
	case contentstore.KindValidation:
		return http.StatusBadRequest
	case contentstore.KindUnauthenticated:
		return http.StatusUnauthorized
	case contentstore.KindConflict, contentstore.KindConsistency:
		return http.StatusConflict
	case contentstore.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func failureDetails(f *submission.Failure) map[string]any {
	leftovers := f.Leftovers
	if leftovers == nil {
		leftovers = []submission.Leftover{}
	}
	details := map[string]any{
		"submissionId": f.SubmissionID,
		"step":         f.Step,
		"leftovers":    leftovers,
	}
	if f.Status != 0 {
		details["status"] = f.Status
	}
	if f.Message != "" {
		details["message"] = f.Message
	}
	return details
}
