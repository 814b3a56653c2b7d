package contentstore

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can tell the user which step broke.
type Kind string

const (
	KindUnauthenticated Kind = "Unauthenticated"
	KindValidation      Kind = "ValidationError"
	KindFork            Kind = "ForkError"
	KindBlob            Kind = "BlobError"
	KindNotFound        Kind = "NotFoundError"
	KindFetch           Kind = "FetchError"
	KindTree            Kind = "TreeError"
	KindCommitLookup    Kind = "CommitLookupError"
	KindCommit          Kind = "CommitError"
	KindRefUpdate       Kind = "RefUpdateError"
	KindPullRequest     Kind = "PullRequestError"
	KindTimeout         Kind = "TimeoutError"
	KindConsistency     Kind = "ConsistencyError"
	KindConflict        Kind = "Conflict"
)

// Error is returned by every Client operation. Status is the remote HTTP status when there
// was one, and Message is the remote's own explanation, passed through verbatim.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: %d %s", e.Kind, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d", e.Kind, e.Status)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind carried by err. Deadline errors are TimeoutError regardless of
// the operation that hit them.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Kind
	}
	return ""
}

func opError(kind Kind, status int, message string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Status: status, Message: message, Err: err}
}
