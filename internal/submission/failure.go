package submission

import (
	"fmt"
	"strings"

	"pecademic/api/internal/contentstore"
)

// Leftover is a remote object created before the submission failed. Nothing is rolled back, so
// these are reported for manual cleanup.
type Leftover struct {
	Type string `json:"type"`
	Ref  string `json:"ref"`
}

// Failure is the error returned by Submit.
type Failure struct {
	SubmissionID string
	Step         State
	Kind         contentstore.Kind
	// Status and Message come verbatim from the remote store when it answered.
	Status    int
	Message   string
	Leftovers []Leftover
	Err       error
}

func (f *Failure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "submission failed at %s: %s", f.Step, f.Kind)
	if f.Status != 0 {
		fmt.Fprintf(&b, " (%d)", f.Status)
	}
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	return b.String()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Reason is the sentence shown to the contributor.
func (f *Failure) Reason() string {
	prefix := reasons[f.Kind]
	if prefix == "" {
		prefix = "Submission failed"
	}
	detail := f.Message
	if f.Status != 0 {
		detail = strings.TrimSpace(fmt.Sprintf("%d %s", f.Status, f.Message))
	}
	if detail == "" {
		return prefix + "."
	}
	return prefix + ": " + detail
}

var reasons = map[contentstore.Kind]string{
	contentstore.KindUnauthenticated: "Sign in to submit a paper",
	contentstore.KindValidation:      "The submission is incomplete or invalid",
	contentstore.KindFork:            "Could not fork the archive",
	contentstore.KindBlob:            "Could not upload the file",
	contentstore.KindNotFound:        "The catalog could not be found in your fork",
	contentstore.KindFetch:           "Could not read the catalog",
	contentstore.KindTree:            "Could not build the new file tree",
	contentstore.KindCommitLookup:    "Could not find the latest commit",
	contentstore.KindCommit:          "Could not create the commit",
	contentstore.KindRefUpdate:       "Could not update your fork's branch",
	contentstore.KindPullRequest:     "Could not open the pull request",
	contentstore.KindTimeout:         "The content store did not answer in time",
	contentstore.KindConsistency:     "The catalog lists this course code more than once",
	contentstore.KindConflict:        "Another submission is already in progress",
}
