// Package contentstore talks to the version-controlled store that holds the catalog and the
// paper files. Every operation is a single round trip with no retry; the only state carried
// between calls is whatever the caller threads forward (shas).
package contentstore

import (
	"context"
	"fmt"
	"strings"

	"pecademic/api/internal/session"
)

// Git tree entry modes and types used by the store.
const (
	ModeFile = "100644"
	TypeBlob = "blob"
)

// Repo names a repository as owner/name.
type Repo struct {
	Owner string
	Name  string
}

// ParseRepo parses "owner/name".
func ParseRepo(value string) (Repo, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("invalid repository %q, expected owner/name", value)
	}
	return Repo{Owner: owner, Name: name}, nil
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// File is a decoded file read from the store.
type File struct {
	Content []byte
	SHA     string
}

// TreeEntry is one path written by CreateTree.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// PullRequestInput describes a pull request from a fork branch into the upstream.
type PullRequestInput struct {
	HeadOwner  string
	HeadBranch string
	BaseBranch string
	Title      string
	Body       string
}

// PullRequest is an opened pull request.
type PullRequest struct {
	Number int
	URL    string
}

// Client exposes one method per remote primitive. Errors are *Error values.
type Client interface {
	ForkRepository(ctx context.Context, upstream Repo, cred session.Credential) (Repo, error)
	ReadFile(ctx context.Context, repo Repo, path string, cred session.Credential) (File, error)
	CreateBlob(ctx context.Context, repo Repo, content []byte, cred session.Credential) (string, error)
	CreateTree(ctx context.Context, repo Repo, baseTree string, entries []TreeEntry, cred session.Credential) (string, error)
	GetLatestCommit(ctx context.Context, repo Repo, branch string, cred session.Credential) (string, error)
	CreateCommit(ctx context.Context, repo Repo, message, tree string, parents []string, cred session.Credential) (string, error)
	UpdateRef(ctx context.Context, repo Repo, branch, commit string, cred session.Credential) error
	OpenPullRequest(ctx context.Context, upstream Repo, input PullRequestInput, cred session.Credential) (PullRequest, error)
}
