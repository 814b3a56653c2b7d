package contentstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pecademic/api/internal/session"
)

const maxResponseBytes = 64 << 20

// GitHub implements Client against the GitHub REST API.
type GitHub struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

func NewGitHub(baseURL string, httpClient *http.Client) *GitHub {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &GitHub{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  "pecademic-api",
	}
}

// apiError is a non-2xx response.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("github: %d %s", e.status, e.message)
}

type shaResponse struct {
	SHA string `json:"sha"`
}

func (c *GitHub) ForkRepository(ctx context.Context, upstream Repo, cred session.Credential) (Repo, error) {
	var res struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	}
	if err := c.do(ctx, http.MethodPost, repoPath(upstream, "forks"), cred.Token, map[string]any{}, &res); err != nil {
		return Repo{}, wrap(KindFork, err)
	}
	if res.Name == "" || res.Owner.Login == "" {
		return Repo{}, &Error{Kind: KindFork, Message: "fork response missing owner or name"}
	}
	return Repo{Owner: res.Owner.Login, Name: res.Name}, nil
}

func (c *GitHub) ReadFile(ctx context.Context, repo Repo, path string, cred session.Credential) (File, error) {
	var res struct {
		Type     string `json:"type"`
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
		SHA      string `json:"sha"`
		Size     int    `json:"size"`
	}
	if err := c.do(ctx, http.MethodGet, repoPath(repo, "contents/"+escapePath(path)), cred.Token, nil, &res); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.status == http.StatusNotFound {
			return File{}, &Error{Kind: KindNotFound, Status: apiErr.status, Message: apiErr.message, Err: err}
		}
		return File{}, wrap(KindFetch, err)
	}
	if res.Type != "" && res.Type != "file" {
		return File{}, &Error{Kind: KindFetch, Message: fmt.Sprintf("%s is a %s, not a file", path, res.Type)}
	}

	encoded, encoding := res.Content, res.Encoding
	// Files over 1MB come back without inline content.
	if (encoded == "" && res.Size > 0) || encoding == "none" {
		var blob struct {
			Content  string `json:"content"`
			Encoding string `json:"encoding"`
		}
		if err := c.do(ctx, http.MethodGet, repoPath(repo, "git/blobs/"+res.SHA), cred.Token, nil, &blob); err != nil {
			return File{}, wrap(KindFetch, err)
		}
		encoded, encoding = blob.Content, blob.Encoding
	}

	content, err := decodeContent(encoded, encoding)
	if err != nil {
		return File{}, &Error{Kind: KindFetch, Message: "decode file content", Err: err}
	}
	return File{Content: content, SHA: res.SHA}, nil
}

func (c *GitHub) CreateBlob(ctx context.Context, repo Repo, content []byte, cred session.Credential) (string, error) {
	body := map[string]string{
		"content":  base64.StdEncoding.EncodeToString(content),
		"encoding": "base64",
	}
	var res shaResponse
	if err := c.do(ctx, http.MethodPost, repoPath(repo, "git/blobs"), cred.Token, body, &res); err != nil {
		return "", wrap(KindBlob, err)
	}
	return requireSHA(KindBlob, res.SHA)
}

func (c *GitHub) CreateTree(ctx context.Context, repo Repo, baseTree string, entries []TreeEntry, cred session.Credential) (string, error) {
	body := map[string]any{
		"base_tree": baseTree,
		"tree":      entries,
	}
	var res shaResponse
	if err := c.do(ctx, http.MethodPost, repoPath(repo, "git/trees"), cred.Token, body, &res); err != nil {
		return "", wrap(KindTree, err)
	}
	return requireSHA(KindTree, res.SHA)
}

func (c *GitHub) GetLatestCommit(ctx context.Context, repo Repo, branch string, cred session.Credential) (string, error) {
	var res shaResponse
	if err := c.do(ctx, http.MethodGet, repoPath(repo, "commits/"+url.PathEscape(branch)), cred.Token, nil, &res); err != nil {
		return "", wrap(KindCommitLookup, err)
	}
	return requireSHA(KindCommitLookup, res.SHA)
}

func (c *GitHub) CreateCommit(ctx context.Context, repo Repo, message, tree string, parents []string, cred session.Credential) (string, error) {
	body := map[string]any{
		"message": message,
		"tree":    tree,
		"parents": parents,
	}
	var res shaResponse
	if err := c.do(ctx, http.MethodPost, repoPath(repo, "git/commits"), cred.Token, body, &res); err != nil {
		return "", wrap(KindCommit, err)
	}
	return requireSHA(KindCommit, res.SHA)
}

func (c *GitHub) UpdateRef(ctx context.Context, repo Repo, branch, commit string, cred session.Credential) error {
	body := map[string]string{"sha": commit}
	if err := c.do(ctx, http.MethodPatch, repoPath(repo, "git/refs/heads/"+escapePath(branch)), cred.Token, body, nil); err != nil {
		return wrap(KindRefUpdate, err)
	}
	return nil
}

func (c *GitHub) OpenPullRequest(ctx context.Context, upstream Repo, input PullRequestInput, cred session.Credential) (PullRequest, error) {
	body := map[string]string{
		"title": input.Title,
		"head":  input.HeadOwner + ":" + input.HeadBranch,
		"base":  input.BaseBranch,
		"body":  input.Body,
	}
	var res struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := c.do(ctx, http.MethodPost, repoPath(upstream, "pulls"), cred.Token, body, &res); err != nil {
		return PullRequest{}, wrap(KindPullRequest, err)
	}
	if res.HTMLURL == "" {
		return PullRequest{}, &Error{Kind: KindPullRequest, Message: "pull request response missing html_url"}
	}
	return PullRequest{Number: res.Number, URL: res.HTMLURL}, nil
}

// FetchIdentity resolves the token to the signed-in account.
func (c *GitHub) FetchIdentity(ctx context.Context, token string) (session.Identity, error) {
	var res struct {
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := c.do(ctx, http.MethodGet, "/user", token, nil, &res); err != nil {
		return session.Identity{}, fmt.Errorf("fetch identity: %w", err)
	}
	return session.Identity{Login: res.Login, AvatarURL: res.AvatarURL}, nil
}

func (c *GitHub) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &payload)
		message := payload.Message
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return &apiError{status: resp.StatusCode, message: message}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func wrap(kind Kind, err error) *Error {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return &Error{Kind: kind, Status: apiErr.status, Message: apiErr.message, Err: err}
	}
	return opError(kind, 0, "", err)
}

func requireSHA(kind Kind, sha string) (string, error) {
	if sha == "" {
		return "", &Error{Kind: kind, Message: "response missing sha"}
	}
	return sha, nil
}

func repoPath(repo Repo, suffix string) string {
	return fmt.Sprintf("/repos/%s/%s/%s", url.PathEscape(repo.Owner), url.PathEscape(repo.Name), suffix)
}

func escapePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func decodeContent(encoded, encoding string) ([]byte, error) {
	switch encoding {
	case "", "base64":
		cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(encoded)
		return base64.StdEncoding.DecodeString(cleaned)
	case "utf-8":
		return []byte(encoded), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}
