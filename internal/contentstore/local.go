package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"pecademic/api/internal/session"
)

const pullLedger = "pulls.json"

// Local is a Client backed by bare repositories on disk, laid out as <root>/<owner>/<name>.git.
// Pull requests are recorded as refs/pull/<n>/head plus a JSON ledger in the upstream repo.
type Local struct {
	root   string
	webURL string

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
	now    func() time.Time
}

// LocalPullRequest is a ledger entry written by OpenPullRequest.
type LocalPullRequest struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Head      string    `json:"head"`
	Base      string    `json:"base"`
	Commit    string    `json:"commit"`
	CreatedAt time.Time `json:"created_at"`
}

func NewLocal(root, webURL string) *Local {
	return &Local{
		root:   root,
		webURL: strings.TrimRight(webURL, "/"),
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// Seed creates repo with a single commit on branch holding files. An existing repo is left alone.
func (l *Local) Seed(repo Repo, branch string, files map[string][]byte, message string) error {
	path, err := l.repoPath(repo)
	if err != nil {
		return err
	}
	lock := l.repoLock(path)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	r, err := git.PlainInit(path, true)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	changes := make(map[string]TreeEntry, len(files))
	for name, content := range files {
		hash, err := writeBlob(r, content)
		if err != nil {
			return err
		}
		changes[strings.Trim(name, "/")] = TreeEntry{Path: name, Mode: ModeFile, Type: TypeBlob, SHA: hash.String()}
	}
	tree, err := writeTree(r, nil, changes)
	if err != nil {
		return err
	}
	commit, err := l.writeCommit(r, repo.Owner, message, tree, nil)
	if err != nil {
		return err
	}
	branchRef := plumbing.NewBranchReferenceName(branch)
	if err := r.Storer.SetReference(plumbing.NewHashReference(branchRef, commit)); err != nil {
		return fmt.Errorf("set %s branch ref: %w", branch, err)
	}
	if err := r.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
		return fmt.Errorf("set HEAD to %s: %w", branch, err)
	}
	return nil
}

// ForkRepository copies upstream into the caller's namespace. An existing fork is returned as is.
func (l *Local) ForkRepository(ctx context.Context, upstream Repo, cred session.Credential) (Repo, error) {
	if err := ctx.Err(); err != nil {
		return Repo{}, opError(KindFork, 0, "", err)
	}
	owner := cred.Identity.Login
	if owner == "" {
		owner = cred.Token
	}
	if owner == "" {
		return Repo{}, &Error{Kind: KindUnauthenticated, Status: http.StatusUnauthorized, Message: "missing credential"}
	}
	fork := Repo{Owner: owner, Name: upstream.Name}
	if fork == upstream {
		return fork, nil
	}

	src, err := l.open(upstream)
	if err != nil {
		return Repo{}, l.missing(KindFork, upstream, err)
	}
	forkPath, err := l.repoPath(fork)
	if err != nil {
		return Repo{}, &Error{Kind: KindFork, Message: err.Error(), Err: err}
	}

	lock := l.repoLock(forkPath)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(forkPath); err == nil {
		return fork, nil
	}
	if err := os.MkdirAll(forkPath, 0o755); err != nil {
		return Repo{}, opError(KindFork, 0, "create fork dir", err)
	}
	dst, err := git.PlainInit(forkPath, true)
	if err != nil {
		return Repo{}, opError(KindFork, 0, "init fork", err)
	}
	if err := copyObjects(src, dst); err != nil {
		return Repo{}, opError(KindFork, 0, "copy objects", err)
	}

	refs, err := src.References()
	if err != nil {
		return Repo{}, opError(KindFork, 0, "list refs", err)
	}
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Name().IsBranch() || ref.Name() == plumbing.HEAD {
			return dst.Storer.SetReference(ref)
		}
		return nil
	})
	if err != nil {
		return Repo{}, opError(KindFork, 0, "copy refs", err)
	}
	return fork, nil
}

// ReadFile reads path at the default branch.
func (l *Local) ReadFile(ctx context.Context, repo Repo, path string, _ session.Credential) (File, error) {
	if err := ctx.Err(); err != nil {
		return File{}, opError(KindFetch, 0, "", err)
	}
	r, err := l.open(repo)
	if err != nil {
		return File{}, l.missing(KindFetch, repo, err)
	}
	head, err := r.Head()
	if err != nil {
		return File{}, opError(KindFetch, 0, "resolve HEAD", err)
	}
	commit, err := r.CommitObject(head.Hash())
	if err != nil {
		return File{}, opError(KindFetch, 0, "load head commit", err)
	}
	file, err := commit.File(strings.Trim(path, "/"))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
			return File{}, &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: "Not Found", Err: err}
		}
		return File{}, opError(KindFetch, 0, "read file", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return File{}, opError(KindFetch, 0, "open blob", err)
	}
	defer reader.Close()
	content, err := io.ReadAll(reader)
	if err != nil {
		return File{}, opError(KindFetch, 0, "read blob", err)
	}
	return File{Content: content, SHA: file.Hash.String()}, nil
}

func (l *Local) CreateBlob(ctx context.Context, repo Repo, content []byte, _ session.Credential) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", opError(KindBlob, 0, "", err)
	}
	r, err := l.open(repo)
	if err != nil {
		return "", l.missing(KindBlob, repo, err)
	}
	hash, err := writeBlob(r, content)
	if err != nil {
		return "", opError(KindBlob, 0, "", err)
	}
	return hash.String(), nil
}

// CreateTree writes entries on top of baseTree. baseTree may name a tree or a commit.
func (l *Local) CreateTree(ctx context.Context, repo Repo, baseTree string, entries []TreeEntry, _ session.Credential) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", opError(KindTree, 0, "", err)
	}
	r, err := l.open(repo)
	if err != nil {
		return "", l.missing(KindTree, repo, err)
	}

	var base *object.Tree
	if baseTree != "" {
		base, err = resolveTree(r, plumbing.NewHash(baseTree))
		if err != nil {
			return "", &Error{Kind: KindTree, Status: http.StatusUnprocessableEntity, Message: "base_tree is not a valid tree or commit", Err: err}
		}
	}

	changes := make(map[string]TreeEntry, len(entries))
	for _, entry := range entries {
		path := strings.Trim(entry.Path, "/")
		if path == "" || strings.Contains(path, "//") {
			return "", &Error{Kind: KindTree, Status: http.StatusUnprocessableEntity, Message: fmt.Sprintf("invalid tree path %q", entry.Path)}
		}
		if _, err := r.Storer.EncodedObject(plumbing.BlobObject, plumbing.NewHash(entry.SHA)); err != nil {
			return "", &Error{Kind: KindTree, Status: http.StatusUnprocessableEntity, Message: fmt.Sprintf("unknown blob %s", entry.SHA), Err: err}
		}
		changes[path] = entry
	}

	hash, err := writeTree(r, base, changes)
	if err != nil {
		return "", opError(KindTree, 0, "", err)
	}
	return hash.String(), nil
}

func (l *Local) GetLatestCommit(ctx context.Context, repo Repo, branch string, _ session.Credential) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", opError(KindCommitLookup, 0, "", err)
	}
	r, err := l.open(repo)
	if err != nil {
		return "", l.missing(KindCommitLookup, repo, err)
	}
	ref, err := r.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return "", &Error{Kind: KindCommitLookup, Status: http.StatusNotFound, Message: fmt.Sprintf("no branch %s", branch), Err: err}
	}
	return ref.Hash().String(), nil
}

func (l *Local) CreateCommit(ctx context.Context, repo Repo, message, tree string, parents []string, cred session.Credential) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", opError(KindCommit, 0, "", err)
	}
	r, err := l.open(repo)
	if err != nil {
		return "", l.missing(KindCommit, repo, err)
	}
	treeHash := plumbing.NewHash(tree)
	if _, err := object.GetTree(r.Storer, treeHash); err != nil {
		return "", &Error{Kind: KindCommit, Status: http.StatusUnprocessableEntity, Message: fmt.Sprintf("unknown tree %s", tree), Err: err}
	}
	parentHashes := make([]plumbing.Hash, 0, len(parents))
	for _, parent := range parents {
		hash := plumbing.NewHash(parent)
		if _, err := r.CommitObject(hash); err != nil {
			return "", &Error{Kind: KindCommit, Status: http.StatusUnprocessableEntity, Message: fmt.Sprintf("unknown parent %s", parent), Err: err}
		}
		parentHashes = append(parentHashes, hash)
	}

	author := cred.Identity.Login
	if author == "" {
		author = repo.Owner
	}
	hash, err := l.writeCommit(r, author, message, treeHash, parentHashes)
	if err != nil {
		return "", opError(KindCommit, 0, "", err)
	}
	return hash.String(), nil
}

// UpdateRef moves branch to commit. Like the hosted API without force, only fast-forwards are accepted.
func (l *Local) UpdateRef(ctx context.Context, repo Repo, branch, commit string, _ session.Credential) error {
	if err := ctx.Err(); err != nil {
		return opError(KindRefUpdate, 0, "", err)
	}
	path, err := l.repoPath(repo)
	if err != nil {
		return &Error{Kind: KindRefUpdate, Message: err.Error(), Err: err}
	}
	lock := l.repoLock(path)
	lock.Lock()
	defer lock.Unlock()

	r, err := l.open(repo)
	if err != nil {
		return l.missing(KindRefUpdate, repo, err)
	}
	next, err := r.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return &Error{Kind: KindRefUpdate, Status: http.StatusUnprocessableEntity, Message: "Object does not exist", Err: err}
	}
	refName := plumbing.NewBranchReferenceName(branch)
	current, err := r.Reference(refName, true)
	if err != nil {
		return &Error{Kind: KindRefUpdate, Status: http.StatusUnprocessableEntity, Message: "Reference does not exist", Err: err}
	}
	if current.Hash() != next.Hash {
		prev, err := r.CommitObject(current.Hash())
		if err != nil {
			return opError(KindRefUpdate, 0, "load current commit", err)
		}
		ok, err := prev.IsAncestor(next)
		if err != nil {
			return opError(KindRefUpdate, 0, "check ancestry", err)
		}
		if !ok {
			return &Error{Kind: KindRefUpdate, Status: http.StatusUnprocessableEntity, Message: "Update is not a fast forward"}
		}
	}
	if err := r.Storer.SetReference(plumbing.NewHashReference(refName, next.Hash)); err != nil {
		return opError(KindRefUpdate, 0, "write ref", err)
	}
	return nil
}

// OpenPullRequest copies the head branch's objects into upstream and records the request.
func (l *Local) OpenPullRequest(ctx context.Context, upstream Repo, input PullRequestInput, _ session.Credential) (PullRequest, error) {
	if err := ctx.Err(); err != nil {
		return PullRequest{}, opError(KindPullRequest, 0, "", err)
	}
	upstreamPath, err := l.repoPath(upstream)
	if err != nil {
		return PullRequest{}, &Error{Kind: KindPullRequest, Message: err.Error(), Err: err}
	}
	lock := l.repoLock(upstreamPath)
	lock.Lock()
	defer lock.Unlock()

	dst, err := l.open(upstream)
	if err != nil {
		return PullRequest{}, l.missing(KindPullRequest, upstream, err)
	}
	if _, err := dst.Reference(plumbing.NewBranchReferenceName(input.BaseBranch), true); err != nil {
		return PullRequest{}, &Error{Kind: KindPullRequest, Status: http.StatusUnprocessableEntity, Message: "Validation Failed: base", Err: err}
	}
	head := Repo{Owner: input.HeadOwner, Name: upstream.Name}
	src, err := l.open(head)
	if err != nil {
		return PullRequest{}, &Error{Kind: KindPullRequest, Status: http.StatusUnprocessableEntity, Message: "Validation Failed: head", Err: err}
	}
	headRef, err := src.Reference(plumbing.NewBranchReferenceName(input.HeadBranch), true)
	if err != nil {
		return PullRequest{}, &Error{Kind: KindPullRequest, Status: http.StatusUnprocessableEntity, Message: "Validation Failed: head", Err: err}
	}
	if head != upstream {
		if err := copyObjects(src, dst); err != nil {
			return PullRequest{}, opError(KindPullRequest, 0, "copy objects", err)
		}
	}

	ledger, err := readLedger(upstreamPath)
	if err != nil {
		return PullRequest{}, opError(KindPullRequest, 0, "read ledger", err)
	}
	pr := LocalPullRequest{
		Number:    len(ledger) + 1,
		Title:     input.Title,
		Body:      input.Body,
		Head:      input.HeadOwner + ":" + input.HeadBranch,
		Base:      input.BaseBranch,
		Commit:    headRef.Hash().String(),
		CreatedAt: l.now().UTC(),
	}
	pullRef := plumbing.ReferenceName(fmt.Sprintf("refs/pull/%d/head", pr.Number))
	if err := dst.Storer.SetReference(plumbing.NewHashReference(pullRef, headRef.Hash())); err != nil {
		return PullRequest{}, opError(KindPullRequest, 0, "write pull ref", err)
	}
	if err := writeLedger(upstreamPath, append(ledger, pr)); err != nil {
		return PullRequest{}, opError(KindPullRequest, 0, "write ledger", err)
	}
	return PullRequest{Number: pr.Number, URL: l.pullURL(upstream, upstreamPath, pr.Number)}, nil
}

// PullRequests lists the ledger of upstream.
func (l *Local) PullRequests(upstream Repo) ([]LocalPullRequest, error) {
	path, err := l.repoPath(upstream)
	if err != nil {
		return nil, err
	}
	lock := l.repoLock(path)
	lock.Lock()
	defer lock.Unlock()
	return readLedger(path)
}

// FetchIdentity treats the token as the login. Only meant for local development.
func (l *Local) FetchIdentity(_ context.Context, token string) (session.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return session.Identity{}, errors.New("empty token")
	}
	return session.Identity{Login: token}, nil
}

func (l *Local) pullURL(upstream Repo, path string, number int) string {
	if l.webURL == "" {
		return fmt.Sprintf("file://%s#pull-%d", path, number)
	}
	return fmt.Sprintf("%s/%s/%s/pull/%d", l.webURL, upstream.Owner, upstream.Name, number)
}

func (l *Local) repoPath(repo Repo) (string, error) {
	for _, segment := range []string{repo.Owner, repo.Name} {
		if segment == "" || segment == "." || segment == ".." || strings.ContainsAny(segment, `/\`) {
			return "", fmt.Errorf("invalid repository %q", repo.String())
		}
	}
	return filepath.Join(l.root, repo.Owner, repo.Name+".git"), nil
}

func (l *Local) open(repo Repo) (*git.Repository, error) {
	path, err := l.repoPath(repo)
	if err != nil {
		return nil, err
	}
	return git.PlainOpen(path)
}

func (l *Local) missing(kind Kind, repo Repo, err error) *Error {
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return &Error{Kind: kind, Status: http.StatusNotFound, Message: fmt.Sprintf("repository %s not found", repo), Err: err}
	}
	return opError(kind, 0, "open repository", err)
}

func (l *Local) repoLock(path string) *sync.Mutex {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	if lock, ok := l.locks[path]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	l.locks[path] = lock
	return lock
}

func (l *Local) writeCommit(r *git.Repository, author, message string, tree plumbing.Hash, parents []plumbing.Hash) (plumbing.Hash, error) {
	signature := object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@users.noreply.local", sanitizeEmail(author)),
		When:  l.now(),
	}
	commit := &object.Commit{
		Author:       signature,
		Committer:    signature,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := r.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode commit: %w", err)
	}
	hash, err := r.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store commit: %w", err)
	}
	return hash, nil
}

func writeBlob(r *git.Repository, content []byte) (plumbing.Hash, error) {
	obj := r.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(content)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open blob writer: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("close blob: %w", err)
	}
	hash, err := r.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store blob: %w", err)
	}
	return hash, nil
}

// writeTree applies changes (keyed by slash-separated path) on top of base and stores the
// resulting trees bottom-up.
func writeTree(r *git.Repository, base *object.Tree, changes map[string]TreeEntry) (plumbing.Hash, error) {
	entries := make(map[string]object.TreeEntry)
	if base != nil {
		for _, entry := range base.Entries {
			entries[entry.Name] = entry
		}
	}

	nested := make(map[string]map[string]TreeEntry)
	for path, change := range changes {
		dir, rest, deep := strings.Cut(path, "/")
		if !deep {
			mode, err := filemode.New(change.Mode)
			if err != nil {
				return plumbing.ZeroHash, fmt.Errorf("mode for %s: %w", path, err)
			}
			entries[dir] = object.TreeEntry{Name: dir, Mode: mode, Hash: plumbing.NewHash(change.SHA)}
			continue
		}
		if nested[dir] == nil {
			nested[dir] = make(map[string]TreeEntry)
		}
		nested[dir][rest] = change
	}

	for dir, sub := range nested {
		var subBase *object.Tree
		if existing, ok := entries[dir]; ok && existing.Mode == filemode.Dir {
			tree, err := object.GetTree(r.Storer, existing.Hash)
			if err != nil {
				return plumbing.ZeroHash, fmt.Errorf("load subtree %s: %w", dir, err)
			}
			subBase = tree
		}
		hash, err := writeTree(r, subBase, sub)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries[dir] = object.TreeEntry{Name: dir, Mode: filemode.Dir, Hash: hash}
	}

	list := make([]object.TreeEntry, 0, len(entries))
	for _, entry := range entries {
		list = append(list, entry)
	}
	sort.Slice(list, func(i, j int) bool {
		return treeSortKey(list[i]) < treeSortKey(list[j])
	})

	tree := &object.Tree{Entries: list}
	obj := r.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
	}
	hash, err := r.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store tree: %w", err)
	}
	return hash, nil
}

// Git orders directories as if their name ended in "/".
func treeSortKey(entry object.TreeEntry) string {
	if entry.Mode == filemode.Dir {
		return entry.Name + "/"
	}
	return entry.Name
}

func resolveTree(r *git.Repository, hash plumbing.Hash) (*object.Tree, error) {
	if commit, err := r.CommitObject(hash); err == nil {
		return commit.Tree()
	}
	return object.GetTree(r.Storer, hash)
}

func copyObjects(src, dst *git.Repository) error {
	iter, err := src.Storer.IterEncodedObjects(plumbing.AnyObject)
	if err != nil {
		return err
	}
	return iter.ForEach(func(obj plumbing.EncodedObject) error {
		if _, err := dst.Storer.EncodedObject(obj.Type(), obj.Hash()); err == nil {
			return nil
		}
		_, err := dst.Storer.SetEncodedObject(obj)
		return err
	})
}

func readLedger(repoPath string) ([]LocalPullRequest, error) {
	data, err := os.ReadFile(filepath.Join(repoPath, pullLedger))
	if errors.Is(err, os.ErrNotExist) {
		return []LocalPullRequest{}, nil
	}
	if err != nil {
		return nil, err
	}
	var ledger []LocalPullRequest
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("decode %s: %w", pullLedger, err)
	}
	return ledger, nil
}

func writeLedger(repoPath string, ledger []LocalPullRequest) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(ledger); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(repoPath, pullLedger), buf.Bytes(), 0o644)
}

func sanitizeEmail(input string) string {
	if input == "" {
		return "unknown"
	}
	out := make([]rune, 0, len(input))
	for _, r := range strings.ToLower(input) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}
