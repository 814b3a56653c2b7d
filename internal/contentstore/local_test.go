package contentstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pecademic/api/internal/session"
)

func seedLocal(t *testing.T) (*Local, Repo) {
	t.Helper()
	store := NewLocal(t.TempDir(), "http://localhost:8080/repos")
	upstream := Repo{Owner: "Robotics-Society-PEC", Name: "Studies"}
	err := store.Seed(upstream, "main", map[string][]byte{
		"src/data/papers.json": []byte("[]\n"),
		"README.md":            []byte("# Studies\n"),
	}, "Initial import")
	require.NoError(t, err)
	return store, upstream
}

func TestLocalSubmissionRoundTrip(t *testing.T) {
	store, upstream := seedLocal(t)
	ctx := context.Background()
	cred := session.Credential{Token: "tok", Identity: session.Identity{Login: "alice"}}

	fork, err := store.ForkRepository(ctx, upstream, cred)
	require.NoError(t, err)
	assert.Equal(t, Repo{Owner: "alice", Name: "Studies"}, fork)

	again, err := store.ForkRepository(ctx, upstream, cred)
	require.NoError(t, err)
	assert.Equal(t, fork, again)

	catalogFile, err := store.ReadFile(ctx, fork, "src/data/papers.json", cred)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(catalogFile.Content))

	pdf, err := store.CreateBlob(ctx, fork, []byte("%PDF-1.4"), cred)
	require.NoError(t, err)
	catalogBlob, err := store.CreateBlob(ctx, fork, []byte(`[{"name":"X"}]`), cred)
	require.NoError(t, err)

	parent, err := store.GetLatestCommit(ctx, fork, "main", cred)
	require.NoError(t, err)

	tree, err := store.CreateTree(ctx, fork, parent, []TreeEntry{
		{Path: "src/data/papers.json", Mode: ModeFile, Type: TypeBlob, SHA: catalogBlob},
		{Path: "Papers/Math/2023/End-Term.pdf", Mode: ModeFile, Type: TypeBlob, SHA: pdf},
	}, cred)
	require.NoError(t, err)

	commit, err := store.CreateCommit(ctx, fork, "Add paper", tree, []string{parent}, cred)
	require.NoError(t, err)
	require.NoError(t, store.UpdateRef(ctx, fork, "main", commit, cred))

	latest, err := store.GetLatestCommit(ctx, fork, "main", cred)
	require.NoError(t, err)
	assert.Equal(t, commit, latest)

	updated, err := store.ReadFile(ctx, fork, "src/data/papers.json", cred)
	require.NoError(t, err)
	assert.Equal(t, `[{"name":"X"}]`, string(updated.Content))

	paper, err := store.ReadFile(ctx, fork, "Papers/Math/2023/End-Term.pdf", cred)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(paper.Content))

	readme, err := store.ReadFile(ctx, fork, "README.md", cred)
	require.NoError(t, err, "untouched files survive the base tree")
	assert.Equal(t, "# Studies\n", string(readme.Content))

	upstreamCatalog, err := store.ReadFile(ctx, upstream, "src/data/papers.json", cred)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(upstreamCatalog.Content), "upstream is untouched until merge")

	pr, err := store.OpenPullRequest(ctx, upstream, PullRequestInput{
		HeadOwner: "alice", HeadBranch: "main", BaseBranch: "main", Title: "Add paper", Body: "body",
	}, cred)
	require.NoError(t, err)
	assert.Equal(t, 1, pr.Number)
	assert.Equal(t, "http://localhost:8080/repos/Robotics-Society-PEC/Studies/pull/1", pr.URL)

	ledger, err := store.PullRequests(upstream)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, "alice:main", ledger[0].Head)
	assert.Equal(t, commit, ledger[0].Commit)
}

func TestLocalReadFileNotFound(t *testing.T) {
	store, upstream := seedLocal(t)
	_, err := store.ReadFile(context.Background(), upstream, "src/data/missing.json", session.Credential{})
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = store.ReadFile(context.Background(), Repo{Owner: "nobody", Name: "none"}, "x", session.Credential{})
	assert.Equal(t, KindFetch, KindOf(err))
}

func TestLocalUpdateRefRejectsNonFastForward(t *testing.T) {
	store, upstream := seedLocal(t)
	ctx := context.Background()
	cred := session.Credential{Identity: session.Identity{Login: "bob"}}

	fork, err := store.ForkRepository(ctx, upstream, cred)
	require.NoError(t, err)
	parent, err := store.GetLatestCommit(ctx, fork, "main", cred)
	require.NoError(t, err)
	blob, err := store.CreateBlob(ctx, fork, []byte("x"), cred)
	require.NoError(t, err)
	tree, err := store.CreateTree(ctx, fork, parent, []TreeEntry{{Path: "x.txt", Mode: ModeFile, Type: TypeBlob, SHA: blob}}, cred)
	require.NoError(t, err)

	orphan, err := store.CreateCommit(ctx, fork, "orphan", tree, nil, cred)
	require.NoError(t, err)

	err = store.UpdateRef(ctx, fork, "main", orphan, cred)
	require.Error(t, err)
	assert.Equal(t, KindRefUpdate, KindOf(err))
	assert.Contains(t, err.Error(), "not a fast forward")
}

func TestLocalCreateTreeRejectsUnknownBlob(t *testing.T) {
	store, upstream := seedLocal(t)
	ctx := context.Background()
	parent, err := store.GetLatestCommit(ctx, upstream, "main", session.Credential{})
	require.NoError(t, err)

	_, err = store.CreateTree(ctx, upstream, parent, []TreeEntry{
		{Path: "a.txt", Mode: ModeFile, Type: TypeBlob, SHA: "0123456789012345678901234567890123456789"},
	}, session.Credential{})
	assert.Equal(t, KindTree, KindOf(err))
}

func TestLocalForkRequiresCredential(t *testing.T) {
	store, upstream := seedLocal(t)
	_, err := store.ForkRepository(context.Background(), upstream, session.Credential{})
	assert.Equal(t, KindUnauthenticated, KindOf(err))
}

func TestLocalCancelledContextMapsToTimeout(t *testing.T) {
	store, upstream := seedLocal(t)
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	_, err := store.CreateBlob(ctx, upstream, []byte("x"), session.Credential{})
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestLocalFetchIdentity(t *testing.T) {
	store := NewLocal(t.TempDir(), "")
	identity, err := store.FetchIdentity(context.Background(), " alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Login)

	_, err = store.FetchIdentity(context.Background(), "")
	assert.Error(t, err)
}
