package contentstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pecademic/api/internal/session"
)

var testCred = session.Credential{Token: "tok"}

func newTestGitHub(t *testing.T, handler http.HandlerFunc) *GitHub {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGitHub(srv.URL, srv.Client())
}

func TestGitHubForkRepository(t *testing.T) {
	client := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/Robotics-Society-PEC/Studies/forks", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"name":"Studies","owner":{"login":"alice"}}`))
	})

	fork, err := client.ForkRepository(context.Background(), Repo{Owner: "Robotics-Society-PEC", Name: "Studies"}, testCred)
	require.NoError(t, err)
	assert.Equal(t, Repo{Owner: "alice", Name: "Studies"}, fork)
}

func TestGitHubReadFileDecodesBase64(t *testing.T) {
	body := []byte(`[{"name":"X","course_code":"A"}]`)
	encoded := base64.StdEncoding.EncodeToString(body)
	// GitHub wraps base64 content at 60 columns.
	wrapped := encoded[:10] + "\n" + encoded[10:]

	client := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/alice/Studies/contents/src/data/papers.json", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type": "file", "encoding": "base64", "content": wrapped, "sha": "abc", "size": len(body),
		})
	})

	file, err := client.ReadFile(context.Background(), Repo{Owner: "alice", Name: "Studies"}, "src/data/papers.json", testCred)
	require.NoError(t, err)
	assert.Equal(t, body, file.Content)
	assert.Equal(t, "abc", file.SHA)
}

func TestGitHubReadFileFallsBackToBlobForLargeFiles(t *testing.T) {
	body := []byte(`[]`)
	client := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/alice/Studies/contents/src/data/papers.json":
			_, _ = w.Write([]byte(`{"type":"file","encoding":"none","content":"","sha":"big","size":2000000}`))
		case "/repos/alice/Studies/git/blobs/big":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"content": base64.StdEncoding.EncodeToString(body), "encoding": "base64",
			})
		default:
			http.NotFound(w, r)
		}
	})

	file, err := client.ReadFile(context.Background(), Repo{Owner: "alice", Name: "Studies"}, "src/data/papers.json", testCred)
	require.NoError(t, err)
	assert.Equal(t, body, file.Content)
}

func TestGitHubReadFileNotFound(t *testing.T) {
	client := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	})

	_, err := client.ReadFile(context.Background(), Repo{Owner: "alice", Name: "Studies"}, "missing.json", testCred)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))

	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, http.StatusNotFound, storeErr.Status)
	assert.Equal(t, "Not Found", storeErr.Message)
}

func TestGitHubWriteOperations(t *testing.T) {
	var gotTree, gotCommit, gotRef, gotPull map[string]any
	client := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		switch r.Method + " " + r.URL.Path {
		case "POST /repos/alice/Studies/git/blobs":
			assert.Equal(t, "base64", payload["encoding"])
			assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF")), payload["content"])
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"sha":"blob1"}`))
		case "GET /repos/alice/Studies/commits/main":
			_, _ = w.Write([]byte(`{"sha":"parent1"}`))
		case "POST /repos/alice/Studies/git/trees":
			gotTree = payload
			_, _ = w.Write([]byte(`{"sha":"tree1"}`))
		case "POST /repos/alice/Studies/git/commits":
			gotCommit = payload
			_, _ = w.Write([]byte(`{"sha":"commit1"}`))
		case "PATCH /repos/alice/Studies/git/refs/heads/main":
			gotRef = payload
			_, _ = w.Write([]byte(`{"ref":"refs/heads/main"}`))
		case "POST /repos/Robotics-Society-PEC/Studies/pulls":
			gotPull = payload
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"number":7,"html_url":"https://github.com/Robotics-Society-PEC/Studies/pull/7"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	})

	ctx := context.Background()
	fork := Repo{Owner: "alice", Name: "Studies"}

	blob, err := client.CreateBlob(ctx, fork, []byte("%PDF"), testCred)
	require.NoError(t, err)
	assert.Equal(t, "blob1", blob)

	parent, err := client.GetLatestCommit(ctx, fork, "main", testCred)
	require.NoError(t, err)
	assert.Equal(t, "parent1", parent)

	tree, err := client.CreateTree(ctx, fork, parent, []TreeEntry{
		{Path: "Papers/X/2023/End-Term.pdf", Mode: ModeFile, Type: TypeBlob, SHA: blob},
	}, testCred)
	require.NoError(t, err)
	assert.Equal(t, "tree1", tree)
	assert.Equal(t, "parent1", gotTree["base_tree"])
	entries := gotTree["tree"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "100644", entries[0].(map[string]any)["mode"])

	commit, err := client.CreateCommit(ctx, fork, "msg", tree, []string{parent}, testCred)
	require.NoError(t, err)
	assert.Equal(t, "commit1", commit)
	assert.Equal(t, []any{"parent1"}, gotCommit["parents"])

	require.NoError(t, client.UpdateRef(ctx, fork, "main", commit, testCred))
	assert.Equal(t, "commit1", gotRef["sha"])

	pr, err := client.OpenPullRequest(ctx, Repo{Owner: "Robotics-Society-PEC", Name: "Studies"}, PullRequestInput{
		HeadOwner: "alice", HeadBranch: "main", BaseBranch: "main", Title: "t", Body: "b",
	}, testCred)
	require.NoError(t, err)
	assert.Equal(t, 7, pr.Number)
	assert.Equal(t, "https://github.com/Robotics-Society-PEC/Studies/pull/7", pr.URL)
	assert.Equal(t, "alice:main", gotPull["head"])
	assert.Equal(t, "main", gotPull["base"])
}

func TestGitHubMapsRemoteFailuresToKinds(t *testing.T) {
	client := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Update is not a fast forward"}`))
	})

	err := client.UpdateRef(context.Background(), Repo{Owner: "alice", Name: "Studies"}, "main", "c", testCred)
	require.Error(t, err)
	assert.Equal(t, KindRefUpdate, KindOf(err))
	assert.Contains(t, err.Error(), "Update is not a fast forward")

	_, err = client.OpenPullRequest(context.Background(), Repo{Owner: "o", Name: "r"}, PullRequestInput{}, testCred)
	assert.Equal(t, KindPullRequest, KindOf(err))
}

func TestGitHubDeadlineMapsToTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.CreateBlob(ctx, Repo{Owner: "alice", Name: "Studies"}, []byte("x"), testCred)
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestGitHubFetchIdentity(t *testing.T) {
	client := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
			return
		}
		_, _ = w.Write([]byte(`{"login":"alice","avatar_url":"https://avatars/alice"}`))
	})

	identity, err := client.FetchIdentity(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, session.Identity{Login: "alice", AvatarURL: "https://avatars/alice"}, identity)

	_, err = client.FetchIdentity(context.Background(), "bad")
	assert.Error(t, err)
}

func TestParseRepo(t *testing.T) {
	repo, err := ParseRepo("Robotics-Society-PEC/Studies")
	require.NoError(t, err)
	assert.Equal(t, "Robotics-Society-PEC/Studies", repo.String())

	for _, bad := range []string{"", "noslash", "/x", "x/", "a/b/c"} {
		_, err := ParseRepo(bad)
		assert.Error(t, err, bad)
	}
}
