package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pecademic/api/internal/auth"
	"pecademic/api/internal/contentstore"
	"pecademic/api/internal/session"
	"pecademic/api/internal/submission"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeJSON(t, rr)["ok"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}

func TestReadyEndpoint(t *testing.T) {
	healthy := newTestEnv(t, func(_ *ServiceConfig, _ *HTTPConfig, d *Deps) {
		d.Checks = map[string]Check{"database": func(context.Context) error { return nil }}
	})
	rr := healthy.do(httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeJSON(t, rr)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, map[string]any{"status": "ok"}, body["checks"].(map[string]any)["database"])

	failing := newTestEnv(t, func(_ *ServiceConfig, _ *HTTPConfig, d *Deps) {
		d.Checks = map[string]Check{
			"database": func(context.Context) error { return errCheckFailed },
			"redis":    func(context.Context) error { return nil },
		}
	})
	rr = failing.do(httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body = decodeJSON(t, rr)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "not_ready", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, map[string]any{"status": "error", "error": "connection refused"}, checks["database"])
	assert.Equal(t, map[string]any{"status": "ok"}, checks["redis"])
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/submissions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rr := env.do(req)

	assert.Less(t, rr.Code, 300)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", decodeJSON(t, rr)["code"])
}

func TestLoginRedirectCarriesVerifiableState(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/auth/login", nil))

	require.Equal(t, http.StatusFound, rr.Code)
	location, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "github.example", location.Host)
	require.NoError(t, auth.VerifyState(testSecret, location.Query().Get("state")))
}

func TestCallback(t *testing.T) {
	validState, err := auth.IssueState(testSecret, time.Minute)
	require.NoError(t, err)

	t.Run("missing code", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(httptest.NewRequest(http.MethodGet, "/api/auth/callback", nil))
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, map[string]any{"error": "No code received from GitHub"}, decodeJSON(t, rr))
		assert.Empty(t, env.exchanger.codes)
	})

	t.Run("bad state", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=abc&state=forged", nil))
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Empty(t, env.exchanger.codes)
	})

	t.Run("exchange failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.exchanger.err = errors.New("bad_verification_code")
		rr := env.do(httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=abc&state="+validState, nil))
		require.Equal(t, http.StatusInternalServerError, rr.Code)
		body := decodeJSON(t, rr)
		assert.Equal(t, "Error exchanging code for token", body["error"])
		assert.Equal(t, "bad_verification_code", body["details"])
	})

	t.Run("success", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=abc&state="+validState, nil))
		require.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, "http://localhost:3000#access_token=alice", rr.Header().Get("Location"))
		assert.Equal(t, []string{"abc"}, env.exchanger.codes)
	})
}

func TestSessionRestoreAndLogout(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/session", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decodeJSON(t, rr)["authenticated"])

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer alice")
	rr = env.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeJSON(t, rr)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "alice", body["login"])

	req = httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer alice")
	rr = env.do(req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(httptest.NewRequest(http.MethodDelete, "/api/session", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCatalogListAndSearch(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/catalog", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeJSON(t, rr)
	assert.EqualValues(t, 2, body["total"])

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/catalog?q=operating", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body = decodeJSON(t, rr)
	courses := body["courses"].([]any)
	require.Len(t, courses, 1)
	assert.Equal(t, "CS305", courses[0].(map[string]any)["course_code"])
	assert.Equal(t, "memory", body["backend"])

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/catalog?year=2022", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	courses = decodeJSON(t, rr)["courses"].([]any)
	require.Len(t, courses, 1)
	assert.Equal(t, "CS201", courses[0].(map[string]any)["course_code"])

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/catalog?year=soon", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitOpensPullRequestAndJournals(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(submissionRequest(t, "alice", formFields{
		"courseName": "Data Structures",
		"courseCode": "CS201",
		"year":       "2023",
		"label":      "End-Term.pdf",
	}, samplePDF()))

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body := decodeJSON(t, rr)
	assert.Equal(t, "http://repos.test/Robotics-Society-PEC/Studies/pull/1", body["pullRequestUrl"])
	assert.Equal(t, "alice/Studies", body["fork"])
	assert.Equal(t, "Papers/Data Structures/2023/End-Term.pdf", body["paperPath"])
	assert.Equal(t, false, body["courseCreated"])

	pulls, err := env.local.PullRequests(env.upstream)
	require.NoError(t, err)
	require.Len(t, pulls, 1)

	req := httptest.NewRequest(http.MethodGet, "/api/submissions", nil)
	req.Header.Set("Authorization", "Bearer alice")
	rr = env.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	attempts := decodeJSON(t, rr)["attempts"].([]any)
	require.Len(t, attempts, 1)
	assert.Equal(t, "Succeeded", attempts[0].(map[string]any)["state"])

	req = httptest.NewRequest(http.MethodGet, "/api/submissions", nil)
	req.Header.Set("Authorization", "Bearer bob")
	rr = env.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeJSON(t, rr)["attempts"])
}

// cancelAfterFork cancels the request context once the fork exists, as a closed browser tab would.
type cancelAfterFork struct {
	*contentstore.Local
	cancel context.CancelFunc
}

func (c *cancelAfterFork) ForkRepository(ctx context.Context, upstream contentstore.Repo, cred session.Credential) (contentstore.Repo, error) {
	fork, err := c.Local.ForkRepository(ctx, upstream, cred)
	c.cancel()
	return fork, err
}

func TestSubmitSurvivesClientDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(t, func(s *ServiceConfig, _ *HTTPConfig, d *Deps) {
		client := &cancelAfterFork{Local: d.Client.(*contentstore.Local), cancel: cancel}
		d.Orchestrator = submission.New(client, submission.Config{Upstream: s.Upstream}, zap.NewNop())
	})

	req := submissionRequest(t, "alice", formFields{
		"courseName": "Data Structures",
		"courseCode": "CS201",
		"year":       "2023",
	}, samplePDF())
	rr := env.do(req.WithContext(ctx))

	require.Error(t, ctx.Err())
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	pulls, err := env.local.PullRequests(env.upstream)
	require.NoError(t, err)
	assert.Len(t, pulls, 1)
}

func TestSubmitRequiresCredential(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(submissionRequest(t, "", formFields{"courseCode": "CS201"}, samplePDF()))

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Unauthenticated", decodeJSON(t, rr)["code"])
}

func TestSubmitRejectsInvalidInputWithoutTouchingTheStore(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(submissionRequest(t, "alice", formFields{
		"courseName": "Data Structures",
		"courseCode": "CS201",
		"year":       "2023",
	}, []byte("just some text")))

	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	body := decodeJSON(t, rr)
	assert.Equal(t, "ValidationError", body["code"])
	details := body["details"].(map[string]any)
	assert.Empty(t, details["leftovers"])

	pulls, err := env.local.PullRequests(env.upstream)
	require.NoError(t, err)
	assert.Empty(t, pulls)

	rr = env.do(submissionRequest(t, "alice", formFields{"year": "twenty"}, samplePDF()))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitRejectsOversizedUpload(t *testing.T) {
	env := newTestEnv(t, func(_ *ServiceConfig, h *HTTPConfig, _ *Deps) {
		h.MaxUploadBytes = 16
	})

	big := append(samplePDF(), []byte(strings.Repeat("x", multipartOverhead+64))...)
	rr := env.do(submissionRequest(t, "alice", formFields{"courseCode": "CS201"}, big))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestSubmitRateLimited(t *testing.T) {
	env := newTestEnv(t, func(_ *ServiceConfig, h *HTTPConfig, _ *Deps) {
		h.SubmitRatePerMinute = 1
	})

	fields := formFields{"courseName": "Data Structures", "courseCode": "CS201", "year": "2023"}
	first := env.do(submissionRequest(t, "alice", fields, []byte("not a pdf")))
	assert.Equal(t, http.StatusBadRequest, first.Code)

	second := env.do(submissionRequest(t, "alice", fields, samplePDF()))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decodeJSON(t, second)["code"])

	other := env.do(submissionRequest(t, "bob", fields, []byte("not a pdf")))
	assert.Equal(t, http.StatusBadRequest, other.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(submissionRequest(t, "alice", formFields{"courseCode": "CS201"}, []byte("nope")))

	rr := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "pecademic_submissions_total")
}
