package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pecademic/api/internal/contentstore"
	"pecademic/api/internal/session"
	"pecademic/api/internal/store"
	"pecademic/api/internal/submission"
)

var testSecret = []byte("test-state-secret")

const seedCatalog = `[
  {"name": "Data Structures", "course_code": "CS201", "resources": {"pyqs": [{"year": 2022, "file": "Mid-Term"}]}},
  {"name": "Operating Systems", "course_code": "CS305", "resources": {"pyqs": [{"year": 2023, "file": "End-Term"}]}}
]
`

type fakeExchanger struct {
	token string
	err   error
	codes []string
}

func (f *fakeExchanger) AuthorizeURL(state string) string {
	return "https://github.example/login/oauth/authorize?state=" + state
}

func (f *fakeExchanger) Exchange(_ context.Context, code string) (string, error) {
	f.codes = append(f.codes, code)
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type testEnv struct {
	local     *contentstore.Local
	upstream  contentstore.Repo
	journal   *store.MemoryJournal
	registry  *prometheus.Registry
	service   *Service
	exchanger *fakeExchanger
	server    *HTTPServer
	handler   http.Handler
}

type envOption func(*ServiceConfig, *HTTPConfig, *Deps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	local := contentstore.NewLocal(t.TempDir(), "http://repos.test")
	upstream := contentstore.Repo{Owner: "Robotics-Society-PEC", Name: "Studies"}
	require.NoError(t, local.Seed(upstream, "main", map[string][]byte{
		"src/data/papers.json": []byte(seedCatalog),
		"README.md":            []byte("# Studies\n"),
	}, "Initial import"))

	journal := store.NewMemoryJournal()
	registry := prometheus.NewRegistry()
	orchestrator := submission.New(local, submission.Config{Upstream: upstream}, zap.NewNop(),
		submission.WithJournal(journal),
		submission.WithMetrics(submission.NewMetrics(registry)),
	)
	sessions := session.NewManager(session.NewMemoryStore(), local, 0, zap.NewNop())

	svcCfg := ServiceConfig{Upstream: upstream}
	httpCfg := HTTPConfig{
		AppURL:      "http://localhost:3000",
		CORSOrigin:  "*",
		StateSecret: testSecret,
		Gatherer:    registry,
	}
	deps := Deps{
		Client:       local,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		History:      journal,
		Logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&svcCfg, &httpCfg, &deps)
	}

	service, err := NewService(svcCfg, deps)
	require.NoError(t, err)
	exchanger := &fakeExchanger{token: "alice"}
	server := NewHTTPServer(service, exchanger, httpCfg, zap.NewNop())
	t.Cleanup(server.Close)

	return &testEnv{
		local:     local,
		upstream:  upstream,
		journal:   journal,
		registry:  registry,
		service:   service,
		exchanger: exchanger,
		server:    server,
		handler:   server.Handler(),
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

type formFields map[string]string

func submissionRequest(t *testing.T, token string, fields formFields, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	if file != nil {
		part, err := writer.CreateFormFile("file", "paper.pdf")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/submissions", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func samplePDF() []byte {
	return []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")
}

var errCheckFailed = errors.New("connection refused")
