package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pecademic/api/internal/auth"
	"pecademic/api/internal/contentstore"
	"pecademic/api/internal/search"
	"pecademic/api/internal/session"
	"pecademic/api/internal/submission"
)

const (
	defaultStateTTL = 10 * time.Minute
	// multipartOverhead covers the form fields and boundaries around the uploaded file.
	multipartOverhead = 1 << 20
)

// Exchanger turns an OAuth callback code into a bearer token.
type Exchanger interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (string, error)
}

type HTTPConfig struct {
	AppURL              string
	CORSOrigin          string
	StateSecret         []byte
	StateTTL            time.Duration
	MaxUploadBytes      int64
	SubmitRatePerMinute int
	// Gatherer backs /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer
}

type HTTPServer struct {
	service   *Service
	exchanger Exchanger
	cfg       HTTPConfig
	limiter   *rateLimiter
	logger    *zap.Logger
}

func NewHTTPServer(service *Service, exchanger Exchanger, cfg HTTPConfig, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = defaultStateTTL
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = submission.DefaultMaxFileBytes
	}
	return &HTTPServer{
		service:   service,
		exchanger: exchanger,
		cfg:       cfg,
		limiter:   newRateLimiter(cfg.SubmitRatePerMinute),
		logger:    logger,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(s.requestLogger)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.GetHead)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(s.cfg.CORSOrigin),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	if s.cfg.Gatherer != nil {
		router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/auth/login", s.handleLogin)
		r.Get("/auth/callback", s.handleCallback)
		r.Get("/session", s.handleSession)
		r.Delete("/session", s.handleLogout)
		r.Get("/catalog", s.handleCatalog)
		r.With(s.limiter.middleware).Post("/submissions", s.handleSubmit)
		r.Get("/submissions", s.handleHistory)
	})

	return router
}

// Close stops background work owned by the transport.
func (s *HTTPServer) Close() {
	s.limiter.stop()
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ready(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := auth.IssueState(s.cfg.StateSecret, s.cfg.StateTTL)
	if err != nil {
		s.logger.Error("issue oauth state", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
		return
	}
	http.Redirect(w, r, s.exchanger.AuthorizeURL(state), http.StatusFound)
}

// handleCallback keeps the plain {"error": ...} bodies the web client already understands.
func (s *HTTPServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "No code received from GitHub"})
		return
	}
	if err := auth.VerifyState(s.cfg.StateSecret, query.Get("state")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid or expired state", "details": err.Error()})
		return
	}

	token, err := s.exchanger.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Warn("oauth exchange failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Error exchanging code for token",
			"details": err.Error(),
		})
		return
	}

	if _, err := s.service.Session(r.Context(), token); err != nil {
		s.logger.Warn("session restore after exchange failed", zap.Error(err))
	}

	target := s.cfg.AppURL + "#access_token=" + url.QueryEscape(token)
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "login": nil})
		return
	}
	cred, err := s.service.Session(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "login": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"login":         cred.Identity.Login,
		"avatar":        cred.Identity.AvatarURL,
		"expiresAt":     cred.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, string(contentstore.KindUnauthenticated), "Unauthorized", nil)
		return
	}
	if err := s.service.Logout(r.Context(), token); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleCatalog(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := search.Query{Text: strings.TrimSpace(query.Get("q"))}
	if raw := strings.TrimSpace(query.Get("year")); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil || year <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "year must be a positive number", nil)
			return
		}
		q.Year = year
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a positive number", nil)
			return
		}
		q.Limit = limit
	}

	page, err := s.service.SearchCatalog(r.Context(), q)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"courses": page.Courses,
		"total":   len(page.Courses),
		"backend": page.Backend,
	})
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	cred, ok := s.requireCredential(w, r)
	if !ok {
		return
	}

	limit := s.cfg.MaxUploadBytes + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || r.ContentLength > limit {
			writeError(w, http.StatusRequestEntityTooLarge, string(contentstore.KindValidation), "file is too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, string(contentstore.KindValidation), "expected a multipart form", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	sub := submission.Submission{
		CourseName: r.FormValue("courseName"),
		CourseCode: r.FormValue("courseCode"),
		Label:      r.FormValue("label"),
	}
	if raw := strings.TrimSpace(r.FormValue("year")); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(contentstore.KindValidation), "year must be a number", nil)
			return
		}
		sub.Year = year
	}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		writeError(w, http.StatusBadRequest, string(contentstore.KindValidation), "could not read the uploaded file", nil)
		return
	default:
		defer file.Close()
		content, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(contentstore.KindValidation), "could not read the uploaded file", nil)
			return
		}
		sub.File = content
		sub.ContentType = header.Header.Get("Content-Type")
	}

	// A started sequence runs to completion even if the client goes away; STEP_TIMEOUT bounds each call.
	result, err := s.service.Submit(context.WithoutCancel(r.Context()), cred, sub)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"submissionId":      result.SubmissionID,
		"pullRequestUrl":    result.PullRequestURL,
		"pullRequestNumber": result.PullRequestNumber,
		"fork":              result.Fork.String(),
		"commit":            result.Commit,
		"paperPath":         result.PaperPath,
		"courseCreated":     result.CourseCreated,
	})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	cred, ok := s.requireCredential(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	attempts, err := s.service.History(r.Context(), cred.Identity.Login, limit)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (s *HTTPServer) requireCredential(w http.ResponseWriter, r *http.Request) (session.Credential, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, string(contentstore.KindUnauthenticated), "Sign in to submit a paper", nil)
		return session.Credential{}, false
	}
	cred, err := s.service.Session(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, string(contentstore.KindUnauthenticated), "Unauthorized", nil)
		return session.Credential{}, false
	}
	return cred, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())
		writer := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		s.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.Status()),
			zap.Int("bytes", writer.BytesWritten()),
			zap.Duration("duration", time.Since(started)),
		)
	})
}

func corsOrigins(value string) []string {
	origins := make([]string, 0)
	for _, origin := range strings.Split(value, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
