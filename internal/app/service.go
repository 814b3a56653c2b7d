package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pecademic/api/internal/catalog"
	"pecademic/api/internal/contentstore"
	"pecademic/api/internal/email"
	"pecademic/api/internal/search"
	"pecademic/api/internal/session"
	"pecademic/api/internal/store"
	"pecademic/api/internal/submission"
)

const defaultCatalogCache = 5 * time.Minute

// History lists journaled submission attempts.
type History interface {
	List(ctx context.Context, f store.Filter) ([]submission.Attempt, error)
}

// Notifier tells maintainers about opened pull requests.
type Notifier interface {
	IsConfigured() bool
	NotifySubmission(to []string, n email.SubmissionNotice) error
}

// Check is a named readiness probe.
type Check func(ctx context.Context) error

type ServiceConfig struct {
	Upstream     contentstore.Repo
	CatalogPath  string
	CatalogCache time.Duration
	// ReadToken authenticates catalog reads; empty reads anonymously.
	ReadToken string
	NotifyTo  []string
}

type Deps struct {
	Client       contentstore.Client
	Sessions     *session.Manager
	Orchestrator *submission.Orchestrator
	History      History
	Search       *search.Service
	Notifier     Notifier
	Checks       map[string]Check
	Logger       *zap.Logger
}

type Service struct {
	cfg          ServiceConfig
	client       contentstore.Client
	sessions     *session.Manager
	orchestrator *submission.Orchestrator
	history      History
	search       *search.Service
	notifier     Notifier
	checks       map[string]Check
	logger       *zap.Logger
	now          func() time.Time

	catalogMu sync.Mutex
	cached    catalog.Catalog
	cachedAt  time.Time

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	notifyWG sync.WaitGroup
}

func NewService(cfg ServiceConfig, deps Deps) (*Service, error) {
	if deps.Client == nil {
		return nil, errors.New("content store client is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if deps.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.Upstream.Owner == "" || cfg.Upstream.Name == "" {
		return nil, errors.New("upstream repository is required")
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = deps.Orchestrator.Config().CatalogPath
	}
	if cfg.CatalogCache <= 0 {
		cfg.CatalogCache = defaultCatalogCache
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	searcher := deps.Search
	if searcher == nil {
		searcher = search.NewService(nil, logger)
	}
	history := deps.History
	if history == nil {
		history = store.NewMemoryJournal()
	}

	return &Service{
		cfg:          cfg,
		client:       deps.Client,
		sessions:     deps.Sessions,
		orchestrator: deps.Orchestrator,
		history:      history,
		search:       searcher,
		notifier:     deps.Notifier,
		checks:       deps.Checks,
		logger:       logger,
		now:          time.Now,
		inflight:     make(map[string]struct{}),
	}, nil
}

// Session restores the credential behind a bearer token.
func (s *Service) Session(ctx context.Context, token string) (session.Credential, error) {
	return s.sessions.Restore(ctx, token)
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Logout(ctx, token)
}

// Catalog returns the upstream catalog, cached for the configured interval. A stale copy is
// served when a refresh fails.
func (s *Service) Catalog(ctx context.Context) (catalog.Catalog, error) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()

	if s.cached != nil && s.now().Sub(s.cachedAt) < s.cfg.CatalogCache {
		return s.cached, nil
	}

	cred := session.Credential{Token: s.cfg.ReadToken}
	file, err := s.client.ReadFile(ctx, s.cfg.Upstream, s.cfg.CatalogPath, cred)
	if err == nil {
		var c catalog.Catalog
		c, err = catalog.Decode(file.Content)
		if err == nil {
			s.cached = c
			s.cachedAt = s.now()
			s.search.Index(search.Records(c))
			return c, nil
		}
	}

	if s.cached != nil {
		s.logger.Warn("catalog refresh failed, serving cached copy",
			zap.String("upstream", s.cfg.Upstream.String()),
			zap.Time("cached_at", s.cachedAt),
			zap.Error(err),
		)
		return s.cached, nil
	}
	return nil, fmt.Errorf("read catalog: %w", err)
}

// InvalidateCatalog drops the cached catalog so the next read goes upstream.
func (s *Service) InvalidateCatalog() {
	s.catalogMu.Lock()
	s.cached = nil
	s.catalogMu.Unlock()
}

type CatalogPage struct {
	Courses []catalog.Course
	Backend string
}

// SearchCatalog filters the catalog by free text and year. An empty query returns every course.
func (s *Service) SearchCatalog(ctx context.Context, q search.Query) (CatalogPage, error) {
	c, err := s.Catalog(ctx)
	if err != nil {
		return CatalogPage{}, err
	}
	if strings.TrimSpace(q.Text) == "" && q.Year == 0 {
		courses := c
		if q.Limit > 0 && len(courses) > q.Limit {
			courses = courses[:q.Limit]
		}
		return CatalogPage{Courses: courses, Backend: "catalog"}, nil
	}

	codes := s.search.Search(q)
	courses := make([]catalog.Course, 0, len(codes))
	for _, code := range codes {
		if i := c.Find(code); i >= 0 {
			courses = append(courses, c[i])
		}
	}
	return CatalogPage{Courses: courses, Backend: s.search.Backend()}, nil
}

// Submit runs one submission for the credential's identity. Only one submission per identity
// runs at a time; a second one gets a Conflict without touching the content store.
func (s *Service) Submit(ctx context.Context, cred session.Credential, sub submission.Submission) (submission.Result, error) {
	login := cred.Identity.Login
	if login == "" {
		login = cred.Token
	}
	if login != "" {
		if !s.acquire(login) {
			return submission.Result{}, errSubmissionInProgress
		}
		defer s.release(login)
	}

	result, err := s.orchestrator.Submit(ctx, cred, sub)
	if err != nil {
		return result, err
	}
	s.notify(cred, sub, result)
	return result, nil
}

func (s *Service) acquire(login string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[login]; busy {
		return false
	}
	s.inflight[login] = struct{}{}
	return true
}

func (s *Service) release(login string) {
	s.inflightMu.Lock()
	delete(s.inflight, login)
	s.inflightMu.Unlock()
}

func (s *Service) notify(cred session.Credential, sub submission.Submission, result submission.Result) {
	if s.notifier == nil || !s.notifier.IsConfigured() || len(s.cfg.NotifyTo) == 0 {
		return
	}
	sub = sub.Normalize()
	notice := email.SubmissionNotice{
		Login:          cred.Identity.Login,
		CourseCode:     sub.CourseCode,
		CourseName:     sub.CourseName,
		Year:           sub.Year,
		Label:          sub.Label,
		PullRequestURL: result.PullRequestURL,
	}
	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()
		if err := s.notifier.NotifySubmission(s.cfg.NotifyTo, notice); err != nil {
			s.logger.Error("submission notification failed",
				zap.String("submission_id", result.SubmissionID),
				zap.Error(err),
			)
		}
	}()
}

// History lists the identity's own attempts, newest first.
func (s *Service) History(ctx context.Context, login string, limit int) ([]submission.Attempt, error) {
	if strings.TrimSpace(login) == "" {
		return nil, domainError(http.StatusUnauthorized, string(contentstore.KindUnauthenticated), "Unauthorized", nil)
	}
	attempts, err := s.history.List(ctx, store.Filter{Login: login, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return attempts, nil
}

// Ready runs every readiness check and returns the failures by name.
func (s *Service) Ready(ctx context.Context) map[string]error {
	results := make(map[string]error, len(s.checks))
	for name, check := range s.checks {
		results[name] = check(ctx)
	}
	return results
}

// Close waits for pending notifications.
func (s *Service) Close() {
	s.notifyWG.Wait()
}
