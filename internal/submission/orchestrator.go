// Package submission drives the fork, upload, commit and pull request sequence that adds a paper
// to the archive. Steps run strictly in order, each at most once, and the first failure aborts.
package submission

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"pecademic/api/internal/catalog"
	"pecademic/api/internal/contentstore"
	"pecademic/api/internal/session"
	"pecademic/api/internal/util"
)

const (
	DefaultStepTimeout = 30 * time.Second
	journalTimeout     = 5 * time.Second
)

// Config names where submissions go.
type Config struct {
	Upstream    contentstore.Repo
	BaseBranch  string
	CatalogPath string
	PapersDir   string
	StepTimeout time.Duration
	// MaxFileBytes <= 0 means unlimited.
	MaxFileBytes int64
	// RejectDuplicates fails the merge when the catalog already lists the course code twice.
	RejectDuplicates bool
}

func (c Config) withDefaults() Config {
	if c.BaseBranch == "" {
		c.BaseBranch = "main"
	}
	if c.CatalogPath == "" {
		c.CatalogPath = "src/data/papers.json"
	}
	if c.PapersDir == "" {
		c.PapersDir = "Papers"
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = DefaultStepTimeout
	}
	return c
}

// Result describes a successful submission.
type Result struct {
	SubmissionID      string
	PullRequestURL    string
	PullRequestNumber int
	Fork              contentstore.Repo
	Commit            string
	PaperPath         string
	CourseCreated     bool
}

// Journal receives one record per finished attempt.
type Journal interface {
	Record(ctx context.Context, attempt Attempt) error
}

// Attempt is the journal record of one submission.
type Attempt struct {
	ID             string     `json:"id"`
	Login          string     `json:"login"`
	CourseCode     string     `json:"course_code"`
	CourseName     string     `json:"course_name"`
	Year           int        `json:"year"`
	Label          string     `json:"label"`
	State          State      `json:"state"`
	FailedStep     State      `json:"failed_step,omitempty"`
	Kind           string     `json:"kind,omitempty"`
	Message        string     `json:"message,omitempty"`
	PullRequestURL string     `json:"pull_request_url,omitempty"`
	Leftovers      []Leftover `json:"leftovers,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     time.Time  `json:"finished_at"`
}

type Orchestrator struct {
	client   contentstore.Client
	cfg      Config
	logger   *zap.Logger
	journal  Journal
	metrics  *Metrics
	observer Observer
	now      func() time.Time
}

type Option func(*Orchestrator)

func WithJournal(j Journal) Option { return func(o *Orchestrator) { o.journal = j } }

func WithMetrics(m *Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithObserver(fn Observer) Option { return func(o *Orchestrator) { o.observer = fn } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func New(client contentstore.Client, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		client: client,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Submit runs the whole sequence for sub. On failure the error is a *Failure.
func (o *Orchestrator) Submit(ctx context.Context, cred session.Credential, sub Submission) (Result, error) {
	r := &run{
		o:     o,
		id:    util.NewID("sub"),
		cred:  cred,
		sub:   sub.Normalize(),
		state: StateIdle,
		start: o.now(),
	}
	r.logger = o.logger.With(
		zap.String("submission_id", r.id),
		zap.String("login", cred.Identity.Login),
		zap.String("course_code", r.sub.CourseCode),
	)

	result, err := r.execute(ctx)
	o.finish(ctx, r, result, err)
	return result, err
}

func (o *Orchestrator) finish(ctx context.Context, r *run, result Result, err error) {
	attempt := Attempt{
		ID:             r.id,
		Login:          r.cred.Identity.Login,
		CourseCode:     r.sub.CourseCode,
		CourseName:     r.sub.CourseName,
		Year:           r.sub.Year,
		Label:          r.sub.Label,
		State:          r.state,
		PullRequestURL: result.PullRequestURL,
		StartedAt:      r.start.UTC(),
		FinishedAt:     o.now().UTC(),
	}
	var failure *Failure
	if errors.As(err, &failure) {
		attempt.FailedStep = failure.Step
		attempt.Kind = string(failure.Kind)
		attempt.Message = failure.Reason()
		attempt.Leftovers = failure.Leftovers
		o.metrics.observeOutcome(StateFailed, failure.Kind)
	} else {
		o.metrics.observeOutcome(StateSucceeded, "")
	}

	if o.journal == nil {
		return
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := o.journal.Record(jctx, attempt); err != nil {
		r.logger.Warn("journal submission attempt", zap.Error(err))
	}
}

// run carries the values threaded between steps of a single submission.
type run struct {
	o      *Orchestrator
	id     string
	cred   session.Credential
	sub    Submission
	state  State
	start  time.Time
	logger *zap.Logger

	leftovers []Leftover

	fork        contentstore.Repo
	paperBlob   string
	current     catalog.Catalog
	merged      []byte
	report      catalog.Report
	catalogBlob string
	parent      string
	tree        string
	commit      string
	pr          contentstore.PullRequest
}

func (r *run) execute(ctx context.Context) (Result, error) {
	cfg := r.o.cfg

	if !r.cred.Valid() {
		return Result{}, r.fail(StateIdle, contentstore.KindUnauthenticated, &contentstore.Error{
			Kind: contentstore.KindUnauthenticated, Message: "missing credential or identity",
		})
	}
	if err := Validate(r.sub, r.o.now(), cfg.MaxFileBytes); err != nil {
		return Result{}, r.fail(StateIdle, contentstore.KindValidation, &contentstore.Error{
			Kind: contentstore.KindValidation, Message: err.Error(),
		})
	}

	paperPath := r.paperPath()
	client := r.o.client

	steps := []struct {
		state State
		kind  contentstore.Kind
		fn    func(ctx context.Context) error
	}{
		{StateForking, contentstore.KindFork, func(ctx context.Context) error {
			fork, err := client.ForkRepository(ctx, cfg.Upstream, r.cred)
			if err != nil {
				return err
			}
			r.fork = fork
			r.leftover("fork", fork.String())
			return nil
		}},
		{StateUploadingFile, contentstore.KindBlob, func(ctx context.Context) error {
			sha, err := client.CreateBlob(ctx, r.fork, r.sub.File, r.cred)
			if err != nil {
				return err
			}
			r.paperBlob = sha
			r.leftover("blob", sha)
			return nil
		}},
		{StateFetchingCatalog, contentstore.KindFetch, func(ctx context.Context) error {
			file, err := client.ReadFile(ctx, r.fork, cfg.CatalogPath, r.cred)
			if err != nil {
				return err
			}
			current, err := catalog.Decode(file.Content)
			if err != nil {
				return &contentstore.Error{Kind: contentstore.KindFetch, Message: err.Error(), Err: err}
			}
			r.current = current
			return nil
		}},
		{StateMerging, contentstore.KindValidation, func(context.Context) error {
			merged, report, err := catalog.Merge(r.current, catalog.Entry{
				CourseCode: r.sub.CourseCode,
				CourseName: r.sub.CourseName,
				Year:       r.sub.Year,
				File:       r.sub.Label,
			})
			if err != nil {
				return &contentstore.Error{Kind: contentstore.KindValidation, Message: err.Error(), Err: err}
			}
			if len(report.Duplicates) > 0 {
				if cfg.RejectDuplicates {
					return &contentstore.Error{
						Kind:    contentstore.KindConsistency,
						Message: fmt.Sprintf("course code %s appears %d times", r.sub.CourseCode, len(report.Duplicates)+1),
					}
				}
				r.logger.Warn("catalog has duplicate course code, using first match",
					zap.Int("index", report.Index), zap.Ints("duplicates", report.Duplicates))
			}
			encoded, err := catalog.Encode(merged)
			if err != nil {
				return &contentstore.Error{Kind: contentstore.KindValidation, Message: err.Error(), Err: err}
			}
			r.merged = encoded
			r.report = report
			return nil
		}},
		{StateUploadingCatalog, contentstore.KindBlob, func(ctx context.Context) error {
			sha, err := client.CreateBlob(ctx, r.fork, r.merged, r.cred)
			if err != nil {
				return err
			}
			r.catalogBlob = sha
			r.leftover("blob", sha)
			return nil
		}},
		{StateResolvingParentCommit, contentstore.KindCommitLookup, func(ctx context.Context) error {
			sha, err := client.GetLatestCommit(ctx, r.fork, cfg.BaseBranch, r.cred)
			if err != nil {
				return err
			}
			r.parent = sha
			return nil
		}},
		{StateBuildingTree, contentstore.KindTree, func(ctx context.Context) error {
			sha, err := client.CreateTree(ctx, r.fork, r.parent, []contentstore.TreeEntry{
				{Path: cfg.CatalogPath, Mode: contentstore.ModeFile, Type: contentstore.TypeBlob, SHA: r.catalogBlob},
				{Path: paperPath, Mode: contentstore.ModeFile, Type: contentstore.TypeBlob, SHA: r.paperBlob},
			}, r.cred)
			if err != nil {
				return err
			}
			r.tree = sha
			r.leftover("tree", sha)
			return nil
		}},
		{StateCommitting, contentstore.KindCommit, func(ctx context.Context) error {
			sha, err := client.CreateCommit(ctx, r.fork, r.commitMessage(), r.tree, []string{r.parent}, r.cred)
			if err != nil {
				return err
			}
			r.commit = sha
			r.leftover("commit", sha)
			return nil
		}},
		{StateUpdatingRef, contentstore.KindRefUpdate, func(ctx context.Context) error {
			if err := client.UpdateRef(ctx, r.fork, cfg.BaseBranch, r.commit, r.cred); err != nil {
				return err
			}
			r.leftover("ref", r.fork.String()+"@"+cfg.BaseBranch)
			return nil
		}},
		{StateOpeningPR, contentstore.KindPullRequest, func(ctx context.Context) error {
			pr, err := client.OpenPullRequest(ctx, cfg.Upstream, contentstore.PullRequestInput{
				HeadOwner:  r.fork.Owner,
				HeadBranch: cfg.BaseBranch,
				BaseBranch: cfg.BaseBranch,
				Title:      fmt.Sprintf("Add %s paper for %s", r.sub.CourseCode, r.sub.CourseName),
				Body:       fmt.Sprintf("Added the question paper for %s (%s, %d).", r.sub.CourseName, r.sub.CourseCode, r.sub.Year),
			}, r.cred)
			if err != nil {
				return err
			}
			r.pr = pr
			return nil
		}},
	}

	for _, step := range steps {
		if err := r.step(ctx, step.state, step.kind, step.fn); err != nil {
			return Result{}, err
		}
	}

	r.transition(StateSucceeded, nil)
	r.logger.Info("submission succeeded",
		zap.String("pull_request", r.pr.URL),
		zap.Duration("duration", r.o.now().Sub(r.start)))
	return Result{
		SubmissionID:      r.id,
		PullRequestURL:    r.pr.URL,
		PullRequestNumber: r.pr.Number,
		Fork:              r.fork,
		Commit:            r.commit,
		PaperPath:         paperPath,
		CourseCreated:     r.report.CreatedCourse,
	}, nil
}

func (r *run) step(ctx context.Context, state State, kind contentstore.Kind, fn func(context.Context) error) error {
	r.transition(state, nil)
	r.logger.Debug("submission step started", zap.String("step", string(state)))

	stepCtx, cancel := context.WithTimeout(ctx, r.o.cfg.StepTimeout)
	defer cancel()

	started := time.Now()
	err := fn(stepCtx)
	elapsed := time.Since(started)
	r.o.metrics.observeStep(state, elapsed)

	if err != nil {
		return r.fail(state, kind, err)
	}
	r.logger.Info("submission step completed", zap.String("step", string(state)), zap.Duration("duration", elapsed))
	return nil
}

func (r *run) fail(step State, kind contentstore.Kind, err error) *Failure {
	if k := contentstore.KindOf(err); k != "" {
		kind = k
	}
	failure := &Failure{
		SubmissionID: r.id,
		Step:         step,
		Kind:         kind,
		Leftovers:    append([]Leftover(nil), r.leftovers...),
		Err:          err,
	}
	var storeErr *contentstore.Error
	if errors.As(err, &storeErr) {
		failure.Status = storeErr.Status
		failure.Message = storeErr.Message
		if failure.Message == "" && storeErr.Err != nil {
			failure.Message = storeErr.Err.Error()
		}
	}
	if failure.Message == "" && err != nil {
		failure.Message = err.Error()
	}

	r.logger.Error("submission failed",
		zap.String("step", string(step)),
		zap.String("kind", string(kind)),
		zap.Int("status", failure.Status),
		zap.Int("leftovers", len(failure.Leftovers)),
		zap.Error(err))
	r.transition(StateFailed, failure)
	return failure
}

func (r *run) transition(to State, failure *Failure) {
	from := r.state
	r.state = to
	if r.o.observer != nil {
		r.o.observer(Transition{SubmissionID: r.id, From: from, To: to, At: r.o.now(), Failure: failure})
	}
}

func (r *run) leftover(kind, ref string) {
	r.leftovers = append(r.leftovers, Leftover{Type: kind, Ref: ref})
}

func (r *run) paperPath() string {
	return path.Join(r.o.cfg.PapersDir, r.sub.CourseName, strconv.Itoa(r.sub.Year), r.sub.Label+".pdf")
}

func (r *run) commitMessage() string {
	return fmt.Sprintf("Update %s and add %s PDF for %s (%s, %d)",
		path.Base(r.o.cfg.CatalogPath), r.sub.Label, r.sub.CourseCode, r.sub.CourseName, r.sub.Year)
}
