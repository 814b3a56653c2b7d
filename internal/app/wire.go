package app

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"pecademic/api/internal/config"
	"pecademic/api/internal/contentstore"
	"pecademic/api/internal/email"
	"pecademic/api/internal/session"
	"pecademic/api/internal/submission"
)

// Backend is a content store that can also resolve the identity behind a token.
type Backend interface {
	contentstore.Client
	session.IdentityFetcher
}

// NewBackend builds the content store selected by CONTENT_STORE.
func NewBackend(cfg config.Config) (Backend, error) {
	switch cfg.ContentStore {
	case "", "github":
		return contentstore.NewGitHub(cfg.GitHubAPIURL, &http.Client{Timeout: 60 * time.Second}), nil
	case "local":
		if err := os.MkdirAll(cfg.LocalStoreDir, 0o755); err != nil {
			return nil, fmt.Errorf("create local store dir: %w", err)
		}
		return contentstore.NewLocal(cfg.LocalStoreDir, cfg.LocalStoreURL), nil
	default:
		return nil, fmt.Errorf("unknown CONTENT_STORE %q", cfg.ContentStore)
	}
}

// NewOrchestrator maps the environment configuration onto a submission orchestrator.
func NewOrchestrator(cfg config.Config, client contentstore.Client, logger *zap.Logger, opts ...submission.Option) (*submission.Orchestrator, error) {
	upstream, err := contentstore.ParseRepo(cfg.UpstreamRepo)
	if err != nil {
		return nil, fmt.Errorf("UPSTREAM_REPO: %w", err)
	}
	return submission.New(client, submission.Config{
		Upstream:         upstream,
		BaseBranch:       cfg.BaseBranch,
		CatalogPath:      cfg.CatalogPath,
		PapersDir:        cfg.PapersDir,
		StepTimeout:      cfg.StepTimeout,
		MaxFileBytes:     cfg.MaxUploadBytes,
		RejectDuplicates: cfg.RejectDuplicateCourses,
	}, logger, opts...), nil
}

func NewMailer(cfg config.Config) *email.Service {
	return email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
}
