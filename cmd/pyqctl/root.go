package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pecademic/api/internal/app"
	"pecademic/api/internal/config"
	"pecademic/api/internal/contentstore"
	"pecademic/api/internal/logging"
)

var (
	verbose      bool
	storeKind    string
	localDir     string
	upstreamRepo string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pyqctl",
	Short: "Operate the question paper archive",
	Long: `pyqctl submits papers to the archive through the same pipeline as the web API,
and inspects the upstream catalog and the submission journal.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if storeKind != "" {
			cfg.ContentStore = strings.ToLower(storeKind)
		}
		if localDir != "" {
			cfg.LocalStoreDir = localDir
		}
		if upstreamRepo != "" {
			cfg.UpstreamRepo = upstreamRepo
		}

		var err error
		if verbose {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = logging.New(cfg.Environment)
			if err == nil {
				logger = logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel))
			}
		}
		if err != nil {
			fatal("Failed to build logger", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", "Content store: github or local (default from CONTENT_STORE)")
	rootCmd.PersistentFlags().StringVar(&localDir, "local-dir", "", "Root directory of the local content store")
	rootCmd.PersistentFlags().StringVar(&upstreamRepo, "upstream", "", "Upstream repository as owner/name")
}

func upstream() contentstore.Repo {
	repo, err := contentstore.ParseRepo(cfg.UpstreamRepo)
	if err != nil {
		fatal("Invalid upstream repository", err)
	}
	return repo
}

func backend() app.Backend {
	b, err := app.NewBackend(cfg)
	if err != nil {
		fatal("Failed to set up content store", err)
	}
	return b
}
