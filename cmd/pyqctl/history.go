package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pecademic/api/internal/store"
)

var (
	historyLogin  string
	historyCourse string
	historyLimit  int
	historyJSON   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List journaled submission attempts",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		journal, closeJournal := openJournal(ctx)
		if journal == nil {
			fatal("History unavailable", errors.New("DATABASE_URL is not set"))
		}
		defer closeJournal()

		attempts, err := journal.List(ctx, store.Filter{
			Login:      historyLogin,
			CourseCode: historyCourse,
			Limit:      historyLimit,
		})
		if err != nil {
			fatal("Failed to list history", err)
		}

		if historyJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(attempts); err != nil {
				fatal("Failed to encode JSON", err)
			}
			return
		}

		for _, a := range attempts {
			outcome := a.PullRequestURL
			if a.FailedStep != "" {
				outcome = fmt.Sprintf("failed at %s: %s", a.FailedStep, a.Message)
			}
			fmt.Printf("%s  %-10s %-12s %d %-10s %s\n",
				a.StartedAt.Format("2006-01-02 15:04"), a.Login, a.CourseCode, a.Year, a.State, outcome)
		}
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyLogin, "login", "", "Only attempts by this login")
	historyCmd.Flags().StringVar(&historyCourse, "course", "", "Only attempts for this course code")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum number of attempts")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output in JSON format")
}

// openJournal connects to DATABASE_URL. It returns nil when no database is configured.
func openJournal(ctx context.Context) (*store.Journal, func()) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, func() {}
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("Failed to connect to database", err)
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		_ = db.Close()
		fatal("Failed to apply migrations", err)
	}
	logger.Debug("journal connected", zap.String("migrations", cfg.MigrationsDir))
	return store.NewJournal(db), func() { _ = db.Close() }
}
