package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pecademic/api/internal/app"
	"pecademic/api/internal/session"
	"pecademic/api/internal/submission"
)

var (
	submitName  string
	submitCode  string
	submitYear  int
	submitLabel string
	submitFile  string
	submitToken string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a question paper",
	Long: `Fork the archive, add the PDF and its catalog entry in a single commit,
and open a pull request against the upstream repository.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		content, err := os.ReadFile(submitFile)
		if err != nil {
			fatal("Failed to read paper", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		store := backend()
		token := strings.TrimSpace(submitToken)
		identity, err := store.FetchIdentity(ctx, token)
		if err != nil {
			fatal("Failed to resolve identity", err)
		}
		cred := session.Credential{Token: token, Identity: identity}

		opts := []submission.Option{
			submission.WithObserver(func(t submission.Transition) {
				if t.To.Terminal() {
					return
				}
				fmt.Printf("  %s\n", t.To)
			}),
		}
		if journal, closeJournal := openJournal(ctx); journal != nil {
			defer closeJournal()
			opts = append(opts, submission.WithJournal(journal))
		}

		orchestrator, err := app.NewOrchestrator(cfg, store, logger.Named("submission"), opts...)
		if err != nil {
			fatal("Failed to set up submission", err)
		}

		fmt.Printf("Submitting %s (%s, %d) as %s\n", submitCode, submitName, submitYear, identity.Login)
		result, err := orchestrator.Submit(ctx, cred, submission.Submission{
			CourseName:  submitName,
			CourseCode:  submitCode,
			Year:        submitYear,
			Label:       submitLabel,
			File:        content,
			ContentType: "application/pdf",
		})
		if err != nil {
			var failure *submission.Failure
			if errors.As(err, &failure) {
				fmt.Fprintf(os.Stderr, "Failed at %s: %s\n", failure.Step, failure.Reason())
				for _, leftover := range failure.Leftovers {
					fmt.Fprintf(os.Stderr, "  left behind: %s %s\n", leftover.Type, leftover.Ref)
				}
				os.Exit(1)
			}
			fatal("Submission failed", err)
		}

		logger.Debug("submission finished", zap.String("submission_id", result.SubmissionID))
		if result.CourseCreated {
			fmt.Printf("Added new course %s to the catalog\n", submitCode)
		}
		fmt.Printf("Pull request #%d opened: %s\n", result.PullRequestNumber, result.PullRequestURL)
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&submitName, "name", "", "Course name")
	submitCmd.Flags().StringVar(&submitCode, "code", "", "Course code")
	submitCmd.Flags().IntVar(&submitYear, "year", 0, "Exam year")
	submitCmd.Flags().StringVar(&submitLabel, "label", submission.DefaultLabel, "Paper label, used as the file name")
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "Path to the PDF")
	submitCmd.Flags().StringVar(&submitToken, "token", os.Getenv("GITHUB_TOKEN"), "Access token (the login itself for the local store)")
	_ = submitCmd.MarkFlagRequired("name")
	_ = submitCmd.MarkFlagRequired("code")
	_ = submitCmd.MarkFlagRequired("year")
	_ = submitCmd.MarkFlagRequired("file")
}
