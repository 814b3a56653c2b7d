package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSubmissionAttemptsMigrationDefinesJournalColumns(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "0001_submission_attempts.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	expectedSnippets := []string{
		"CREATE TABLE IF NOT EXISTS submission_attempts",
		"id TEXT PRIMARY KEY",
		"leftovers JSONB",
		"pull_request_url",
		"submission_attempts_login_started_idx",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}
