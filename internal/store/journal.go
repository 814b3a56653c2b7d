package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"pecademic/api/internal/submission"
)

const defaultListLimit = 50

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Login      string
	CourseCode string
	Limit      int
}

func (f Filter) limit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return defaultListLimit
	}
	return f.Limit
}

// Journal persists submission attempts in Postgres.
type Journal struct {
	db *sql.DB
}

func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) Record(ctx context.Context, a submission.Attempt) error {
	leftovers := a.Leftovers
	if leftovers == nil {
		leftovers = []submission.Leftover{}
	}
	payload, err := json.Marshal(leftovers)
	if err != nil {
		return fmt.Errorf("marshal leftovers: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO submission_attempts (
			id, login, course_code, course_name, year, label, state,
			failed_step, kind, message, pull_request_url, leftovers, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			failed_step = EXCLUDED.failed_step,
			kind = EXCLUDED.kind,
			message = EXCLUDED.message,
			pull_request_url = EXCLUDED.pull_request_url,
			leftovers = EXCLUDED.leftovers,
			finished_at = EXCLUDED.finished_at
	`,
		a.ID, a.Login, a.CourseCode, a.CourseName, a.Year, a.Label, string(a.State),
		string(a.FailedStep), a.Kind, a.Message, a.PullRequestURL, string(payload), a.StartedAt, a.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission attempt: %w", err)
	}
	return nil
}

func (j *Journal) List(ctx context.Context, f Filter) ([]submission.Attempt, error) {
	var (
		where []string
		args  []any
	)
	if f.Login != "" {
		args = append(args, f.Login)
		where = append(where, fmt.Sprintf("login = $%d", len(args)))
	}
	if f.CourseCode != "" {
		args = append(args, f.CourseCode)
		where = append(where, fmt.Sprintf("course_code = $%d", len(args)))
	}
	query := `
		SELECT id, login, course_code, course_name, year, label, state,
		       failed_step, kind, message, pull_request_url, leftovers, started_at, finished_at
		FROM submission_attempts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.limit())
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args))

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submission attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]submission.Attempt, 0)
	for rows.Next() {
		var (
			a          submission.Attempt
			state      string
			failedStep string
			leftovers  []byte
		)
		if err := rows.Scan(
			&a.ID, &a.Login, &a.CourseCode, &a.CourseName, &a.Year, &a.Label, &state,
			&failedStep, &a.Kind, &a.Message, &a.PullRequestURL, &leftovers, &a.StartedAt, &a.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan submission attempt: %w", err)
		}
		a.State = submission.State(state)
		a.FailedStep = submission.State(failedStep)
		if len(leftovers) > 0 {
			if err := json.Unmarshal(leftovers, &a.Leftovers); err != nil {
				return nil, fmt.Errorf("decode leftovers for %s: %w", a.ID, err)
			}
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission attempts: %w", err)
	}
	return attempts, nil
}

// MemoryJournal keeps attempts in process when no database is configured.
type MemoryJournal struct {
	mu       sync.Mutex
	attempts []submission.Attempt
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Record(_ context.Context, a submission.Attempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.attempts {
		if j.attempts[i].ID == a.ID {
			j.attempts[i] = a
			return nil
		}
	}
	j.attempts = append(j.attempts, a)
	return nil
}

func (j *MemoryJournal) List(_ context.Context, f Filter) ([]submission.Attempt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]submission.Attempt, 0, len(j.attempts))
	for _, a := range j.attempts {
		if f.Login != "" && a.Login != f.Login {
			continue
		}
		if f.CourseCode != "" && a.CourseCode != f.CourseCode {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, k int) bool {
		return out[i].StartedAt.After(out[k].StartedAt)
	})
	if len(out) > f.limit() {
		out = out[:f.limit()]
	}
	return out, nil
}
