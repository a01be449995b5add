// Package sqlite persists the ledger in a local SQLite database, the
// single-writer file-backed deployment target.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"crowdlabel-service/internal/app"
	"crowdlabel-service/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      TEXT NOT NULL,
	task_id      TEXT NOT NULL,
	track_id     TEXT NOT NULL,
	solution     TEXT NOT NULL,
	confidence   REAL NOT NULL,
	question     TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_user ON submissions(user_id, id);

CREATE TABLE IF NOT EXISTS completions (
	user_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	PRIMARY KEY (user_id, task_id)
);

CREATE TABLE IF NOT EXISTS scores (
	user_id TEXT PRIMARY KEY,
	score   INTEGER NOT NULL DEFAULT 0
);
`

// LedgerStore implements app.LedgerStore on SQLite. Each append runs in one
// transaction covering history, completion set, and score, so a crash never
// leaves the three views out of step.
type LedgerStore struct {
	db   *sql.DB
	rule app.ScoreRule
}

func NewLedgerStore(path string, rule app.ScoreRule) (*LedgerStore, error) {
	if strings.TrimSpace(path) == "" {
		path = "ledger.db"
	}
	if rule == nil {
		rule = app.FlatScoreRule
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &LedgerStore{db: db, rule: rule}, nil
}

func (s *LedgerStore) Close() error {
	return s.db.Close()
}

func (s *LedgerStore) AppendSubmission(ctx context.Context, record domain.SubmissionRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO submissions (user_id, task_id, track_id, solution, confidence, question, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.UserID, record.TaskID, record.TrackID, record.Solution,
		record.Confidence, record.Question, record.SubmittedAt.UTC(),
	); err != nil {
		return 0, storageErr(err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO completions (user_id, task_id) VALUES (?, ?)`,
		record.UserID, record.TaskID,
	); err != nil {
		return 0, storageErr(err)
	}

	awarded := s.rule(record)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scores (user_id, score) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET score = score + excluded.score`,
		record.UserID, awarded,
	); err != nil {
		return 0, storageErr(err)
	}

	var total int
	if err := tx.QueryRowContext(ctx,
		`SELECT score FROM scores WHERE user_id = ?`, record.UserID,
	).Scan(&total); err != nil {
		return 0, storageErr(err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr(err)
	}
	return total, nil
}

func (s *LedgerStore) History(ctx context.Context, userID string) ([]domain.SubmissionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, task_id, track_id, solution, confidence, question, submitted_at
		 FROM submissions WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var records []domain.SubmissionRecord
	for rows.Next() {
		var rec domain.SubmissionRecord
		var submittedAt time.Time
		if err := rows.Scan(&rec.UserID, &rec.TaskID, &rec.TrackID, &rec.Solution,
			&rec.Confidence, &rec.Question, &submittedAt); err != nil {
			return nil, storageErr(err)
		}
		rec.SubmittedAt = submittedAt
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return records, nil
}

func (s *LedgerStore) CompletionSet(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id FROM completions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	completed := make(map[string]struct{})
	for rows.Next() {
		var taskID string
		if err := rows.Scan(&taskID); err != nil {
			return nil, storageErr(err)
		}
		completed[taskID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return completed, nil
}

func (s *LedgerStore) Score(ctx context.Context, userID string) (int, error) {
	var score int
	err := s.db.QueryRowContext(ctx,
		`SELECT score FROM scores WHERE user_id = ?`, userID).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr(err)
	}
	return score, nil
}

func (s *LedgerStore) Leaderboard(ctx context.Context) (domain.Leaderboard, error) {
	// rowid preserves first-seen order for equal scores.
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, score FROM scores ORDER BY score DESC, rowid ASC`)
	if err != nil {
		return domain.Leaderboard{}, storageErr(err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var entry domain.LeaderboardEntry
		if err := rows.Scan(&entry.UserID, &entry.Score); err != nil {
			return domain.Leaderboard{}, storageErr(err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return domain.Leaderboard{}, storageErr(err)
	}
	return domain.Leaderboard{Entries: entries, UpdatedAt: time.Now()}, nil
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
}
