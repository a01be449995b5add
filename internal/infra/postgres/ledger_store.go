package postgres

import (
	"context"
	"fmt"
	"time"

	"crowdlabel-service/internal/app"
	"crowdlabel-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// LedgerStore implements app.LedgerStore on Postgres. Appends run in a
// single transaction so the three derived views commit together. Schema is
// managed by the bun migrations in the migrations subpackage.
type LedgerStore struct {
	pool *pgxpool.Pool
	rule app.ScoreRule
}

func NewLedgerStore(pool *pgxpool.Pool, rule app.ScoreRule) *LedgerStore {
	if rule == nil {
		rule = app.FlatScoreRule
	}
	return &LedgerStore{pool: pool, rule: rule}
}

func (s *LedgerStore) AppendSubmission(ctx context.Context, record domain.SubmissionRecord) (int, error) {
	var total int
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO submissions (user_id, task_id, track_id, solution, confidence, question, submitted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			record.UserID, record.TaskID, record.TrackID, record.Solution,
			record.Confidence, record.Question, record.SubmittedAt.UTC(),
		); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO completions (user_id, task_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			record.UserID, record.TaskID,
		); err != nil {
			return err
		}

		return tx.QueryRow(ctx,
			`INSERT INTO scores (user_id, score) VALUES ($1, $2)
			 ON CONFLICT (user_id) DO UPDATE SET score = scores.score + EXCLUDED.score
			 RETURNING score`,
			record.UserID, s.rule(record),
		).Scan(&total)
	})
	if err != nil {
		return 0, storageErr(err)
	}
	return total, nil
}

func (s *LedgerStore) History(ctx context.Context, userID string) ([]domain.SubmissionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, task_id, track_id, solution, confidence, question, submitted_at
		 FROM submissions WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var records []domain.SubmissionRecord
	for rows.Next() {
		var rec domain.SubmissionRecord
		if err := rows.Scan(&rec.UserID, &rec.TaskID, &rec.TrackID, &rec.Solution,
			&rec.Confidence, &rec.Question, &rec.SubmittedAt); err != nil {
			return nil, storageErr(err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return records, nil
}

func (s *LedgerStore) CompletionSet(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT task_id FROM completions WHERE user_id = $1`, userID)
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
	err := s.pool.QueryRow(ctx,
		`SELECT score FROM scores WHERE user_id = $1`, userID).Scan(&score)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr(err)
	}
	return score, nil
}

func (s *LedgerStore) Leaderboard(ctx context.Context) (domain.Leaderboard, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, score FROM scores ORDER BY score DESC, first_seen ASC`)
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
