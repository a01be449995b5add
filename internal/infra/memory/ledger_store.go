package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"crowdlabel-service/internal/app"
	"crowdlabel-service/internal/domain"
)

// LedgerStore is the in-memory implementation of app.LedgerStore. History,
// completion set, and score are updated under one lock so readers never see
// them out of step.
type LedgerStore struct {
	rule  app.ScoreRule
	clock func() time.Time

	mu        sync.RWMutex
	history   map[string][]domain.SubmissionRecord
	completed map[string]map[string]struct{}
	scores    map[string]int
	userOrder []string
}

func NewLedgerStore(rule app.ScoreRule) *LedgerStore {
	if rule == nil {
		rule = app.FlatScoreRule
	}
	return &LedgerStore{
		rule:      rule,
		clock:     time.Now,
		history:   make(map[string][]domain.SubmissionRecord),
		completed: make(map[string]map[string]struct{}),
		scores:    make(map[string]int),
	}
}

func (s *LedgerStore) AppendSubmission(_ context.Context, record domain.SubmissionRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID := record.UserID
	if _, known := s.completed[userID]; !known {
		s.completed[userID] = make(map[string]struct{})
		s.userOrder = append(s.userOrder, userID)
	}

	s.history[userID] = append(s.history[userID], record)
	s.completed[userID][record.TaskID] = struct{}{}
	s.scores[userID] += s.rule(record)
	return s.scores[userID], nil
}

func (s *LedgerStore) History(_ context.Context, userID string) ([]domain.SubmissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.history[userID]
	out := make([]domain.SubmissionRecord, len(records))
	copy(out, records)
	return out, nil
}

func (s *LedgerStore) CompletionSet(_ context.Context, userID string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.completed[userID]))
	for taskID := range s.completed[userID] {
		out[taskID] = struct{}{}
	}
	return out, nil
}

func (s *LedgerStore) Score(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scores[userID], nil
}

func (s *LedgerStore) Leaderboard(_ context.Context) (domain.Leaderboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.LeaderboardEntry, 0, len(s.userOrder))
	for _, userID := range s.userOrder {
		entries = append(entries, domain.LeaderboardEntry{UserID: userID, Score: s.scores[userID]})
	}
	// Stable sort keeps first-seen order among equal scores.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	return domain.Leaderboard{Entries: entries, UpdatedAt: s.clock()}, nil
}
