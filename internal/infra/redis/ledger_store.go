package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"crowdlabel-service/internal/app"
	"crowdlabel-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// LedgerStore implements app.LedgerStore on Redis.
// Layout:
//
//	ledger:history:{userID}   list of JSON submission records
//	ledger:completed:{userID} set of task ids
//	ledger:scores             hash userID -> score
//	ledger:users              list of userIDs in first-seen order
//
// Appends go through a MULTI/EXEC pipeline so the views commit together.
// The leaderboard is assembled client-side because sorted-set ties order
// lexically, not by first-seen.
type LedgerStore struct {
	client *redis.Client
	rule   app.ScoreRule
}

func NewLedgerStore(client *redis.Client, rule app.ScoreRule) *LedgerStore {
	if rule == nil {
		rule = app.FlatScoreRule
	}
	return &LedgerStore{client: client, rule: rule}
}

func (s *LedgerStore) AppendSubmission(ctx context.Context, record domain.SubmissionRecord) (int, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return 0, storageErr(err)
	}

	known, err := s.client.HExists(ctx, s.scoresKey(), record.UserID).Result()
	if err != nil {
		return 0, storageErr(err)
	}

	awarded := s.rule(record)
	var totalCmd *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.historyKey(record.UserID), payload)
		pipe.SAdd(ctx, s.completedKey(record.UserID), record.TaskID)
		totalCmd = pipe.HIncrBy(ctx, s.scoresKey(), record.UserID, int64(awarded))
		if !known {
			pipe.RPush(ctx, s.usersKey(), record.UserID)
		}
		return nil
	})
	if err != nil {
		return 0, storageErr(err)
	}
	return int(totalCmd.Val()), nil
}

func (s *LedgerStore) History(ctx context.Context, userID string) ([]domain.SubmissionRecord, error) {
	raw, err := s.client.LRange(ctx, s.historyKey(userID), 0, -1).Result()
	if err != nil {
		return nil, storageErr(err)
	}
	records := make([]domain.SubmissionRecord, 0, len(raw))
	for _, item := range raw {
		var rec domain.SubmissionRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, storageErr(err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *LedgerStore) CompletionSet(ctx context.Context, userID string) (map[string]struct{}, error) {
	members, err := s.client.SMembers(ctx, s.completedKey(userID)).Result()
	if err != nil {
		return nil, storageErr(err)
	}
	completed := make(map[string]struct{}, len(members))
	for _, taskID := range members {
		completed[taskID] = struct{}{}
	}
	return completed, nil
}

func (s *LedgerStore) Score(ctx context.Context, userID string) (int, error) {
	raw, err := s.client.HGet(ctx, s.scoresKey(), userID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr(err)
	}
	score, err := strconv.Atoi(raw)
	if err != nil {
		return 0, storageErr(err)
	}
	return score, nil
}

func (s *LedgerStore) Leaderboard(ctx context.Context) (domain.Leaderboard, error) {
	users, err := s.client.LRange(ctx, s.usersKey(), 0, -1).Result()
	if err != nil {
		return domain.Leaderboard{}, storageErr(err)
	}
	scores, err := s.client.HGetAll(ctx, s.scoresKey()).Result()
	if err != nil {
		return domain.Leaderboard{}, storageErr(err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(users))
	for _, userID := range users {
		score := 0
		if raw, ok := scores[userID]; ok {
			if parsed, err := strconv.Atoi(raw); err == nil {
				score = parsed
			}
		}
		entries = append(entries, domain.LeaderboardEntry{UserID: userID, Score: score})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	return domain.Leaderboard{Entries: entries, UpdatedAt: time.Now()}, nil
}

func (s *LedgerStore) historyKey(userID string) string {
	return "ledger:history:" + userID
}

func (s *LedgerStore) completedKey(userID string) string {
	return "ledger:completed:" + userID
}

func (s *LedgerStore) scoresKey() string { return "ledger:scores" }

func (s *LedgerStore) usersKey() string { return "ledger:users" }

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
}
