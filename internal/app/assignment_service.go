package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crowdlabel-service/internal/domain"
)

// LedgerStore is the durable record of submission history, completion sets,
// and scores, keyed by user id. Implementations must keep the three views
// consistent: a reader never observes history updated without the completion
// set and score also updated.
type LedgerStore interface {
	// AppendSubmission records an accepted answer and returns the user's new
	// total score. A failed append leaves prior committed state unchanged.
	AppendSubmission(ctx context.Context, record domain.SubmissionRecord) (int, error)
	History(ctx context.Context, userID string) ([]domain.SubmissionRecord, error)
	CompletionSet(ctx context.Context, userID string) (map[string]struct{}, error)
	Score(ctx context.Context, userID string) (int, error)
	Leaderboard(ctx context.Context) (domain.Leaderboard, error)
}

// TaskProvider is the boundary adapter to the external labeling service.
type TaskProvider interface {
	FetchCandidates(ctx context.Context, criteria domain.Criteria) ([]domain.Task, error)
	SubmitSolution(ctx context.Context, taskID, trackID, solution string) (domain.SubmissionReceipt, error)
}

// ProfileSource exposes the excluded user-profile subsystem at its boundary.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (domain.Profile, error)
}

// SubmitRequest carries one answer submission end-to-end.
type SubmitRequest struct {
	UserID   string
	TaskID   string
	TrackID  string
	Solution string
	Question string
}

// SubmitResult summarizes a committed submission.
type SubmitResult struct {
	Confidence float64 `json:"confidence"`
	Score      int     `json:"score"`
}

// AssignmentService orchestrates task assignment and submission: pick a task
// the user has not completed, forward the answer upstream, and commit the
// outcome to the ledger.
type AssignmentService struct {
	ledger   LedgerStore
	provider TaskProvider
	profiles ProfileSource
	policy   CriteriaPolicy
	now      func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	subMu       sync.Mutex
	subscribers map[chan domain.Leaderboard]struct{}
}

// Option configures an AssignmentService.
type Option func(*AssignmentService)

// WithProfiles wires the profile subsystem used for criteria defaults.
func WithProfiles(profiles ProfileSource) Option {
	return func(s *AssignmentService) { s.profiles = profiles }
}

// WithPolicy overrides the default criteria policy.
func WithPolicy(policy CriteriaPolicy) Option {
	return func(s *AssignmentService) { s.policy = policy }
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *AssignmentService) { s.now = now }
}

func NewAssignmentService(ledger LedgerStore, provider TaskProvider, opts ...Option) *AssignmentService {
	s := &AssignmentService{
		ledger:      ledger,
		provider:    provider,
		policy:      DefaultCriteriaPolicy(),
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
		subscribers: make(map[chan domain.Leaderboard]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchTask picks the next assignable task for the user: resolve criteria,
// fetch candidates upstream, and return the first candidate not already in
// the user's completion set.
func (s *AssignmentService) FetchTask(ctx context.Context, userID string, criteria domain.Criteria) (domain.Task, error) {
	if userID == "" {
		return domain.Task{}, fmt.Errorf("%w: missing user id", domain.ErrInvalidRequest)
	}

	if s.profiles != nil && (criteria.Language == "" || criteria.Topic == "" || criteria.Complexity == 0) {
		if profile, err := s.profiles.Profile(ctx, userID); err == nil {
			criteria = ResolveCriteria(criteria, profile)
		}
	}
	if err := s.policy.Validate(criteria); err != nil {
		return domain.Task{}, err
	}

	candidates, err := s.provider.FetchCandidates(ctx, criteria)
	if err != nil {
		return domain.Task{}, err
	}

	completed, err := s.ledger.CompletionSet(ctx, userID)
	if err != nil {
		return domain.Task{}, err
	}

	task, ok := SelectNext(candidates, completed)
	if !ok {
		return domain.Task{}, domain.ErrNoTaskAvailable
	}
	return task, nil
}

// SubmitAnswer runs one submission attempt:
// validate -> forward upstream -> commit to ledger -> broadcast leaderboard.
// Upstream failures never mutate the ledger. A ledger failure after upstream
// acceptance surfaces as *domain.PartialCommitError so callers know not to
// resubmit.
func (s *AssignmentService) SubmitAnswer(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if req.UserID == "" || req.TaskID == "" || req.TrackID == "" || req.Solution == "" {
		return SubmitResult{}, fmt.Errorf("%w: user id, task id, track id, and solution are required", domain.ErrInvalidRequest)
	}

	completed, err := s.ledger.CompletionSet(ctx, req.UserID)
	if err != nil {
		return SubmitResult{}, err
	}
	if _, done := completed[req.TaskID]; done {
		return SubmitResult{}, domain.ErrAlreadyCompleted
	}

	// A client hang-up must not abort the forward or the commit: upstream
	// may already have accepted the answer, and dropping the commit would
	// strand it outside the ledger. The provider carries its own timeout.
	ctx = context.WithoutCancel(ctx)

	receipt, err := s.provider.SubmitSolution(ctx, req.TaskID, req.TrackID, req.Solution)
	if err != nil {
		return SubmitResult{}, err
	}

	record := domain.SubmissionRecord{
		UserID:      req.UserID,
		TaskID:      req.TaskID,
		TrackID:     req.TrackID,
		Solution:    req.Solution,
		Confidence:  receipt.Confidence,
		Question:    req.Question,
		SubmittedAt: s.now(),
	}

	// The per-user lock covers only the local commit, never the upstream
	// round trip, so a slow network does not serialize that user's reads.
	lock := s.userLock(req.UserID)
	lock.Lock()
	completed, err = s.ledger.CompletionSet(ctx, req.UserID)
	if err != nil {
		lock.Unlock()
		return SubmitResult{}, &domain.PartialCommitError{Record: record, Err: err}
	}
	if _, done := completed[req.TaskID]; done {
		lock.Unlock()
		return SubmitResult{}, domain.ErrAlreadyCompleted
	}
	total, err := s.ledger.AppendSubmission(ctx, record)
	lock.Unlock()
	if err != nil {
		return SubmitResult{}, &domain.PartialCommitError{Record: record, Err: err}
	}

	s.broadcast(ctx)
	return SubmitResult{Confidence: record.Confidence, Score: total}, nil
}

// History returns the user's submission records in insertion order.
func (s *AssignmentService) History(ctx context.Context, userID string) ([]domain.SubmissionRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", domain.ErrInvalidRequest)
	}
	return s.ledger.History(ctx, userID)
}

// Score returns the user's total score, zero for unknown users.
func (s *AssignmentService) Score(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: missing user id", domain.ErrInvalidRequest)
	}
	return s.ledger.Score(ctx, userID)
}

// Leaderboard returns all known users ordered by descending score.
func (s *AssignmentService) Leaderboard(ctx context.Context) (domain.Leaderboard, error) {
	return s.ledger.Leaderboard(ctx)
}

// Profile proxies the excluded profile subsystem for the read surface.
func (s *AssignmentService) Profile(ctx context.Context, userID string) (domain.Profile, error) {
	if s.profiles == nil {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	return s.profiles.Profile(ctx, userID)
}

// Subscribe returns a channel receiving leaderboard snapshots after each
// committed submission. The caller must invoke cancel to avoid leaks.
func (s *AssignmentService) Subscribe(ctx context.Context) (<-chan domain.Leaderboard, func(), error) {
	initial, err := s.ledger.Leaderboard(ctx)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan domain.Leaderboard, 8)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	ch <- initial

	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel, nil
}

func (s *AssignmentService) broadcast(ctx context.Context) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if len(s.subscribers) == 0 {
		return
	}

	lb, err := s.ledger.Leaderboard(ctx)
	if err != nil {
		return
	}
	for ch := range s.subscribers {
		select {
		case ch <- lb:
		default:
			// Drop the stale snapshot so a slow subscriber never blocks commits.
			select {
			case <-ch:
			default:
			}
			ch <- lb
		}
	}
}

func (s *AssignmentService) userLock(userID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}
