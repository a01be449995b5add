package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"crowdlabel-service/internal/app"
	"crowdlabel-service/internal/domain"
	"crowdlabel-service/internal/infra/memory"
)

type fakeProvider struct {
	candidates   []domain.Task
	fetchErr     error
	submitErr    error
	receipt      domain.SubmissionReceipt
	fetchCalls   int
	submitCalls  int
	lastCriteria domain.Criteria
}

func (f *fakeProvider) FetchCandidates(_ context.Context, criteria domain.Criteria) ([]domain.Task, error) {
	f.fetchCalls++
	f.lastCriteria = criteria
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.candidates, nil
}

func (f *fakeProvider) SubmitSolution(context.Context, string, string, string) (domain.SubmissionReceipt, error) {
	f.submitCalls++
	if f.submitErr != nil {
		return domain.SubmissionReceipt{}, f.submitErr
	}
	return f.receipt, nil
}

func sampleCandidates() []domain.Task {
	return []domain.Task{
		{ID: "t1", TrackID: "tr1", Question: "Label the apple", Language: "en", Topic: "kitchen", Complexity: 1},
		{ID: "t2", TrackID: "tr2", Question: "Label the knife", Language: "en", Topic: "kitchen", Complexity: 1},
	}
}

func TestFetchThenSubmitFlow(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{
		candidates: sampleCandidates(),
		receipt:    domain.SubmissionReceipt{Confidence: 0.9},
	}
	ledger := memory.NewLedgerStore(app.FlatScoreRule)
	service := app.NewAssignmentService(ledger, provider)

	criteria := domain.Criteria{Language: "en", Topic: "kitchen", Complexity: 1}
	task, err := service.FetchTask(ctx, "u1", criteria)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if task.ID != "t1" {
		t.Fatalf("expected t1 first, got %s", task.ID)
	}

	result, err := service.SubmitAnswer(ctx, app.SubmitRequest{
		UserID: "u1", TaskID: "t1", TrackID: "tr1", Solution: "a",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", result.Confidence)
	}
	if result.Score != 1 {
		t.Fatalf("expected score 1, got %d", result.Score)
	}

	task, err = service.FetchTask(ctx, "u1", criteria)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if task.ID != "t2" {
		t.Fatalf("expected t2 after completing t1, got %s", task.ID)
	}

	score, err := service.Score(ctx, "u1")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 1 {
		t.Fatalf("expected exactly one increment, got %d", score)
	}

	history, err := service.History(ctx, "u1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Confidence != 0.9 {
		t.Fatalf("expected one record with confidence 0.9, got %+v", history)
	}
}

func TestFetchNoTaskAvailable(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{candidates: sampleCandidates(), receipt: domain.SubmissionReceipt{Confidence: 0.5}}
	ledger := memory.NewLedgerStore(app.FlatScoreRule)
	service := app.NewAssignmentService(ledger, provider)

	for _, task := range sampleCandidates() {
		if _, err := service.SubmitAnswer(ctx, app.SubmitRequest{
			UserID: "u1", TaskID: task.ID, TrackID: task.TrackID, Solution: "x",
		}); err != nil {
			t.Fatalf("submit %s: %v", task.ID, err)
		}
	}

	_, err := service.FetchTask(ctx, "u1", domain.Criteria{Language: "en"})
	if !errors.Is(err, domain.ErrNoTaskAvailable) {
		t.Fatalf("expected no task available, got %v", err)
	}
}

func TestUpstreamFailureLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{submitErr: domain.ErrUpstreamUnavailable}
	ledger := memory.NewLedgerStore(app.FlatScoreRule)
	service := app.NewAssignmentService(ledger, provider)

	_, err := service.SubmitAnswer(ctx, app.SubmitRequest{
		UserID: "u1", TaskID: "t1", TrackID: "tr1", Solution: "a",
	})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}

	history, _ := service.History(ctx, "u1")
	if len(history) != 0 {
		t.Fatalf("expected empty history after upstream failure, got %d records", len(history))
	}
	completed, _ := ledger.CompletionSet(ctx, "u1")
	if len(completed) != 0 {
		t.Fatalf("expected empty completion set, got %v", completed)
	}
	score, _ := service.Score(ctx, "u1")
	if score != 0 {
		t.Fatalf("expected score 0, got %d", score)
	}
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	service := app.NewAssignmentService(memory.NewLedgerStore(nil), provider)

	cases := []app.SubmitRequest{
		{TaskID: "t1", TrackID: "tr1", Solution: "a"},
		{UserID: "u1", TrackID: "tr1", Solution: "a"},
		{UserID: "u1", TaskID: "t1", Solution: "a"},
		{UserID: "u1", TaskID: "t1", TrackID: "tr1"},
	}
	for _, req := range cases {
		if _, err := service.SubmitAnswer(ctx, req); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Fatalf("expected invalid request for %+v, got %v", req, err)
		}
	}
	if provider.submitCalls != 0 {
		t.Fatalf("validation must reject before any upstream call, got %d calls", provider.submitCalls)
	}
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{receipt: domain.SubmissionReceipt{Confidence: 0.7}}
	service := app.NewAssignmentService(memory.NewLedgerStore(app.FlatScoreRule), provider)

	req := app.SubmitRequest{UserID: "u1", TaskID: "t1", TrackID: "tr1", Solution: "a"}
	if _, err := service.SubmitAnswer(ctx, req); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	_, err := service.SubmitAnswer(ctx, req)
	if !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("expected already completed, got %v", err)
	}
	if provider.submitCalls != 1 {
		t.Fatalf("duplicate must not be forwarded upstream, got %d calls", provider.submitCalls)
	}

	score, _ := service.Score(ctx, "u1")
	if score != 1 {
		t.Fatalf("duplicate must not double-count, got score %d", score)
	}
}

type failingLedger struct {
	app.LedgerStore
	appendErr error
}

func (f *failingLedger) AppendSubmission(context.Context, domain.SubmissionRecord) (int, error) {
	return 0, f.appendErr
}

func TestPartialCommitSurfacedDistinctly(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{receipt: domain.SubmissionReceipt{Confidence: 0.8}}
	ledger := &failingLedger{
		LedgerStore: memory.NewLedgerStore(nil),
		appendErr:   domain.ErrStorageFailure,
	}
	service := app.NewAssignmentService(ledger, provider)

	_, err := service.SubmitAnswer(ctx, app.SubmitRequest{
		UserID: "u1", TaskID: "t1", TrackID: "tr1", Solution: "a",
	})
	var partial *domain.PartialCommitError
	if !errors.As(err, &partial) {
		t.Fatalf("expected partial commit error, got %v", err)
	}
	if partial.Record.TaskID != "t1" {
		t.Fatalf("partial error must carry the record, got %+v", partial.Record)
	}
	if provider.submitCalls != 1 {
		t.Fatalf("expected one upstream call, got %d", provider.submitCalls)
	}
}

func TestUnsupportedCriteriaRejectedBeforeNetwork(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{candidates: sampleCandidates()}
	service := app.NewAssignmentService(memory.NewLedgerStore(nil), provider)

	cases := []domain.Criteria{
		{Language: ""},
		{Language: "english"},
		{Language: "en", Topic: "astrophysics"},
		{Language: "en", Complexity: 99},
	}
	for _, criteria := range cases {
		_, err := service.FetchTask(ctx, "u1", criteria)
		if !errors.Is(err, domain.ErrUnsupportedCriteria) && !errors.Is(err, domain.ErrInvalidRequest) {
			t.Fatalf("expected rejection for %+v, got %v", criteria, err)
		}
	}
	if provider.fetchCalls != 0 {
		t.Fatalf("criteria validation must reject before any network call, got %d calls", provider.fetchCalls)
	}
}

func TestCriteriaDefaultsFromProfile(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{candidates: sampleCandidates()}
	profiles := memory.NewStaticProfileSource(map[string]domain.Profile{
		"u1": {UserID: "u1", Languages: []string{"en"}, Expertise: []string{"travel"}, ComplexityLevel: 2},
	})
	service := app.NewAssignmentService(memory.NewLedgerStore(nil), provider, app.WithProfiles(profiles))

	if _, err := service.FetchTask(ctx, "u1", domain.Criteria{}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	want := domain.Criteria{Language: "en", Topic: "travel", Complexity: 2}
	if provider.lastCriteria != want {
		t.Fatalf("expected profile-derived criteria %+v, got %+v", want, provider.lastCriteria)
	}

	// Explicit criteria must pass through unmodified.
	explicit := domain.Criteria{Language: "en", Topic: "kitchen", Complexity: 1}
	if _, err := service.FetchTask(ctx, "u1", explicit); err != nil {
		t.Fatalf("fetch explicit: %v", err)
	}
	if provider.lastCriteria != explicit {
		t.Fatalf("expected explicit criteria %+v, got %+v", explicit, provider.lastCriteria)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{receipt: domain.SubmissionReceipt{Confidence: 0.9}}
	service := app.NewAssignmentService(memory.NewLedgerStore(app.FlatScoreRule), provider)

	ch, cancel, err := service.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	<-ch // initial snapshot

	if _, err := service.SubmitAnswer(ctx, app.SubmitRequest{
		UserID: "u1", TaskID: "t1", TrackID: "tr1", Solution: "a",
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case update := <-ch:
		if len(update.Entries) != 1 || update.Entries[0].Score != 1 {
			t.Fatalf("expected u1 with score 1, got %+v", update.Entries)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for leaderboard update")
	}
}

func TestConcurrentSubmissionsSameUserDistinctTasks(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{receipt: domain.SubmissionReceipt{Confidence: 0.5}}
	service := app.NewAssignmentService(memory.NewLedgerStore(app.FlatScoreRule), provider)

	const n = 20
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := service.SubmitAnswer(ctx, app.SubmitRequest{
				UserID:   "u1",
				TaskID:   "t" + string(rune('a'+i)),
				TrackID:  "tr",
				Solution: "x",
			})
			done <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent submit: %v", err)
		}
	}

	score, _ := service.Score(ctx, "u1")
	if score != n {
		t.Fatalf("lost update: expected score %d, got %d", n, score)
	}
	history, _ := service.History(ctx, "u1")
	if len(history) != n {
		t.Fatalf("expected %d history records, got %d", n, len(history))
	}
}
