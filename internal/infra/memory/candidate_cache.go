package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"crowdlabel-service/internal/app"
	"crowdlabel-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// CandidateCache wraps a TaskProvider and caches candidate lists per
// criteria with a TTL, coalescing concurrent misses through singleflight.
// SubmitSolution passes straight through.
type CandidateCache struct {
	provider app.TaskProvider
	ttl      time.Duration
	clock    func() time.Time
	sf       singleflight.Group
	rnd      *rand.Rand
	rndMu    sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedCandidates
}

type cachedCandidates struct {
	tasks     []domain.Task
	expiresAt time.Time
}

func NewCandidateCache(provider app.TaskProvider, ttl time.Duration) *CandidateCache {
	return &CandidateCache{
		provider: provider,
		ttl:      ttl,
		clock:    time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:    make(map[string]cachedCandidates),
	}
}

func (c *CandidateCache) FetchCandidates(ctx context.Context, criteria domain.Criteria) ([]domain.Task, error) {
	key := cacheKey(criteria)
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[key]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.tasks, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[key]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.tasks, nil
		}
		c.mu.RUnlock()

		tasks, err := c.provider.FetchCandidates(ctx, criteria)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[key] = cachedCandidates{tasks: tasks, expiresAt: now.Add(c.ttlWithJitter())}
		c.mu.Unlock()
		return tasks, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Task), nil
}

func (c *CandidateCache) SubmitSolution(ctx context.Context, taskID, trackID, solution string) (domain.SubmissionReceipt, error) {
	return c.provider.SubmitSolution(ctx, taskID, trackID, solution)
}

func cacheKey(criteria domain.Criteria) string {
	return criteria.Language + "|" + criteria.Topic + "|" + strconv.Itoa(criteria.Complexity)
}

func (c *CandidateCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
