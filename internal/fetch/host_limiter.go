package fetch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// HostLimiter enforces per-host concurrency and request rate limits
type HostLimiter struct {
	maxPerHost int
	perSecond  float64
	mu         sync.Mutex
	// Map: host -> limiter, created on first use
	semaphores map[string]*semaphore.Weighted
	limiters   map[string]*rate.Limiter
}

// NewHostLimiter creates a new host limiter. A zero maxPerHost or perSecond
// disables that limit.
func NewHostLimiter(maxPerHost int, perSecond float64) *HostLimiter {
	return &HostLimiter{
		maxPerHost: maxPerHost,
		perSecond:  perSecond,
		semaphores: make(map[string]*semaphore.Weighted),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Acquire blocks until host has a free slot and its rate allows a request.
// The returned release func must be called once the request is done.
func (hl *HostLimiter) Acquire(ctx context.Context, host string) (func(), error) {
	sem, limiter := hl.get(host)

	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return func() {}, err
		}
	}

	release := func() {
		if sem != nil {
			sem.Release(1)
		}
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			release()
			return func() {}, err
		}
	}

	return release, nil
}

func (hl *HostLimiter) get(host string) (*semaphore.Weighted, *rate.Limiter) {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	var sem *semaphore.Weighted
	if hl.maxPerHost > 0 {
		sem = hl.semaphores[host]
		if sem == nil {
			sem = semaphore.NewWeighted(int64(hl.maxPerHost))
			hl.semaphores[host] = sem
		}
	}

	var limiter *rate.Limiter
	if hl.perSecond > 0 {
		limiter = hl.limiters[host]
		if limiter == nil {
			limiter = rate.NewLimiter(rate.Limit(hl.perSecond), 1)
			hl.limiters[host] = limiter
		}
	}

	return sem, limiter
}

// hostCount returns the number of hosts with registered limits
func (hl *HostLimiter) hostCount() int {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	hosts := make(map[string]bool, len(hl.semaphores)+len(hl.limiters))
	for h := range hl.semaphores {
		hosts[h] = true
	}
	for h := range hl.limiters {
		hosts[h] = true
	}
	return len(hosts)
}
