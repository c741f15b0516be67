package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/alvmarrod/pdf-harvest/internal/fetch"
	"github.com/alvmarrod/pdf-harvest/internal/model"
	"github.com/sirupsen/logrus"
)

// DefaultConcurrency is the worker count used when none is configured
const DefaultConcurrency = 4

// Fetcher performs one download and reports its terminal outcome
type Fetcher interface {
	Fetch(ctx context.Context, task model.DownloadTask) model.DownloadOutcome
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, task model.DownloadTask) model.DownloadOutcome

// Fetch calls f(ctx, task)
func (f FetcherFunc) Fetch(ctx context.Context, task model.DownloadTask) model.DownloadOutcome {
	return f(ctx, task)
}

// Scheduler dispatches URLs to a bounded pool of fetch workers
type Scheduler struct {
	fetcher   Fetcher
	limit     int
	onOutcome func(model.DownloadOutcome)

	mu    sync.Mutex
	queue *Queue
}

// NewScheduler creates a scheduler running at most limit fetches at once
func NewScheduler(fetcher Fetcher, limit int) *Scheduler {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &Scheduler{
		fetcher: fetcher,
		limit:   limit,
	}
}

// OnOutcome registers a callback invoked once per terminal outcome.
// It runs on worker goroutines and must be safe for concurrent use.
func (s *Scheduler) OnOutcome(fn func(model.DownloadOutcome)) {
	s.onOutcome = fn
}

// Run downloads every URL into destDir and returns one outcome per unique URL.
//
// Outcomes are in completion order, not input order; correlate them by URL.
// A failed URL never stops the run. When ctx is cancelled, URLs not yet
// dispatched are reported as cancelled without being attempted, and in-flight
// fetches abort through the same context.
func (s *Scheduler) Run(ctx context.Context, urls []string, destDir string) []model.DownloadOutcome {
	q := NewQueue()
	for _, url := range urls {
		if !q.Push(url) {
			logrus.Debugf("Skipping duplicate URL %s", url)
		}
	}
	q.Stop()

	s.mu.Lock()
	s.queue = q
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		if n := len(q.CancelPending()); n > 0 {
			logrus.Infof("Cancellation requested: %d pending downloads cancelled", n)
		}
	})
	defer stop()

	var (
		mu       sync.Mutex
		outcomes = make([]model.DownloadOutcome, 0, q.Size())
		recorded = make(map[string]bool, q.Size())
	)

	record := func(outcome model.DownloadOutcome) {
		mu.Lock()
		if recorded[outcome.URL] {
			mu.Unlock()
			return
		}
		recorded[outcome.URL] = true
		outcomes = append(outcomes, outcome)
		mu.Unlock()

		if s.onOutcome != nil {
			s.onOutcome(outcome)
		}
	}

	workers := min(s.limit, q.Size())
	logrus.Infof("Starting %d download workers for %d URLs", workers, q.Size())

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.worker(ctx, id, q, destDir, record)
		}(i + 1)
	}
	wg.Wait()

	// Anything still pending was cut off by cancellation
	q.CancelPending()
	for _, url := range q.Order() {
		mu.Lock()
		done := recorded[url]
		mu.Unlock()
		if done {
			continue
		}
		record(model.DownloadOutcome{
			URL:       url,
			Status:    model.StatusCancelled,
			ErrorKind: model.KindCancelled,
			Err:       fmt.Errorf("%w: not started", model.ErrCancelled),
		})
	}

	return outcomes
}

// worker processes queue entries until the queue drains or ctx is cancelled
func (s *Scheduler) worker(ctx context.Context, id int, q *Queue, destDir string, record func(model.DownloadOutcome)) {
	logrus.Debugf("Worker %d started", id)

	for {
		if ctx.Err() != nil {
			logrus.Debugf("Worker %d received stop signal", id)
			return
		}

		url, ok := q.Pop()
		if !ok {
			logrus.Debugf("Worker %d: queue drained, exiting", id)
			return
		}

		task := model.DownloadTask{
			URL:             url,
			DestinationPath: filepath.Join(destDir, fetch.FileName(url)),
			Attempt:         1,
		}

		logrus.Debugf("Worker %d: fetching %s", id, url)
		outcome := s.fetcher.Fetch(ctx, task)
		outcome.URL = url
		if !outcome.Status.IsTerminal() {
			if outcome.Err == nil {
				outcome.Err = fmt.Errorf("%w: fetcher returned status %q", model.ErrFetch, outcome.Status)
			}
			outcome.Status = model.StatusFailed
			outcome.ErrorKind = model.KindOf(outcome.Err)
		}

		q.Finish(url, stateFor(outcome.Status))
		record(outcome)

		switch outcome.Status {
		case model.StatusSuccess:
			logrus.Infof("Worker %d: downloaded %s (%d bytes, %d ms)", id, url, outcome.BytesWritten, outcome.ElapsedMillis)
		case model.StatusCancelled:
			logrus.Infof("Worker %d: cancelled %s", id, url)
		default:
			logrus.Warnf("Worker %d: failed %s after %d attempt(s): %v", id, url, outcome.Attempts, outcome.Err)
		}
	}
}

// States returns a snapshot of URL states from the most recent Run
func (s *Scheduler) States() map[string]State {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()

	if q == nil {
		return map[string]State{}
	}
	return q.States()
}

func stateFor(status model.Status) State {
	switch status {
	case model.StatusSuccess:
		return StateSucceeded
	case model.StatusCancelled:
		return StateCancelled
	default:
		return StateFailed
	}
}
