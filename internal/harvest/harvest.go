package harvest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alvmarrod/pdf-harvest/internal/config"
	"github.com/alvmarrod/pdf-harvest/internal/crawler"
	"github.com/alvmarrod/pdf-harvest/internal/fetch"
	"github.com/alvmarrod/pdf-harvest/internal/model"
	"github.com/alvmarrod/pdf-harvest/internal/report"
	"github.com/alvmarrod/pdf-harvest/internal/scheduler"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Termination reasons stored with the session
const (
	ReasonCompleted       = "completed"
	ReasonCancelled       = "cancelled"
	ReasonPageError       = "page_error"
	ReasonFilesystemError = "filesystem_error"
)

// Options configures a harvest session
type Options struct {
	Concurrency   int
	MaxAttempts   int
	Overwrite     bool
	Timeout       time.Duration
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	MaxRetryAfter time.Duration
	MaxPageSize   int
	MaxPerHost    int
	RateLimit     float64
	Extension     string
	UserAgent     string
	Resume        bool
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	def := fetch.DefaultOptions()
	return Options{
		Concurrency:   scheduler.DefaultConcurrency,
		MaxAttempts:   def.MaxAttempts,
		Timeout:       def.Timeout,
		BaseBackoff:   def.BaseBackoff,
		MaxBackoff:    def.MaxBackoff,
		MaxRetryAfter: def.MaxRetryAfter,
		MaxPageSize:   crawler.DefaultMaxPageSize,
		Extension:     crawler.DefaultExtension,
	}
}

// OptionsFromConfig converts a loaded configuration into session options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Concurrency:   cfg.ConcurrentWorkers,
		MaxAttempts:   cfg.MaxAttempts,
		Overwrite:     cfg.Overwrite,
		Timeout:       time.Duration(cfg.RequestTimeoutMs) * time.Millisecond,
		BaseBackoff:   time.Duration(cfg.RetryDelayMs) * time.Millisecond,
		MaxBackoff:    time.Duration(cfg.MaxRetryDelayMs) * time.Millisecond,
		MaxRetryAfter: time.Duration(cfg.MaxRetryAfterMs) * time.Millisecond,
		MaxPageSize:   cfg.MaxPageBytes,
		MaxPerHost:    cfg.MaxPerHost,
		RateLimit:     cfg.RateLimitPerSecond,
		Extension:     cfg.Extension,
		UserAgent:     cfg.UserAgent,
		Resume:        cfg.Resume,
	}
}

// Ledger persists sessions and outcomes. *storage.Storage implements it.
type Ledger interface {
	BeginSession(sessionID, pageURL, destDir string, startedAt time.Time) error
	RecordOutcome(sessionID string, outcome model.DownloadOutcome) error
	FinishSession(sessionID string, summary model.SessionSummary, reason string) error
	CompletedDownloads(destDir string) (map[string]string, error)
}

// Harvester runs one harvest session: extract, deduplicate, download, report
type Harvester struct {
	opts      Options
	ledger    Ledger
	report    *report.Report
	sessionID string

	mu     sync.Mutex
	used   bool
	reason string
}

// New creates a harvester. ledger may be nil, in which case nothing is
// persisted and resume is unavailable.
func New(opts Options, ledger Ledger) *Harvester {
	def := DefaultOptions()
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.Extension == "" {
		opts.Extension = def.Extension
	}

	return &Harvester{
		opts:      opts,
		ledger:    ledger,
		report:    report.New(),
		sessionID: uuid.NewString(),
	}
}

// Harvest downloads every linked resource on pageURL into destDir using a
// fresh harvester without a ledger
func Harvest(ctx context.Context, pageURL, destDir string, opts Options) (model.SessionSummary, error) {
	return New(opts, nil).Harvest(ctx, pageURL, destDir)
}

// Report exposes the live session report (for progress logging)
func (h *Harvester) Report() *report.Report {
	return h.report
}

// SessionID returns the ledger key of this session
func (h *Harvester) SessionID() string {
	return h.sessionID
}

// TerminationReason returns why the session ended, or "" while it runs
func (h *Harvester) TerminationReason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

// Harvest fetches pageURL, downloads every matching link into destDir and
// returns the session summary.
//
// Only a failure to prepare destDir or to obtain the page is returned as an
// error; individual download failures are reported in the summary. If ctx
// is cancelled the partial summary is returned with an error wrapping
// model.ErrCancelled.
func (h *Harvester) Harvest(ctx context.Context, pageURL, destDir string) (model.SessionSummary, error) {
	h.mu.Lock()
	if h.used {
		h.mu.Unlock()
		return model.SessionSummary{}, errors.New("harvester already used; create a new one per session")
	}
	h.used = true
	h.mu.Unlock()

	log := logrus.WithField("session", h.sessionID)

	absDir, err := filepath.Abs(destDir)
	if err != nil {
		absDir = destDir
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return h.finish(fmt.Errorf("%w: create %s: %v", model.ErrFilesystem, absDir, err), ReasonFilesystemError, false)
	}

	started := h.report.Snapshot().StartTime
	if h.ledger != nil {
		if err := h.ledger.BeginSession(h.sessionID, pageURL, absDir, started); err != nil {
			log.Warnf("Failed to record session start: %v", err)
		}
	}

	log.Infof("Harvesting %s into %s", pageURL, absDir)

	extractor := crawler.NewExtractor(crawler.Options{
		Extension:   h.opts.Extension,
		Timeout:     h.opts.Timeout,
		UserAgent:   h.opts.UserAgent,
		MaxPageSize: h.opts.MaxPageSize,
	})
	extraction, err := extractor.Extract(ctx, pageURL)
	if err != nil {
		reason := ReasonPageError
		if errors.Is(err, model.ErrCancelled) {
			reason = ReasonCancelled
		}
		return h.finish(err, reason, true)
	}

	for _, skipped := range extraction.Skipped {
		h.report.RecordSkip(skipped)
	}

	links := extraction.URLs()
	unique := crawler.Dedupe(links)
	h.report.AddDuplicates(len(links) - len(unique))
	h.report.SetTotalLinks(len(unique))

	if dups := len(links) - len(unique); dups > 0 {
		log.Infof("Dropped %d duplicate links", dups)
	}

	pending := h.filterResumed(unique, absDir)

	worker := fetch.NewWorker(fetch.Options{
		MaxAttempts:   h.opts.MaxAttempts,
		BaseBackoff:   h.opts.BaseBackoff,
		MaxBackoff:    h.opts.MaxBackoff,
		MaxRetryAfter: h.opts.MaxRetryAfter,
		Timeout:       h.opts.Timeout,
		UserAgent:     h.opts.UserAgent,
		Overwrite:     h.opts.Overwrite,
		MaxPerHost:    h.opts.MaxPerHost,
		RateLimit:     h.opts.RateLimit,
	})

	sched := scheduler.NewScheduler(worker, h.opts.Concurrency)
	sched.OnOutcome(func(outcome model.DownloadOutcome) {
		h.report.Record(outcome)
		if h.ledger == nil {
			return
		}
		if err := h.ledger.RecordOutcome(h.sessionID, outcome); err != nil {
			log.Warnf("Failed to record outcome for %s: %v", outcome.URL, err)
		}
	})

	sched.Run(ctx, pending, absDir)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return h.finish(fmt.Errorf("%w: %v", model.ErrCancelled, ctxErr), ReasonCancelled, true)
	}
	return h.finish(nil, ReasonCompleted, true)
}

// filterResumed drops URLs a previous session already stored in destDir
// whose file is still present
func (h *Harvester) filterResumed(urls []string, destDir string) []string {
	if !h.opts.Resume || h.ledger == nil {
		return urls
	}

	completed, err := h.ledger.CompletedDownloads(destDir)
	if err != nil {
		logrus.Warnf("Resume unavailable, downloading everything: %v", err)
		return urls
	}

	pending := make([]string, 0, len(urls))
	for _, u := range urls {
		path, ok := completed[u]
		if ok {
			if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
				logrus.Debugf("Already downloaded %s to %s", u, path)
				h.report.RecordResumed(u)
				continue
			}
		}
		pending = append(pending, u)
	}

	if n := len(urls) - len(pending); n > 0 {
		logrus.Infof("Resuming: %d of %d files already present", n, len(urls))
	}
	return pending
}

// finish freezes the report, closes the ledger session and returns the summary
func (h *Harvester) finish(err error, reason string, begun bool) (model.SessionSummary, error) {
	summary := h.report.Finalize()

	h.mu.Lock()
	h.reason = reason
	h.mu.Unlock()

	if begun && h.ledger != nil {
		if ferr := h.ledger.FinishSession(h.sessionID, summary, reason); ferr != nil {
			logrus.Warnf("Failed to record session end: %v", ferr)
		}
	}

	if err != nil {
		logrus.WithField("session", h.sessionID).Warnf("Harvest ended (%s): %v", reason, err)
	} else {
		logrus.WithField("session", h.sessionID).Infof("Harvest complete: %d ok, %d failed, %d resumed",
			summary.Succeeded, summary.Failed, summary.Resumed)
	}
	return summary, err
}
