package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alvmarrod/pdf-harvest/internal/model"
	"github.com/sirupsen/logrus"
)

// Options configures a fetch worker.
type Options struct {
	// MaxAttempts is the total number of attempts per task.
	// Default: 3
	MaxAttempts int

	// BaseBackoff is the delay before the first retry; it doubles per attempt.
	// Default: 500ms
	BaseBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	// Default: 30s
	MaxBackoff time.Duration

	// MaxRetryAfter caps a server supplied Retry-After hint.
	// Default: 60s
	MaxRetryAfter time.Duration

	// Timeout bounds a single attempt, body included.
	// Default: 30s
	Timeout time.Duration

	// UserAgent is sent with every request when set.
	UserAgent string

	// Overwrite truncates files left by an earlier run instead of
	// choosing a "name (n).ext" variant.
	Overwrite bool

	// MaxPerHost caps concurrent requests per host. Zero means unlimited.
	MaxPerHost int

	// RateLimit caps requests per second per host. Zero means unlimited.
	RateLimit float64
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:   3,
		BaseBackoff:   500 * time.Millisecond,
		MaxBackoff:    30 * time.Second,
		MaxRetryAfter: 60 * time.Second,
		Timeout:       30 * time.Second,
	}
}

func (o *Options) applyDefaults() {
	def := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = def.BaseBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = def.MaxBackoff
	}
	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = o.BaseBackoff
	}
	if o.MaxRetryAfter <= 0 {
		o.MaxRetryAfter = def.MaxRetryAfter
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
}

// Worker downloads single resources to disk. It is safe for concurrent use;
// all workers of a session share one Worker so that name reservations and
// host limits are session-wide.
type Worker struct {
	client *http.Client
	opts   Options
	names  *NameReserver
	hosts  *HostLimiter
}

// NewWorker creates a worker with its own HTTP client.
func NewWorker(opts Options) *Worker {
	opts.applyDefaults()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	transport.DisableCompression = true // keep bytes identical to the source

	return &Worker{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts:  opts,
		names: NewNameReserver(opts.Overwrite),
		hosts: NewHostLimiter(opts.MaxPerHost, opts.RateLimit),
	}
}

// Options returns the effective options after defaults.
func (w *Worker) Options() Options {
	return w.opts
}

// Fetch downloads task.URL to task.DestinationPath, or to a disambiguated
// variant of it, retrying transient failures. It always returns exactly one
// terminal outcome and never leaves a partial file behind on failure.
func (w *Worker) Fetch(ctx context.Context, task model.DownloadTask) model.DownloadOutcome {
	start := time.Now()
	if task.Attempt < 1 {
		task.Attempt = 1
	}

	log := logrus.WithField("url", task.URL)
	dl := &download{candidate: task.DestinationPath}
	outcome := model.DownloadOutcome{URL: task.URL}

	var (
		lastErr error
		delay   time.Duration
	)

	for first := task.Attempt; task.Attempt <= w.opts.MaxAttempts; task.Attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = cancelled(err)
			break
		}

		if task.Attempt > first {
			log.Debugf("Waiting %v before attempt %d/%d", delay, task.Attempt, w.opts.MaxAttempts)
			if err := wait(ctx, delay); err != nil {
				lastErr = cancelled(err)
				break
			}
		}

		outcome.Attempts++
		n, err := w.attempt(ctx, task.URL, dl)
		if err == nil {
			if err := dl.finish(); err != nil {
				lastErr = err
				break
			}
			outcome.Status = model.StatusSuccess
			outcome.BytesWritten = n
			outcome.Path = dl.path
			outcome.ElapsedMillis = time.Since(start).Milliseconds()
			log.Debugf("Downloaded %d bytes to %s in %d attempt(s)", n, dl.path, outcome.Attempts)
			return outcome
		}

		dl.reset()
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			lastErr = cancelled(ctxErr)
			break
		}

		retry, hint, hinted := retryable(err)
		if !retry {
			log.Debugf("Attempt %d failed permanently: %v", task.Attempt, err)
			break
		}

		delay = w.backoff(task.Attempt)
		if hinted {
			delay = min(hint, w.opts.MaxRetryAfter)
		}

		if task.Attempt < w.opts.MaxAttempts {
			log.Warnf("Attempt %d/%d failed: %v", task.Attempt, w.opts.MaxAttempts, err)
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %s: no attempts left (attempt %d of %d)", model.ErrFetch, task.URL, task.Attempt, w.opts.MaxAttempts)
	}

	dl.discard(w.names)

	outcome.Status = model.StatusFailed
	outcome.ErrorKind = model.KindOf(lastErr)
	if outcome.ErrorKind == model.KindCancelled {
		outcome.Status = model.StatusCancelled
	}
	outcome.Err = lastErr
	outcome.ElapsedMillis = time.Since(start).Milliseconds()

	return outcome
}

// attempt performs one GET and streams a successful body into the reserved file.
func (w *Worker) attempt(ctx context.Context, rawURL string, dl *download) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", model.ErrInvalidURL, rawURL, err)
	}
	if (req.URL.Scheme != "http" && req.URL.Scheme != "https") || req.URL.Host == "" {
		return 0, fmt.Errorf("%w: %s: not an absolute http(s) URL", model.ErrInvalidURL, rawURL)
	}
	if w.opts.UserAgent != "" {
		req.Header.Set("User-Agent", w.opts.UserAgent)
	}

	release, err := w.hosts.Acquire(ctx, req.URL.Host)
	if err != nil {
		return 0, cancelled(err)
	}
	defer release()

	resp, err := w.client.Do(req)
	if err != nil {
		fetchErr := fmt.Errorf("%w: %s: %v", model.ErrFetch, rawURL, err)
		if transient(err) {
			return 0, &retryableError{err: fetchErr}
		}
		return 0, fetchErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &model.StatusError{URL: rawURL, Code: resp.StatusCode}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			after, ok := parseRetryAfter(resp.Header.Get("Retry-After"), w.opts.MaxRetryAfter)
			if resp.StatusCode == http.StatusTooManyRequests && ok {
				statusErr.RetryAfter = after
				return 0, &retryableError{err: statusErr, after: after, hinted: true}
			}
			return 0, &retryableError{err: statusErr}
		}
		return 0, statusErr
	}

	f, err := dl.prepare(w.names)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(fileWriter{f}, resp.Body)
	if err != nil {
		if errors.Is(err, model.ErrFilesystem) {
			return n, err
		}
		return n, &retryableError{err: fmt.Errorf("%w: %s: reading body after %d bytes: %v", model.ErrFetch, rawURL, n, err)}
	}

	return n, nil
}

// backoff returns base * 2^(attempt-1), capped at MaxBackoff.
func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.opts.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.opts.MaxBackoff {
			return w.opts.MaxBackoff
		}
	}
	return min(delay, w.opts.MaxBackoff)
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func cancelled(err error) error {
	if errors.Is(err, model.ErrCancelled) {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrCancelled, err)
}

// retryableError marks a transient failure. after carries a Retry-After hint.
type retryableError struct {
	err    error
	after  time.Duration
	hinted bool
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func retryable(err error) (bool, time.Duration, bool) {
	var re *retryableError
	if errors.As(err, &re) {
		return true, re.after, re.hinted
	}
	return false, 0, false
}

// transient reports whether a request error is worth retrying: timeouts
// and connections that were refused, reset or cut short. TLS, redirect and
// protocol failures are permanent.
func transient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// parseRetryAfter accepts delta-seconds or an HTTP-date. The result is
// capped at limit.
func parseRetryAfter(value string, limit time.Duration) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.ParseUint(value, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		if err != nil || secs > uint64(limit/time.Second) {
			return limit, true
		}
		return min(time.Duration(secs)*time.Second, limit), true
	}

	if t, err := http.ParseTime(value); err == nil {
		return min(max(time.Until(t), 0), limit), true
	}

	return 0, false
}

// fileWriter tags write failures as filesystem errors so they are not retried.
type fileWriter struct {
	f *os.File
}

func (w fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		err = fmt.Errorf("%w: write %s: %v", model.ErrFilesystem, w.f.Name(), err)
	}
	return n, err
}

// download tracks one task across its attempts. Bytes go to a staging
// file next to the reserved path and are renamed into place on success.
type download struct {
	candidate string
	path      string
	file      *os.File
}

// prepare returns the staging file, empty and positioned at offset 0.
func (d *download) prepare(names *NameReserver) (*os.File, error) {
	if d.path == "" {
		path, err := names.Reserve(d.candidate)
		if err != nil {
			return nil, err
		}
		d.path = path
	}

	if d.file == nil {
		f, err := os.OpenFile(partPath(d.path), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", model.ErrFilesystem, partPath(d.path), err)
		}
		d.file = f
		return f, nil
	}

	if err := d.rewind(); err != nil {
		return nil, err
	}
	return d.file, nil
}

func (d *download) rewind() error {
	if err := d.file.Truncate(0); err != nil {
		return fmt.Errorf("%w: truncate %s: %v", model.ErrFilesystem, d.file.Name(), err)
	}
	if _, err := d.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek %s: %v", model.ErrFilesystem, d.file.Name(), err)
	}
	return nil
}

// reset drops bytes written by a failed attempt.
func (d *download) reset() {
	if d.file == nil {
		return
	}
	if err := d.rewind(); err != nil {
		logrus.Warnf("Failed to discard partial file: %v", err)
	}
}

// finish closes the staging file and moves it over the reserved path.
func (d *download) finish() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	if err != nil {
		return fmt.Errorf("%w: close %s: %v", model.ErrFilesystem, partPath(d.path), err)
	}
	if err := os.Rename(partPath(d.path), d.path); err != nil {
		return fmt.Errorf("%w: rename %s: %v", model.ErrFilesystem, partPath(d.path), err)
	}
	return nil
}

// discard removes the staging file and gives up the reserved name.
func (d *download) discard(names *NameReserver) {
	if d.path == "" {
		return
	}
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
	if err := os.Remove(partPath(d.path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.Warnf("Failed to remove partial file %s: %v", partPath(d.path), err)
	}
	if err := names.Abandon(d.path); err != nil {
		logrus.Warnf("Failed to release %s: %v", d.path, err)
	}
	d.path = ""
}
