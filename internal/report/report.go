package report

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alvmarrod/pdf-harvest/internal/model"
)

// Report aggregates download outcomes into a session summary
type Report struct {
	mu        sync.Mutex
	data      model.SessionSummary
	outcomes  []model.DownloadOutcome
	recorded  map[string]bool
	skipped   []model.SkippedLink
	finalized bool
}

// New creates a new session report
func New() *Report {
	return &Report{
		data: model.SessionSummary{
			StartTime: time.Now(),
		},
		recorded: make(map[string]bool),
	}
}

// SetTotalLinks sets the number of unique links the session will handle
func (r *Report) SetTotalLinks(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.TotalLinks = n
}

// AddDuplicates counts links dropped by deduplication
func (r *Report) AddDuplicates(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.Duplicates += n
}

// RecordSkip records a link dropped because it could not be resolved
func (r *Report) RecordSkip(link model.SkippedLink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.skipped = append(r.skipped, link)
	r.data.Skipped++
}

// RecordResumed counts a URL satisfied by a previous session
func (r *Report) RecordResumed(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized || r.recorded[url] {
		return
	}
	r.recorded[url] = true
	r.data.Resumed++
}

// Record adds a terminal outcome. Only the first outcome per URL counts.
func (r *Report) Record(outcome model.DownloadOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || r.recorded[outcome.URL] {
		return
	}
	r.recorded[outcome.URL] = true
	r.outcomes = append(r.outcomes, outcome)

	switch outcome.Status {
	case model.StatusSuccess:
		r.data.Succeeded++
		r.data.TotalBytes += outcome.BytesWritten
	case model.StatusCancelled:
		r.data.Cancelled++
	default:
		r.data.Failed++
	}
	r.data.TotalFetchTime += time.Duration(outcome.ElapsedMillis) * time.Millisecond
}

// Finalize freezes the report and returns the summary.
// Later calls return the same summary.
func (r *Report) Finalize() model.SessionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.finalized {
		r.finalized = true
		r.data.EndTime = time.Now()
		r.data.TotalElapsed = r.data.EndTime.Sub(r.data.StartTime)
	}
	return r.data
}

// Snapshot returns a copy of the current summary
func (r *Report) Snapshot() model.SessionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.data
	if !r.finalized {
		snapshot.TotalElapsed = time.Since(snapshot.StartTime)
	}
	return snapshot
}

// Failures returns the failed outcomes so callers can report them individually
func (r *Report) Failures() []model.DownloadOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failed []model.DownloadOutcome
	for _, o := range r.outcomes {
		if o.Status == model.StatusFailed {
			failed = append(failed, o)
		}
	}
	return failed
}

// Skipped returns the links dropped during normalization
func (r *Report) Skipped() []model.SkippedLink {
	r.mu.Lock()
	defer r.mu.Unlock()

	skipped := make([]model.SkippedLink, len(r.skipped))
	copy(skipped, r.skipped)
	return skipped
}

// export is the JSON layout written by WriteToFile
type export struct {
	Summary           model.SessionSummary `json:"summary"`
	TerminationReason string               `json:"termination_reason"`
	Outcomes          []outcomeExport      `json:"outcomes"`
	Skipped           []model.SkippedLink  `json:"skipped,omitempty"`
}

type outcomeExport struct {
	model.DownloadOutcome
	Error string `json:"error,omitempty"`
}

// WriteToFile exports the summary and every outcome to a JSON file
func (r *Report) WriteToFile(path, reason string) error {
	summary := r.Finalize()

	r.mu.Lock()
	out := export{
		Summary:           summary,
		TerminationReason: reason,
		Outcomes:          make([]outcomeExport, 0, len(r.outcomes)),
		Skipped:           r.skipped,
	}
	for _, o := range r.outcomes {
		out.Outcomes = append(out.Outcomes, outcomeExport{DownloadOutcome: o, Error: o.ErrorMessage()})
	}
	r.mu.Unlock()

	jsonData, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}

	return nil
}

// LogProgress returns a one-line progress string (for periodic updates)
func (r *Report) LogProgress() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	done := r.data.Succeeded + r.data.Failed + r.data.Cancelled + r.data.Resumed
	return fmt.Sprintf("Files: %d/%d done | %d ok, %d failed, %d cancelled | %s written",
		done,
		r.data.TotalLinks,
		r.data.Succeeded,
		r.data.Failed,
		r.data.Cancelled,
		FormatBytes(r.data.TotalBytes),
	)
}

// FormatBytes formats bytes as a human-readable string
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
