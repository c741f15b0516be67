package model

import "time"

// ResourceLink is a hyperlink target discovered on the harvested page
type ResourceLink struct {
	RawHref     string
	ResolvedURL string
}

// SkippedLink records an href that looked like a target but could not be resolved
type SkippedLink struct {
	RawHref string `json:"raw_href"`
	Reason  string `json:"reason"`
}

// DownloadTask is a single unit of work handed to a fetch worker
type DownloadTask struct {
	URL             string
	DestinationPath string
	Attempt         int
}

// DownloadOutcome is the terminal result of one DownloadTask
type DownloadOutcome struct {
	URL           string    `json:"url"`
	Status        Status    `json:"status"`
	BytesWritten  int64     `json:"bytes_written"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	Err           error     `json:"-"`
	ElapsedMillis int64     `json:"elapsed_ms"`
	Path          string    `json:"path,omitempty"`
	Attempts      int       `json:"attempts"`
}

// ErrorMessage returns the recorded error text, or "" on success
func (o DownloadOutcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// SessionSummary aggregates all outcomes of one harvest session
type SessionSummary struct {
	TotalLinks     int           `json:"total_links"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	Cancelled      int           `json:"cancelled"`
	Skipped        int           `json:"skipped"`
	Duplicates     int           `json:"duplicates"`
	Resumed        int           `json:"resumed"`
	TotalBytes     int64         `json:"total_bytes"`
	TotalElapsed   time.Duration `json:"total_elapsed"`
	TotalFetchTime time.Duration `json:"total_fetch_time"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
}

// OutcomesByURL indexes outcomes by their URL. Outcomes complete out of
// input order, so callers correlate through this map.
func OutcomesByURL(outcomes []DownloadOutcome) map[string]DownloadOutcome {
	byURL := make(map[string]DownloadOutcome, len(outcomes))
	for _, o := range outcomes {
		byURL[o.URL] = o
	}
	return byURL
}
