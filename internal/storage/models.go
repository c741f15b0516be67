package storage

import "time"

// Session is one harvest run as recorded in the ledger
type Session struct {
	SessionID         string
	PageURL           string
	DestDir           string
	StartedAt         time.Time
	FinishedAt        *time.Time
	TotalLinks        int
	Succeeded         int
	Failed            int
	Cancelled         int
	Skipped           int
	Duplicates        int
	Resumed           int
	TotalBytes        int64
	TerminationReason string
}

// OutcomeRecord is the stored form of one download outcome
type OutcomeRecord struct {
	SessionID     string
	URL           string
	Status        string
	BytesWritten  int64
	ErrorKind     string
	Error         string
	Path          string
	ElapsedMillis int64
	Attempts      int
	RecordedAt    time.Time
}
