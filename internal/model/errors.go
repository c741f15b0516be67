package model

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies a failure for reporting.
type ErrorKind string

const (
	KindFetch      ErrorKind = "FetchError"
	KindParse      ErrorKind = "ParseError"
	KindInvalidURL ErrorKind = "InvalidURLError"
	KindFilesystem ErrorKind = "FilesystemError"
	KindCancelled  ErrorKind = "CancelledError"
)

// Sentinel errors, one per kind. Concrete errors wrap them with %w.
var (
	ErrFetch      = errors.New("fetch error")
	ErrParse      = errors.New("parse error")
	ErrInvalidURL = errors.New("invalid url")
	ErrFilesystem = errors.New("filesystem error")
	ErrCancelled  = errors.New("cancelled")
)

// StatusError is returned when a server answers with a non-success status.
type StatusError struct {
	URL        string
	Code       int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch error: %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Unwrap() error {
	return ErrFetch
}

// KindOf maps err to its ErrorKind. Unclassified errors count as fetch errors.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrInvalidURL):
		return KindInvalidURL
	case errors.Is(err, ErrParse):
		return KindParse
	case errors.Is(err, ErrFilesystem):
		return KindFilesystem
	default:
		return KindFetch
	}
}
