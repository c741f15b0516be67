// Package fetch downloads single resources to the local filesystem.
//
// This package handles:
//   - Streaming response bodies straight to disk
//   - Retry with exponential backoff for transient failures (transport
//     errors, timeouts, 5xx, 429 with Retry-After)
//   - Collision-free file naming with exclusive file creation
//   - Optional per-host concurrency and rate limits
//
// # Usage
//
//	w := fetch.NewWorker(fetch.Options{MaxAttempts: 3})
//	outcome := w.Fetch(ctx, model.DownloadTask{
//	    URL:             "https://example.com/report.pdf",
//	    DestinationPath: filepath.Join(dir, fetch.FileName(url)),
//	    Attempt:         1,
//	})
//
// A failed or cancelled download never leaves a partial file on disk, and a
// retry never appends to bytes written by an earlier attempt.
package fetch
