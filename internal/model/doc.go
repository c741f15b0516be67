// Package model defines the data types shared by the harvest pipeline:
// discovered links, download tasks and outcomes, the session summary, and
// the error kinds used to classify failures.
package model
