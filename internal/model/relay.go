// Package model defines shared types for the relay.
package model

import (
	"fmt"
	"io"
	"net/http"
)

// IncomingPayload is an upload materialized by the ingestor. Exactly one of
// Data and Path is set: Data for buffered ingestion, Path for staged.
type IncomingPayload struct {
	Data        []byte
	Path        string
	Filename    string
	Size        int64
	ContentType string
}

// Staged reports whether the payload lives in a temporary file.
func (p *IncomingPayload) Staged() bool {
	return p.Path != ""
}

// BackendRequest is the outbound call built from an IncomingPayload.
type BackendRequest struct {
	URL    string
	Header http.Header
	Body   io.Reader
	Length int64
}

// BackendSuccess carries the processed image. Body is set by the HTTP
// backend; ArtifactPath by the script backend, which leaves its output on disk.
type BackendSuccess struct {
	Body         []byte
	ArtifactPath string
	ContentType  string
}

// BackendFailure describes why the backend could not produce an image.
// StatusCode is the backend's own status, or 500 for transport failures.
type BackendFailure struct {
	StatusCode int
	Message    string
	Err        error
}

func (f *BackendFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("backend failure (%d): %s: %v", f.StatusCode, f.Message, f.Err)
	}
	return fmt.Sprintf("backend failure (%d): %s", f.StatusCode, f.Message)
}

func (f *BackendFailure) Unwrap() error { return f.Err }

// BackendResult is the single outcome of a backend call. Exactly one of
// Success and Failure is non-nil.
type BackendResult struct {
	Success *BackendSuccess
	Failure *BackendFailure
}

// Succeeded builds a successful result.
func Succeeded(s BackendSuccess) *BackendResult {
	return &BackendResult{Success: &s}
}

// Failed builds a failed result.
func Failed(status int, message string, err error) *BackendResult {
	return &BackendResult{Failure: &BackendFailure{StatusCode: status, Message: message, Err: err}}
}

// RelayOutcome is the response sent back to the caller. On success either
// Body or FilePath holds the image; on failure Body is a plain text message.
type RelayOutcome struct {
	StatusCode  int
	ContentType string
	Body        []byte
	FilePath    string
	Filename    string
}
