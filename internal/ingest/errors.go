package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFilePresent is returned when the request carries no upload at all.
	ErrNoFilePresent = errors.New("no file uploaded")
	// ErrUnexpectedField is returned when a file arrives under a field other
	// than the configured upload field.
	ErrUnexpectedField = errors.New("unexpected file field")
	// ErrNotMultipart is returned in multipart mode for any other body encoding.
	ErrNotMultipart = errors.New("request is not multipart/form-data")
	// ErrPayloadTooLarge is returned as soon as the upload is known to exceed
	// the configured limit.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ValidationError reports an upload the client must fix before retrying.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid upload: %v", e.Err)
	}
	return fmt.Sprintf("invalid upload (field %q): %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
