package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest marks malformed caller input, e.g. an empty query.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStorageUnavailable marks a durable-store failure. Unlike AI-service
	// failures this is always surfaced to the caller: losing the record of an
	// exchange is not acceptable.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// UpstreamError carries a structured error response from the AI service so
// the ingestion path can relay its status and body verbatim.
type UpstreamError struct {
	Status int
	Body   []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("ai service returned status %d", e.Status)
}
