package harnessports

import "context"

// Dispatcher moves JSON documents to and from the chat backend.
// Implementations own timeouts and the single fallback-host retry.
type Dispatcher interface {
	// Dispatch POSTs payload as JSON and returns the decoded-ready response body.
	Dispatch(ctx context.Context, url string, payload any) ([]byte, error)
	// Fetch GETs url and returns the JSON response body.
	Fetch(ctx context.Context, url string) ([]byte, error)
}
