package molnus

import (
	"context"
)

// API defines the Molnus operations used by the rest of the application
type API interface {
	// EnsureToken returns a usable access token, logging in when needed
	EnsureToken(ctx context.Context) (string, error)

	// GetImages lists images for a camera, newest first as returned by Molnus
	GetImages(ctx context.Context, query ImageQuery) ([]Image, error)

	// FetchBytes downloads an arbitrary URL, typically a CDN image link
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// Ensure Client implements API at compile time.
var _ API = (*Client)(nil)
