// Package upstream is the HTTP collaborator a pull job speaks to:
// authenticate, open the query stream, fetch individual files.
package upstream

import (
	"context"
	"io"

	"earthfs/uri"
)

// Client is what the pull reader fiber needs from the remote peer.
type Client interface {
	// Auth exchanges credentials for a session, to be replayed on Query and
	// Fetch. Called lazily on first use and again after an AuthRequired error.
	Auth(ctx context.Context) error
	// Query opens the line-delimited content-URI stream (count=all: every
	// matching file, not just new ones since last pull).
	Query(ctx context.Context) (io.ReadCloser, error)
	// Fetch retrieves one file's bytes by content URI.
	Fetch(ctx context.Context, u uri.ContentURI) (FetchResult, error)
}

// FetchResult is a fetched file's body and the metadata the HTTP response
// carried about it.
type FetchResult struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}
