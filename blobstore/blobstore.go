// Package blobstore defines the content-addressed blob store contract:
// hashing files and writing them to disk under their digest. Store is the
// interface the repo facade and pull pipeline code against; DiskStore is a
// minimal reference implementation so tests and standalone wiring have
// something concrete to run against without pulling in a production blob
// store.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"earthfs/uri"
)

// Store is the out-of-scope collaborator: put a blob, get it back by the
// content URI it was stored under.
type Store interface {
	// Put stores the bytes read from r, hashes them under the store's own
	// algorithm, and returns the resulting content URI.
	Put(ctx context.Context, r io.Reader) (uri.ContentURI, error)
	// PutAt stores the bytes read from r under the exact content URI u, a
	// digest the caller already verified. Federation depends on this: a
	// peer's digest is the one every local index row names, so the stored
	// blob must live under that same digest rather than one this store
	// recomputes on its own terms.
	PutAt(ctx context.Context, u uri.ContentURI, r io.Reader) error
	// Get opens the blob addressed by u. Returns os.ErrNotExist (wrapped)
	// if unknown.
	Get(ctx context.Context, u uri.ContentURI) (io.ReadCloser, error)
	// Has reports whether u is already stored locally, without opening it.
	// The pull reader fiber uses this check to turn a URI into a bubble.
	Has(ctx context.Context, u uri.ContentURI) (bool, error)
}

const algo = "sha256"

// DiskStore is an append-only, SHA-256-addressed directory of blobs: the
// repository's data/ directory, which the index layer otherwise treats as
// opaque.
type DiskStore struct {
	dir string
}

// NewDiskStore opens (creating if necessary) a disk-backed blob store rooted at dir.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) path(u uri.ContentURI) string {
	return filepath.Join(s.dir, u.Algo, u.Hash)
}

// Put hashes r's content with SHA-256 and writes it under that digest,
// immutable once stored. Writing the same content twice is a harmless
// no-op rewrite.
func (s *DiskStore) Put(ctx context.Context, r io.Reader) (uri.ContentURI, error) {
	tmp, err := os.CreateTemp(s.dir, "incoming-*")
	if err != nil {
		return uri.ContentURI{}, err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), r); err != nil {
		return uri.ContentURI{}, err
	}

	u := uri.ContentURI{Algo: algo, Hash: hex.EncodeToString(h.Sum(nil))}
	dst := s.path(u)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return uri.ContentURI{}, err
	}
	if err := tmp.Close(); err != nil {
		return uri.ContentURI{}, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return uri.ContentURI{}, err
	}
	return u, nil
}

// PutAt stores r's bytes under the exact content URI u, re-verifying the
// digest itself rather than trusting the caller's claim. A mismatch is
// rejected without writing anything.
func (s *DiskStore) PutAt(ctx context.Context, u uri.ContentURI, r io.Reader) error {
	tmp, err := os.CreateTemp(s.dir, "incoming-*")
	if err != nil {
		return fmt.Errorf("blobstore: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	data, err := io.ReadAll(io.TeeReader(r, tmp))
	if err != nil {
		return fmt.Errorf("blobstore: %w", err)
	}
	if err := uri.VerifyDigest(u, data); err != nil {
		return err
	}

	dst := s.path(u)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("blobstore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blobstore: %w", err)
	}
	return os.Rename(tmp.Name(), dst)
}

// Get opens the blob addressed by u.
func (s *DiskStore) Get(ctx context.Context, u uri.ContentURI) (io.ReadCloser, error) {
	f, err := os.Open(s.path(u))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Has reports whether u is already stored.
func (s *DiskStore) Has(ctx context.Context, u uri.ContentURI) (bool, error) {
	_, err := os.Stat(s.path(u))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
