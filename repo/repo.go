// Package repo is the repository facade: the entry point that owns the
// index, the blob store, and any running pull jobs, and exposes the ingest
// and pull data flows as single calls.
package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"earthfs/blobstore"
	"earthfs/index"
	"earthfs/kinderr"
	"earthfs/kvstore"
	"earthfs/pull"
	"earthfs/pull/upstream"
	"earthfs/tokenize"
	"earthfs/uri"
)

// Repo is the top-level handle a caller opens once per data directory.
type Repo struct {
	store     *kvstore.Store
	blobs     blobstore.Store
	tokenizer tokenize.Tokenizer
	log       zerolog.Logger

	mu    sync.Mutex
	pulls map[uuid.UUID]context.CancelFunc
	wg    sync.WaitGroup
}

// Option configures a Repo at Open time.
type Option func(*Repo)

// WithLogger attaches a structured logger; the default is a disabled logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Repo) { r.log = log }
}

// WithTokenizer overrides the default full-text tokenizer (tokenize.Default()).
func WithTokenizer(tok tokenize.Tokenizer) Option {
	return func(r *Repo) { r.tokenizer = tok }
}

// Open opens the index at indexPath and the blob store at blobPath.
func Open(indexPath, blobPath string, opts ...Option) (*Repo, error) {
	store, err := kvstore.Open(indexPath)
	if err != nil {
		return nil, err
	}
	blobs, err := blobstore.NewDiskStore(blobPath)
	if err != nil {
		store.Close()
		return nil, err
	}
	r := &Repo{
		store:     store,
		blobs:     blobs,
		tokenizer: tokenize.Default(),
		log:       zerolog.Nop(),
		pulls:     make(map[uuid.UUID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close stops every running pull job and releases the index handle.
func (r *Repo) Close() error {
	r.mu.Lock()
	for _, cancel := range r.pulls {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
	return r.store.Close()
}

// Begin starts a transaction on the repository's index store. The caller
// is responsible for Commit or Discard.
func (r *Repo) Begin(writable bool) *kvstore.Txn {
	return r.store.Begin(writable)
}

// StoreFile writes body to the blob store and allocates it a local FileID,
// the first half of the ingest flow when the file itself is new rather than
// already present.
func (r *Repo) StoreFile(ctx context.Context, body []byte) (uint64, uri.ContentURI, error) {
	u, err := r.blobs.Put(ctx, bytes.NewReader(body))
	if err != nil {
		return 0, uri.ContentURI{}, err
	}
	var fileID uint64
	err = r.store.Update(func(txn *kvstore.Txn) error {
		id, err := index.AllocateFileID(txn, u.String())
		if err != nil {
			return err
		}
		fileID = id
		return nil
	})
	return fileID, u, err
}

// Ingest parses and indexes a meta-file body authored by fileID: framing,
// JSON parsing, and every index write happen in a single transaction.
func (r *Repo) Ingest(fileID uint64, body []byte) (uint64, error) {
	var metaFileID uint64
	err := r.store.Update(func(txn *kvstore.Txn) error {
		id, err := index.IngestMetaFile(txn, r.tokenizer, fileID, body)
		if err != nil {
			return err
		}
		metaFileID = id
		return nil
	})
	return metaFileID, err
}

// FieldsOf returns every (field, value) pair recorded for a meta-file.
func (r *Repo) FieldsOf(metaFileID uint64) ([]index.FieldValue, error) {
	var out []index.FieldValue
	err := r.store.View(func(txn *kvstore.Txn) error {
		v, err := index.FieldsOf(txn, metaFileID)
		out = v
		return err
	})
	return out, err
}

// LookupByFieldValue returns every MetaFileID with field == value.
func (r *Repo) LookupByFieldValue(field, value string) ([]uint64, error) {
	var out []uint64
	err := r.store.View(func(txn *kvstore.Txn) error {
		v, err := index.LookupByFieldValue(txn, field, value)
		out = v
		return err
	})
	return out, err
}

// MetaFilesForFile returns every MetaFileID authored by fileID.
func (r *Repo) MetaFilesForFile(fileID uint64) ([]uint64, error) {
	var out []uint64
	err := r.store.View(func(txn *kvstore.Txn) error {
		v, err := index.MetaFilesForFile(txn, fileID)
		out = v
		return err
	})
	return out, err
}

// MetaFilesForTargetURI returns every MetaFileID annotating targetURI.
func (r *Repo) MetaFilesForTargetURI(targetURI string) ([]uint64, error) {
	var out []uint64
	err := r.store.View(func(txn *kvstore.Txn) error {
		v, err := index.MetaFilesForTargetURI(txn, targetURI)
		out = v
		return err
	})
	return out, err
}

// Search returns the full-text posting list for term.
func (r *Repo) Search(term string) ([]index.PostingListEntry, error) {
	var out []index.PostingListEntry
	err := r.store.View(func(txn *kvstore.Txn) error {
		v, err := index.PostingList(txn, term)
		out = v
		return err
	})
	return out, err
}

// StartPull persists job (minting an ID if new) and launches its reader
// and writer fibers in the background.
func (r *Repo) StartPull(job pull.PullJob, client upstream.Client) (uuid.UUID, error) {
	var saved pull.PullJob
	err := r.store.Update(func(txn *kvstore.Txn) error {
		s, err := pull.SaveJob(txn, job)
		saved = s
		return err
	})
	if err != nil {
		return uuid.Nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := pull.NewJob(saved, client, r.store, r.blobs, r.tokenizer, r.log)

	r.mu.Lock()
	r.pulls[saved.ID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := j.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error().Err(err).Str("pull_job", saved.ID.String()).Msg("repo: pull job exited")
		}
	}()
	return saved.ID, nil
}

// StopPull cancels a running pull job and removes its persisted configuration.
func (r *Repo) StopPull(id uuid.UUID) error {
	r.mu.Lock()
	cancel, ok := r.pulls[id]
	delete(r.pulls, id)
	r.mu.Unlock()
	if !ok {
		return kinderr.New(kinderr.Malformed, "repo.StopPull", fmt.Errorf("unknown pull job %s", id))
	}
	cancel()
	return r.store.Update(func(txn *kvstore.Txn) error {
		return pull.DeleteJob(txn, id)
	})
}
