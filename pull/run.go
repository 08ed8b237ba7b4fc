// Package pull implements the N-reader/one-writer replication pipeline:
// reader fibers stream content URIs from a remote peer, dereference them
// into (file, meta-file) submission pairs, and a writer fiber commits
// filled pairs into the local index in stream order.
package pull

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"earthfs/blobstore"
	"earthfs/kvstore"
	"earthfs/pull/upstream"
	"earthfs/tokenize"
)

const (
	// ReaderCount is the number of concurrent reader fibers per job.
	ReaderCount = 16
	// QueueSize is the ring capacity shared by the readers and the writer.
	QueueSize = 32
	// reconnectDelay is the fixed backoff between reconnect and retry
	// attempts. Flat, not exponential.
	reconnectDelay = 5 * time.Second
	// maxBatchPairs bounds how many drained pairs the writer accumulates
	// before committing.
	maxBatchPairs = 8
	// knownCacheSize bounds the reader fibers' local-URI dedup cache. It
	// only ever needs to shortcut blobstore.Store.Has for URIs a recent
	// stream already proved local; a miss always falls through to Has, so
	// a small cache is enough to absorb a peer re-announcing the same URI
	// across several query pages.
	knownCacheSize = 4096
)

// Job runs one pull replication job: ReaderCount reader fibers racing
// against a single writer fiber over a shared bounded Queue.
type Job struct {
	Config PullJob

	client    upstream.Client
	store     *kvstore.Store
	blobs     blobstore.Store
	tokenizer tokenize.Tokenizer
	log       zerolog.Logger

	queue *Queue
	known *lru.Cache[string, struct{}]

	connMu sync.Mutex
	conn   io.ReadCloser
	reader *bufio.Reader
}

// NewJob wires a pull job's collaborators. The job does nothing until Run is called.
func NewJob(cfg PullJob, client upstream.Client, store *kvstore.Store, blobs blobstore.Store, tok tokenize.Tokenizer, log zerolog.Logger) *Job {
	known, _ := lru.New[string, struct{}](knownCacheSize)
	return &Job{
		Config:    cfg,
		client:    client,
		store:     store,
		blobs:     blobs,
		tokenizer: tok,
		log:       log.With().Str("pull_job", cfg.ID.String()).Logger(),
		queue:     NewQueue(QueueSize),
		known:     known,
	}
}

// isKnownLocally reports whether u has already been stored, consulting the
// reader fibers' dedup cache before falling through to the blob store's own
// Has check. A positive result is cached; the blob store is append-only, so
// a cached hit never goes stale.
func (j *Job) isKnownLocally(ctx context.Context, key string, has func() (bool, error)) (bool, error) {
	if _, hit := j.known.Get(key); hit {
		return true, nil
	}
	known, err := has()
	if err != nil {
		return false, err
	}
	if known {
		j.known.Add(key, struct{}{})
	}
	return known, nil
}

// markKnown records that u is now stored locally, so later readers in the
// same job skip the blob store round-trip entirely.
func (j *Job) markKnown(key string) {
	j.known.Add(key, struct{}{})
}

// Run starts ReaderCount reader fibers and one writer fiber and blocks
// until ctx is cancelled and every fiber has unwound.
func (j *Job) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(ReaderCount + 1)

	for i := 0; i < ReaderCount; i++ {
		go func(id int) {
			defer wg.Done()
			j.readerLoop(ctx, id)
		}(i)
	}
	go func() {
		defer wg.Done()
		j.writerLoop(ctx)
	}()

	<-ctx.Done()
	j.queue.Stop()
	j.connMu.Lock()
	if j.conn != nil {
		j.conn.Close()
	}
	j.connMu.Unlock()
	wg.Wait()
	return ctx.Err()
}

// Stats reports the job's queue occupancy, for monitoring.
func (j *Job) Stats() QueueStats {
	return j.queue.Stats()
}
