package pull

import (
	"bytes"
	"context"

	"golang.org/x/sync/errgroup"

	"earthfs/index"
	"earthfs/kinderr"
	"earthfs/kvstore"
)

// pair is one reader dereference's worth of drained queue output: the file
// slot and the meta-file slot, in that fixed order. Two consecutively
// reserved slots always belong to the same stream URI.
type pair struct {
	file *Submission
	meta *Submission
}

// writerLoop drains filled slots in order, batches non-bubble submissions,
// and commits. It blocks on the first Drain of
// each batch and then opportunistically extends the batch with
// TryDrain so a burst of arrivals is committed together without making
// the writer wait for a full QUEUE_SIZE batch that may never come.
func (j *Job) writerLoop(ctx context.Context) {
	for {
		fileSub, ok := j.queue.Drain()
		if !ok {
			return
		}
		metaSub, ok2 := j.queue.Drain()

		pairs := make([]pair, 0, maxBatchPairs)
		if ok2 {
			pairs = append(pairs, pair{file: fileSub, meta: metaSub})
		} else {
			pairs = append(pairs, pair{file: fileSub})
		}

		for ok2 && len(pairs) < maxBatchPairs {
			f, _, found := j.queue.TryDrain()
			if !found {
				break
			}
			m, _, found2 := j.queue.TryDrain()
			if !found2 {
				pairs = append(pairs, pair{file: f})
				break
			}
			pairs = append(pairs, pair{file: f, meta: m})
		}

		j.commitBatch(ctx, pairs)
	}
}

// commitBatch stores a batch of pairs: blob bodies are written to the
// (external, non-transactional) blob store concurrently, then every index
// write for the batch happens in one kvstore transaction. A
// kinderr.Malformed meta-file is logged and skipped without failing the
// rest of the batch. A Transient commit error (a transaction conflict) is
// retried every reconnectDelay until it succeeds or shutdown: by the time
// this runs, every blob in the batch is already durably stored and marked
// known, so simply dropping a conflicting commit would strand those blobs
// unindexed forever, since the next pull would see them as already-local
// bubbles and never retry the index write. A Fatal error (KV I/O,
// invariant violation) is logged and the batch dropped; there is no caller
// above this background job to propagate it to.
func (j *Job) commitBatch(ctx context.Context, pairs []pair) {
	if len(pairs) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pairs {
		p := p
		if p.file != nil {
			g.Go(func() error { return j.storeBlob(gctx, p.file) })
		}
		if p.meta != nil {
			g.Go(func() error { return j.storeBlob(gctx, p.meta) })
		}
	}
	if err := g.Wait(); err != nil {
		j.log.Error().Err(err).Msg("pull: batch blob store failed, dropping batch")
		return
	}

	for {
		err := j.store.Update(func(txn *kvstore.Txn) error {
			for _, p := range pairs {
				if p.file != nil {
					if _, err := index.AllocateFileID(txn, p.file.URI.String()); err != nil {
						return err
					}
				}
				if p.meta == nil {
					continue
				}
				ownerID, err := index.AllocateFileID(txn, p.meta.URI.String())
				if err != nil {
					return err
				}
				if _, err := index.IngestMetaFile(txn, j.tokenizer, ownerID, p.meta.Body); err != nil {
					if kinderr.Is(err, kinderr.Malformed) {
						j.log.Warn().Err(err).Str("uri", p.meta.URI.String()).Msg("pull: malformed meta-file, skipped")
						continue
					}
					return err
				}
			}
			return nil
		})
		if err == nil {
			return
		}
		if !kinderr.Is(err, kinderr.Transient) {
			j.log.Error().Err(err).Msg("pull: batch commit failed")
			return
		}
		j.log.Warn().Err(err).Msg("pull: batch commit conflict, retrying")
		if !sleepOrDone(ctx) {
			return
		}
	}
}

// storeBlob writes s under its own already-verified URI rather than letting
// the blob store mint a fresh one, so the digest every index row names is
// the digest the blob actually lives under (see blobstore.Store.PutAt).
func (j *Job) storeBlob(ctx context.Context, s *Submission) error {
	if err := j.blobs.PutAt(ctx, s.URI, bytes.NewReader(s.Body)); err != nil {
		return kinderr.New(kinderr.Fatal, "pull.storeBlob", err)
	}
	j.markKnown(s.URI.String())
	return nil
}
