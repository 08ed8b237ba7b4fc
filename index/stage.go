package index

import (
	"errors"

	"earthfs/kinderr"
	"earthfs/kvstore"
)

// txnWriter is the slice of kvstore.Txn that Writer needs: allocate an ID,
// write a key. Both *kvstore.Txn and *stagingTxn satisfy it.
type txnWriter interface {
	NextID(tableTag uint64) (uint64, error)
	Put(key, value []byte, mode kvstore.PutMode) error
}

var errStagedKeyExists = errors.New("key already staged")

type pendingWrite struct {
	key   []byte
	value []byte
}

// stagingTxn holds one meta-file's worth of index writes in memory until
// Flush is called, so a JSON parse failure partway through a meta-file's
// fields never leaves that meta-file's rows behind even though the
// surrounding kvstore transaction goes on to hold other, already-ingested
// meta-files from the same pull batch. Atomicity is per meta-file, not just
// per commit. NextID and existence checks for NoOverwrite still read the
// live transaction, so ID allocation and duplicate detection behave exactly
// as they would against a real Put; only the actual write is deferred.
type stagingTxn struct {
	txn     *kvstore.Txn
	pending []pendingWrite
	seen    map[string]struct{}
}

func newStagingTxn(txn *kvstore.Txn) *stagingTxn {
	return &stagingTxn{txn: txn, seen: make(map[string]struct{})}
}

func (s *stagingTxn) NextID(tableTag uint64) (uint64, error) {
	return s.txn.NextID(tableTag)
}

func (s *stagingTxn) Put(key, value []byte, mode kvstore.PutMode) error {
	k := string(key)
	if mode == kvstore.NoOverwrite {
		if _, dup := s.seen[k]; dup {
			return kinderr.New(kinderr.KeyExists, "index.stagingTxn.Put", errStagedKeyExists)
		}
		_, ok, err := s.txn.Get(key)
		if err != nil {
			return err
		}
		if ok {
			return kinderr.New(kinderr.KeyExists, "index.stagingTxn.Put", errStagedKeyExists)
		}
	}
	s.pending = append(s.pending, pendingWrite{key: key, value: value})
	s.seen[k] = struct{}{}
	return nil
}

// Flush applies every staged write to the real transaction. Existence was
// already checked at stage time and nothing else touches this transaction
// concurrently, so each write is a plain Overwrite here.
func (s *stagingTxn) Flush() error {
	for _, w := range s.pending {
		if err := s.txn.Put(w.key, w.value, kvstore.Overwrite); err != nil {
			return err
		}
	}
	return nil
}
