// Package kvstore adapts badger/v4 to the transactional ordered key/value
// contract the index layer needs: begin/commit/discard, NextID, put with an
// overwrite mode, get, and cursors over table-tag-prefixed keys.
//
// The go-datastore / go-ds-badger4 path-key abstraction is deliberately not
// used here: its Query API returns path-ordered string keys through a
// channel, not a seekable byte-ordered cursor, so it cannot express NextID's
// seek-to-last. This package talks to *badger.DB directly instead.
package kvstore

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"earthfs/keycodec"
	"earthfs/kinderr"
)

// PutMode controls how Put behaves when the key already exists.
type PutMode int

const (
	// Overwrite replaces any existing value.
	Overwrite PutMode = iota
	// NoOverwrite fails with kinderr.KeyExists if the key is present.
	NoOverwrite
)

// Store owns a Badger database handle.
type Store struct {
	db  *badger.DB
	log zerolog.Logger
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithLogger attaches a structured logger; the default is a disabled logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Open opens (creating if necessary) a Badger database at path.
func Open(path string, opts ...Option) (*Store, error) {
	bopts := badger.DefaultOptions(path)
	bopts.Logger = nil // the core owns logging via zerolog, not badger's own logger
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, kinderr.New(kinderr.Fatal, "kvstore.Open", err)
	}
	s := &Store{db: db, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Update runs fn inside a read-write transaction, committing on success and
// discarding on error or panic.
func (s *Store) Update(fn func(*Txn) error) error {
	txn := s.Begin(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// View runs fn inside a read-only transaction.
func (s *Store) View(fn func(*Txn) error) error {
	txn := s.Begin(false)
	defer txn.Discard()
	return fn(txn)
}

// Begin starts a transaction. Callers are responsible for Commit or Discard.
func (s *Store) Begin(writable bool) *Txn {
	return &Txn{txn: s.db.NewTransaction(writable), writable: writable, log: s.log}
}

// Txn is a single KV transaction; it is never shared across goroutines.
type Txn struct {
	txn      *badger.Txn
	writable bool
	log      zerolog.Logger
}

// Commit commits the transaction.
func (t *Txn) Commit() error {
	if err := t.txn.Commit(); err != nil {
		return kinderr.New(kinderr.Transient, "kvstore.Txn.Commit", err)
	}
	return nil
}

// Discard aborts the transaction. Safe to call after Commit.
func (t *Txn) Discard() {
	t.txn.Discard()
}

// Get reads the value for key, or (nil, false, nil) if absent.
func (t *Txn) Get(key []byte) ([]byte, bool, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, kinderr.New(kinderr.Fatal, "kvstore.Txn.Get", err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, kinderr.New(kinderr.Fatal, "kvstore.Txn.Get", err)
	}
	return val, true, nil
}

// Put writes key/value under mode. NoOverwrite on an existing key returns a
// kinderr.KeyExists error; callers that treat duplicate secondary-index rows
// as success should check kinderr.Is(err, kinderr.KeyExists).
func (t *Txn) Put(key, value []byte, mode PutMode) error {
	if mode == NoOverwrite {
		_, err := t.txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			// fall through to write
		case err == nil:
			return kinderr.New(kinderr.KeyExists, "kvstore.Txn.Put", fmt.Errorf("key already present"))
		default:
			return kinderr.New(kinderr.Fatal, "kvstore.Txn.Put", err)
		}
	}
	if err := t.txn.Set(key, value); err != nil {
		return kinderr.New(kinderr.Fatal, "kvstore.Txn.Put", err)
	}
	return nil
}

// Delete removes key, if present.
func (t *Txn) Delete(key []byte) error {
	if err := t.txn.Delete(key); err != nil {
		return kinderr.New(kinderr.Fatal, "kvstore.Txn.Delete", err)
	}
	return nil
}

// NextID returns the next unused id under tableTag, computed as (largest
// existing (table_tag, id) key's id) + 1 via a single seek-to-last cursor,
// or 1 if the table is empty. Reservation happens within t: nothing else
// observes the id until (and unless) t commits.
func (t *Txn) NextID(tableTag uint64) (uint64, error) {
	prefix := keycodec.Prefix(tableTag)

	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	it := t.txn.NewIterator(opts)
	defer it.Close()

	// In reverse mode, Seek lands on the first key <= seekKey. Appending a
	// byte higher than any valid continuation puts us at-or-before the last
	// key with this prefix.
	seekKey := append(append([]byte{}, prefix...), 0xFF)
	it.Seek(seekKey)
	if !it.ValidForPrefix(prefix) {
		return 1, nil
	}
	key := it.Item().KeyCopy(nil)
	r := keycodec.NewReader(key)
	if _, err := r.Uint64(); err != nil { // table tag
		return 0, kinderr.New(kinderr.Fatal, "kvstore.Txn.NextID", err)
	}
	id, err := r.Uint64()
	if err != nil {
		return 0, kinderr.New(kinderr.Fatal, "kvstore.Txn.NextID", err)
	}
	return id + 1, nil
}

// Cursor opens a forward iterator over every key sharing prefix.
func (t *Txn) Cursor(prefix []byte) *Cursor {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := t.txn.NewIterator(opts)
	c := &Cursor{it: it, prefix: prefix}
	it.Seek(prefix)
	return c
}

// Cursor walks keys in byte order within a single prefix.
type Cursor struct {
	it     *badger.Iterator
	prefix []byte
}

// Valid reports whether the cursor is positioned on a key with the cursor's prefix.
func (c *Cursor) Valid() bool {
	return c.it.ValidForPrefix(c.prefix)
}

// Next advances the cursor.
func (c *Cursor) Next() {
	c.it.Next()
}

// Seek repositions the cursor at the first key >= key.
func (c *Cursor) Seek(key []byte) {
	c.it.Seek(key)
}

// Key returns the current key.
func (c *Cursor) Key() []byte {
	return c.it.Item().KeyCopy(nil)
}

// Value returns the current value.
func (c *Cursor) Value() ([]byte, error) {
	return c.it.Item().ValueCopy(nil)
}

// Close releases the underlying iterator. Must be called when done.
func (c *Cursor) Close() {
	c.it.Close()
}
