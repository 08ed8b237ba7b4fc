package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"earthfs/kinderr"
	"earthfs/kvstore"
	"earthfs/tokenize"
)

func openTestStore(t *testing.T) *kvstore.Store {
	t.Helper()
	s, err := kvstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// TestIngestRoundTrip: after ingest, the forward index holds exactly the
// non-empty (field, value) pairs and the reverse index holds their
// transpose.
func TestIngestRoundTrip(t *testing.T) {
	s := openTestStore(t)
	body := []byte("hash://deadbeef\r\n\r\n{\"title\":\"hello\"}")

	var metaFileID uint64
	err := s.Update(func(txn *kvstore.Txn) error {
		id, err := IngestMetaFile(txn, tokenize.Whitespace(), 100, body)
		metaFileID = id
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), metaFileID)

	err = s.View(func(txn *kvstore.Txn) error {
		rec, ok, err := GetMetaFile(txn, metaFileID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(100), rec.FileID)
		assert.Equal(t, "hash://deadbeef", rec.TargetURI)

		fields, err := FieldsOf(txn, metaFileID)
		require.NoError(t, err)
		assert.Equal(t, []FieldValue{{Field: "title", Value: "hello"}}, fields)

		ids, err := LookupByFieldValue(txn, "title", "hello")
		require.NoError(t, err)
		assert.Equal(t, []uint64{metaFileID}, ids)

		byFile, err := MetaFilesForFile(txn, 100)
		require.NoError(t, err)
		assert.Equal(t, []uint64{metaFileID}, byFile)

		byTarget, err := MetaFilesForTargetURI(txn, "hash://deadbeef")
		require.NoError(t, err)
		assert.Equal(t, []uint64{metaFileID}, byTarget)
		return nil
	})
	require.NoError(t, err)
}

// TestIngestArrayDeduplicates: a repeated array element collapses into a
// single forward/reverse row pair.
func TestIngestArrayDeduplicates(t *testing.T) {
	s := openTestStore(t)
	body := []byte("hash://deadbeef\r\n\r\n{\"tag\":[\"a\",\"b\",\"a\"]}")

	var metaFileID uint64
	err := s.Update(func(txn *kvstore.Txn) error {
		id, err := IngestMetaFile(txn, tokenize.Whitespace(), 1, body)
		metaFileID = id
		return err
	})
	require.NoError(t, err)

	err = s.View(func(txn *kvstore.Txn) error {
		fields, err := FieldsOf(txn, metaFileID)
		require.NoError(t, err)
		assert.Equal(t, []FieldValue{{Field: "tag", Value: "a"}, {Field: "tag", Value: "b"}}, fields)
		return nil
	})
	require.NoError(t, err)
}

// TestIngestFullText: every fulltext token gets a posting-list row with
// position 0.
func TestIngestFullText(t *testing.T) {
	s := openTestStore(t)
	body := []byte("hash://deadbeef\r\n\r\n{\"fulltext\":\"The quick brown fox\"}")

	var metaFileID uint64
	err := s.Update(func(txn *kvstore.Txn) error {
		id, err := IngestMetaFile(txn, tokenize.Whitespace(), 1, body)
		metaFileID = id
		return err
	})
	require.NoError(t, err)

	err = s.View(func(txn *kvstore.Txn) error {
		for _, term := range []string{"the", "quick", "brown", "fox"} {
			entries, err := PostingList(txn, term)
			require.NoError(t, err)
			require.Len(t, entries, 1, "term %q", term)
			assert.Equal(t, metaFileID, entries[0].MetaFileID)
			assert.Equal(t, uint64(0), entries[0].Position)
		}
		return nil
	})
	require.NoError(t, err)
}

// TestIngestMalformedNoDelimiter: a body with no blank-line delimiter
// writes no rows; the caller's transaction simply never commits the
// offending write.
func TestIngestMalformedNoDelimiter(t *testing.T) {
	s := openTestStore(t)
	body := []byte("hash://deadbeef")

	err := s.Update(func(txn *kvstore.Txn) error {
		_, err := IngestMetaFile(txn, tokenize.Whitespace(), 1, body)
		return err
	})
	require.Error(t, err)
	assert.True(t, kinderr.Is(err, kinderr.Malformed))

	// Nothing from the failed attempt is visible, and the next successful
	// ingest still gets MetaFileID 1: only IDs actually written count.
	var nextID uint64
	err = s.Update(func(txn *kvstore.Txn) error {
		id, err := IngestMetaFile(txn, tokenize.Whitespace(), 1, []byte("hash://cafebabe\n\n{}"))
		nextID = id
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nextID)
}

// TestIngestPartialFailureLeavesNoRowsInSharedTransaction covers the batch
// case: the pull writer ingests several meta-files inside one transaction
// and logs and skips a Malformed one instead of rolling back everything
// ingested earlier in the same transaction. A meta-file whose JSON parses partway
// (valid framing and primary row, then a disallowed nested value) must
// leave no row under its own MetaFileID once the shared transaction
// commits, even though an earlier meta-file in that same transaction
// succeeds.
func TestIngestPartialFailureLeavesNoRowsInSharedTransaction(t *testing.T) {
	s := openTestStore(t)

	goodBody := []byte("hash://good0000\n\n{\"title\":\"ok\"}")
	badBody := []byte("hash://bad00000\n\n{\"title\":\"ok\",\"nested\":{\"oops\":1}}")

	var goodID uint64
	err := s.Update(func(txn *kvstore.Txn) error {
		id, err := IngestMetaFile(txn, tokenize.Whitespace(), 1, goodBody)
		require.NoError(t, err)
		goodID = id

		_, badErr := IngestMetaFile(txn, tokenize.Whitespace(), 2, badBody)
		require.Error(t, badErr)
		assert.True(t, kinderr.Is(badErr, kinderr.Malformed))
		return nil // writer fiber: log and skip, commit the rest of the batch
	})
	require.NoError(t, err)

	err = s.View(func(txn *kvstore.Txn) error {
		_, ok, err := GetMetaFile(txn, goodID)
		require.NoError(t, err)
		assert.True(t, ok, "the earlier, successfully-parsed meta-file must still be committed")

		// MetaFileID 2 was allocated (and abandoned) by the failed attempt;
		// no primary row may exist for it.
		_, ok, err = GetMetaFile(txn, 2)
		require.NoError(t, err)
		assert.False(t, ok, "a partially-parsed meta-file must leave no primary row")

		fields, err := FieldsOf(txn, 2)
		require.NoError(t, err)
		assert.Empty(t, fields, "a partially-parsed meta-file must leave no field rows")
		return nil
	})
	require.NoError(t, err)
}

// TestIngestIDMonotonicity: successfully-written MetaFileIDs strictly
// increase across a sequence of ingests, including failures interleaved
// between them.
func TestIngestIDMonotonicity(t *testing.T) {
	s := openTestStore(t)

	var ids []uint64
	bodies := [][]byte{
		[]byte("hash://one\n\n{}"),
		nil, // malformed, injected below
		[]byte("hash://two\n\n{}"),
		[]byte("hash://three\n\n{}"),
	}
	for i, body := range bodies {
		if body == nil {
			err := s.Update(func(txn *kvstore.Txn) error {
				_, err := IngestMetaFile(txn, tokenize.Whitespace(), 1, []byte("toolong"))
				return err
			})
			require.Error(t, err)
			continue
		}
		err := s.Update(func(txn *kvstore.Txn) error {
			id, err := IngestMetaFile(txn, tokenize.Whitespace(), uint64(i), body)
			ids = append(ids, id)
			return err
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{1, 2, 3}, ids)
}

// TestIngestIdempotentReingest: ingesting the same meta-file twice produces
// two distinct meta-file rows but no duplicate reverse-index rows for a
// (field, value) pair within either.
func TestIngestIdempotentReingest(t *testing.T) {
	s := openTestStore(t)
	body := []byte("hash://deadbeef\r\n\r\n{\"title\":\"hello\"}")

	var first, second uint64
	err := s.Update(func(txn *kvstore.Txn) error {
		id, err := IngestMetaFile(txn, tokenize.Whitespace(), 1, body)
		first = id
		return err
	})
	require.NoError(t, err)

	err = s.Update(func(txn *kvstore.Txn) error {
		id, err := IngestMetaFile(txn, tokenize.Whitespace(), 1, body)
		second = id
		return err
	})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	err = s.View(func(txn *kvstore.Txn) error {
		ids, err := LookupByFieldValue(txn, "title", "hello")
		require.NoError(t, err)
		assert.ElementsMatch(t, []uint64{first, second}, ids)
		return nil
	})
	require.NoError(t, err)
}

// TestWriteFieldIdempotentWithinOneMetaFile: calling WriteField twice for
// the same (metafile, field, value) inside one meta-file never produces a
// second row.
func TestWriteFieldIdempotentWithinOneMetaFile(t *testing.T) {
	s := openTestStore(t)

	err := s.Update(func(txn *kvstore.Txn) error {
		w := NewWriter(txn)
		id, err := w.WriteMetaFile(1, "hash://x")
		require.NoError(t, err)
		require.NoError(t, w.WriteField(id, "tag", "a"))
		require.NoError(t, w.WriteField(id, "tag", "a"))
		return nil
	})
	require.NoError(t, err)

	err = s.View(func(txn *kvstore.Txn) error {
		ids, err := LookupByFieldValue(txn, "tag", "a")
		require.NoError(t, err)
		assert.Equal(t, []uint64{1}, ids)
		return nil
	})
	require.NoError(t, err)
}

// TestWriteMetaFilePrimaryDuplicateIsFatal: a pre-existing primary key is
// an error, never tolerated like a secondary-index duplicate.
func TestWriteMetaFilePrimaryDuplicateIsFatal(t *testing.T) {
	s := openTestStore(t)

	err := s.Update(func(txn *kvstore.Txn) error {
		key := NewPrimaryKey(1)
		return txn.Put(key, encodeMetaFileRecord(1, "hash://squatter"), kvstore.NoOverwrite)
	})
	require.NoError(t, err)

	// NextID would never hand back 1 again, so fixedIDTxn forces it to,
	// making WriteMetaFile's own NoOverwrite insert hit the squatter row.
	err = s.Update(func(txn *kvstore.Txn) error {
		_, err := NewWriter(fixedIDTxn{Txn: txn, id: 1}).WriteMetaFile(1, "hash://other")
		return err
	})
	require.Error(t, err)
	assert.True(t, kinderr.Is(err, kinderr.Fatal))
}

// fixedIDTxn returns the same id from every NextID call and passes every
// other call through to the wrapped transaction.
type fixedIDTxn struct {
	*kvstore.Txn
	id uint64
}

func (f fixedIDTxn) NextID(uint64) (uint64, error) { return f.id, nil }
