package repo

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"earthfs/index"
	"earthfs/kvstore"
	"earthfs/pull"
	"earthfs/pull/upstream"
	"earthfs/uri"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := Open(t.TempDir(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// TestStoreFileAndIngest exercises the ingest-only flow: the caller stores
// a file, then supplies a meta-file body naming it as the owning file ID.
func TestStoreFileAndIngest(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	fileID, fileURI, err := r.StoreFile(ctx, []byte("file contents"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), fileID)

	body := []byte(fileURI.String() + "\n\n{\"title\":\"self-describing\",\"tag\":[\"a\",\"b\"],\"fulltext\":\"hello world\"}")
	metaFileID, err := r.Ingest(fileID, body)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), metaFileID)

	fields, err := r.FieldsOf(metaFileID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []index.FieldValue{
		{Field: "title", Value: "self-describing"},
		{Field: "tag", Value: "a"},
		{Field: "tag", Value: "b"},
	}, fields)

	byFile, err := r.MetaFilesForFile(fileID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{metaFileID}, byFile)

	byTarget, err := r.MetaFilesForTargetURI(fileURI.String())
	require.NoError(t, err)
	assert.Equal(t, []uint64{metaFileID}, byTarget)

	postings, err := r.Search("hello")
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, metaFileID, postings[0].MetaFileID)

	fieldHits, err := r.LookupByFieldValue("title", "self-describing")
	require.NoError(t, err)
	assert.Equal(t, []uint64{metaFileID}, fieldHits)
}

// TestIngestAssignsDistinctFileIDs checks that two independently stored
// files get strictly increasing FileIDs.
func TestIngestAssignsDistinctFileIDs(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	id1, _, err := r.StoreFile(ctx, []byte("one"))
	require.NoError(t, err)
	id2, _, err := r.StoreFile(ctx, []byte("two"))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)
}

// emptyUpstream never yields a URI; it exists only to let StartPull's
// reader fibers idle without a real peer to talk to.
type emptyUpstream struct{}

func (emptyUpstream) Auth(ctx context.Context) error { return nil }

func (emptyUpstream) Query(ctx context.Context) (io.ReadCloser, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (emptyUpstream) Fetch(ctx context.Context, u uri.ContentURI) (upstream.FetchResult, error) {
	return upstream.FetchResult{Body: io.NopCloser(strings.NewReader(""))}, nil
}

// TestStartStopPull covers the pull job lifecycle: StartPull persists the
// job and launches its fibers; StopPull cancels them and removes the
// persisted row.
func TestStartStopPull(t *testing.T) {
	r := openTestRepo(t)

	id, err := r.StartPull(pull.PullJob{Host: "https://peer.example"}, emptyUpstream{})
	require.NoError(t, err)

	err = r.store.View(func(txn *kvstore.Txn) error {
		_, ok, err := pull.LoadJob(txn, id)
		require.NoError(t, err)
		assert.True(t, ok, "job must be persisted after StartPull")
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, r.StopPull(id))

	err = r.store.View(func(txn *kvstore.Txn) error {
		_, ok, err := pull.LoadJob(txn, id)
		require.NoError(t, err)
		assert.False(t, ok, "job must be gone after StopPull")
		return nil
	})
	require.NoError(t, err)

	err = r.StopPull(id)
	require.Error(t, err, "stopping an already-stopped job must fail")
}
