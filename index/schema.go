// Package index applies and queries the multi-index meta-file schema within
// a single kvstore transaction: meta-file allocation, forward/reverse field
// rows, and the full-text posting list.
package index

// Table tags are a closed, stable enum. Do not renumber or reuse values.
const (
	// TagMetaFileByID: (id) -> (file_id, target_uri). Primary meta-file record.
	TagMetaFileByID uint64 = iota + 1
	// TagFileIDAndMetaFileID: (file_id, metafile_id) -> ∅. Meta-files authored by a file.
	TagFileIDAndMetaFileID
	// TagTargetURIAndMetaFileID: (target_uri, metafile_id) -> ∅. Meta-files annotating a URI.
	TagTargetURIAndMetaFileID
	// TagMetaFileIDFieldAndValue: (metafile_id, field, value) -> ∅. Forward field index.
	TagMetaFileIDFieldAndValue
	// TagFieldValueAndMetaFileID: (field, value, metafile_id) -> ∅. Reverse field index.
	TagFieldValueAndMetaFileID
	// TagTermMetaFileIDAndPosition: (term, metafile_id, position) -> ∅. Full-text posting list.
	TagTermMetaFileIDAndPosition
	// TagPullJobByID: (pull_id) -> encoded PullJob. Persisted pull job
	// configuration reuses the same table-tag keyspace as the index tables
	// rather than inventing a second one.
	TagPullJobByID
	// TagFileByID: (id) -> (content_uri). FileIDs are minted from this
	// table by whichever component first stores a file's bytes; ingest
	// itself never allocates one, its caller supplies the owning file ID.
	TagFileByID
)
