package index

import (
	"fmt"

	"earthfs/keycodec"
	"earthfs/kinderr"
	"earthfs/kvstore"
)

// Writer applies index mutations within a single kvstore transaction.
// It writes through txnWriter rather than *kvstore.Txn
// directly so IngestMetaFile can interpose a stagingTxn that holds writes
// back until a whole meta-file has parsed successfully.
type Writer struct {
	txn txnWriter
}

// NewWriter wraps txn for index writes. All writes happen inside txn; the
// caller commits or discards.
func NewWriter(txn txnWriter) *Writer {
	return &Writer{txn: txn}
}

// WriteMetaFile allocates a new MetaFileID and writes the primary record
// plus both secondary lookup rows. All three keys embed the new id and must
// be fresh; a pre-existing key is fatal, since it would mean the allocator
// reused an ID.
func (w *Writer) WriteMetaFile(fileID uint64, targetURI string) (uint64, error) {
	if targetURI == "" {
		return 0, kinderr.New(kinderr.Malformed, "index.WriteMetaFile", fmt.Errorf("empty target URI"))
	}

	id, err := w.txn.NextID(TagMetaFileByID)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, kinderr.New(kinderr.Fatal, "index.WriteMetaFile", fmt.Errorf("allocated metafile id 0"))
	}

	primaryKey := keycodec.NewKey(TagMetaFileByID).Uint64(id).Bytes()
	primaryValue := encodeMetaFileRecord(fileID, targetURI)
	if err := w.txn.Put(primaryKey, primaryValue, kvstore.NoOverwrite); err != nil {
		return 0, kinderr.New(kinderr.Fatal, "index.WriteMetaFile: primary row exists", err)
	}

	// The two lookup rows carry the freshly minted id, so like the primary
	// row they must be fresh: an existing key here means the ID allocator
	// handed out a duplicate, not a benign re-ingest.
	fileKey := keycodec.NewKey(TagFileIDAndMetaFileID).Uint64(fileID).Uint64(id).Bytes()
	if err := w.txn.Put(fileKey, nil, kvstore.NoOverwrite); err != nil {
		return 0, kinderr.New(kinderr.Fatal, "index.WriteMetaFile: file row exists", err)
	}

	targetKey := keycodec.NewKey(TagTargetURIAndMetaFileID).String(targetURI).Uint64(id).Bytes()
	if err := w.txn.Put(targetKey, nil, kvstore.NoOverwrite); err != nil {
		return 0, kinderr.New(kinderr.Fatal, "index.WriteMetaFile: target row exists", err)
	}

	return id, nil
}

// WriteField inserts the forward and reverse rows for one (field, value)
// pair, tolerating KeyExists so re-ingesting a duplicate pair stays
// idempotent. Empty values are a no-op.
func (w *Writer) WriteField(metaFileID uint64, field, value string) error {
	if value == "" {
		return nil
	}

	forward := keycodec.NewKey(TagMetaFileIDFieldAndValue).Uint64(metaFileID).String(field).String(value).Bytes()
	if err := w.txn.Put(forward, nil, kvstore.NoOverwrite); err != nil && !kinderr.Is(err, kinderr.KeyExists) {
		return kinderr.New(kinderr.Fatal, "index.WriteField: forward", err)
	}

	reverse := keycodec.NewKey(TagFieldValueAndMetaFileID).String(field).String(value).Uint64(metaFileID).Bytes()
	if err := w.txn.Put(reverse, nil, kvstore.NoOverwrite); err != nil && !kinderr.Is(err, kinderr.KeyExists) {
		return kinderr.New(kinderr.Fatal, "index.WriteField: reverse", err)
	}

	return nil
}

// WriteTerm inserts one posting-list row. position is always written as 0
// regardless of what the tokenizer reported; duplicate (term, metafile)
// pairs collapse via the same KeyExists tolerance as WriteField.
// TODO: store real token positions once the posting list dedupes
// per-document instead of relying on the zero position to collapse rows.
func (w *Writer) WriteTerm(metaFileID uint64, term string) error {
	const position = 0
	key := keycodec.NewKey(TagTermMetaFileIDAndPosition).String(term).Uint64(metaFileID).Uint64(position).Bytes()
	if err := w.txn.Put(key, nil, kvstore.NoOverwrite); err != nil && !kinderr.Is(err, kinderr.KeyExists) {
		return kinderr.New(kinderr.Fatal, "index.WriteTerm", err)
	}
	return nil
}
