package index

import (
	"earthfs/keycodec"
	"earthfs/kvstore"
)

// FieldsOf returns every (field, value) pair recorded for a meta-file, by
// scanning the forward index (TagMetaFileIDFieldAndValue) under its prefix.
func FieldsOf(txn *kvstore.Txn, metaFileID uint64) ([]FieldValue, error) {
	prefix := keycodec.NewKey(TagMetaFileIDFieldAndValue).Uint64(metaFileID).Bytes()
	c := txn.Cursor(prefix)
	defer c.Close()

	var out []FieldValue
	for ; c.Valid(); c.Next() {
		r := keycodec.NewReader(c.Key())
		if _, err := r.Uint64(); err != nil { // table tag
			return nil, err
		}
		if _, err := r.Uint64(); err != nil { // metafile_id
			return nil, err
		}
		field, err := r.String()
		if err != nil {
			return nil, err
		}
		value, err := r.String()
		if err != nil {
			return nil, err
		}
		out = append(out, FieldValue{Field: field, Value: value})
	}
	return out, nil
}

// FieldValue is one (field, value) pair.
type FieldValue struct {
	Field string
	Value string
}

// LookupByFieldValue returns every MetaFileID with field == value, scanning
// the reverse index (TagFieldValueAndMetaFileID).
func LookupByFieldValue(txn *kvstore.Txn, field, value string) ([]uint64, error) {
	prefix := keycodec.NewKey(TagFieldValueAndMetaFileID).String(field).String(value).Bytes()
	c := txn.Cursor(prefix)
	defer c.Close()

	var out []uint64
	for ; c.Valid(); c.Next() {
		r := keycodec.NewReader(c.Key())
		if _, err := r.Uint64(); err != nil { // table tag
			return nil, err
		}
		if _, err := r.String(); err != nil { // field
			return nil, err
		}
		if _, err := r.String(); err != nil { // value
			return nil, err
		}
		id, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// MetaFilesForFile returns every MetaFileID authored by fileID.
func MetaFilesForFile(txn *kvstore.Txn, fileID uint64) ([]uint64, error) {
	prefix := keycodec.NewKey(TagFileIDAndMetaFileID).Uint64(fileID).Bytes()
	c := txn.Cursor(prefix)
	defer c.Close()

	var out []uint64
	for ; c.Valid(); c.Next() {
		r := keycodec.NewReader(c.Key())
		if _, err := r.Uint64(); err != nil { // table tag
			return nil, err
		}
		if _, err := r.Uint64(); err != nil { // file_id
			return nil, err
		}
		id, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// MetaFilesForTargetURI returns every MetaFileID annotating targetURI.
func MetaFilesForTargetURI(txn *kvstore.Txn, targetURI string) ([]uint64, error) {
	prefix := keycodec.NewKey(TagTargetURIAndMetaFileID).String(targetURI).Bytes()
	c := txn.Cursor(prefix)
	defer c.Close()

	var out []uint64
	for ; c.Valid(); c.Next() {
		r := keycodec.NewReader(c.Key())
		if _, err := r.Uint64(); err != nil { // table tag
			return nil, err
		}
		if _, err := r.String(); err != nil { // target_uri
			return nil, err
		}
		id, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// PostingListEntry is one row of the full-text index.
type PostingListEntry struct {
	MetaFileID uint64
	Position   uint64
}

// PostingList returns every (metafile_id, position) recorded for term.
func PostingList(txn *kvstore.Txn, term string) ([]PostingListEntry, error) {
	prefix := keycodec.NewKey(TagTermMetaFileIDAndPosition).String(term).Bytes()
	c := txn.Cursor(prefix)
	defer c.Close()

	var out []PostingListEntry
	for ; c.Valid(); c.Next() {
		r := keycodec.NewReader(c.Key())
		if _, err := r.Uint64(); err != nil { // table tag
			return nil, err
		}
		if _, err := r.String(); err != nil { // term
			return nil, err
		}
		metaFileID, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		position, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		out = append(out, PostingListEntry{MetaFileID: metaFileID, Position: position})
	}
	return out, nil
}
