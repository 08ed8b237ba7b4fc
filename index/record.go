package index

import (
	"fmt"

	"earthfs/keycodec"
	"earthfs/kvstore"
)

// MetaFileRecord is the value stored at (TagMetaFileByID, id): (file_id, target_uri).
type MetaFileRecord struct {
	FileID    uint64
	TargetURI string
}

// encodeMetaFileRecord reuses the key codec's fixed-width/length-prefixed
// tuple encoding for the value too: it is already a self-delimiting codec,
// and nothing about this value needs to be byte-ordered.
func encodeMetaFileRecord(fileID uint64, targetURI string) []byte {
	return keycodec.NewBuilder().Uint64(fileID).String(targetURI).Bytes()
}

func decodeMetaFileRecord(value []byte) (MetaFileRecord, error) {
	r := keycodec.NewReader(value)
	fileID, err := r.Uint64()
	if err != nil {
		return MetaFileRecord{}, fmt.Errorf("index: decode metafile record: %w", err)
	}
	targetURI, err := r.String()
	if err != nil {
		return MetaFileRecord{}, fmt.Errorf("index: decode metafile record: %w", err)
	}
	return MetaFileRecord{FileID: fileID, TargetURI: targetURI}, nil
}

// NewPrimaryKey encodes the primary-table key for a MetaFileID.
func NewPrimaryKey(metaFileID uint64) []byte {
	return keycodec.NewKey(TagMetaFileByID).Uint64(metaFileID).Bytes()
}

// GetMetaFile reads the primary record for a MetaFileID.
func GetMetaFile(txn *kvstore.Txn, metaFileID uint64) (MetaFileRecord, bool, error) {
	val, ok, err := txn.Get(NewPrimaryKey(metaFileID))
	if err != nil || !ok {
		return MetaFileRecord{}, ok, err
	}
	rec, err := decodeMetaFileRecord(val)
	return rec, true, err
}
