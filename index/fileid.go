package index

import (
	"earthfs/keycodec"
	"earthfs/kinderr"
	"earthfs/kvstore"
)

// AllocateFileID mints a new FileID for contentURI. FileIDs are
// monotonically assigned by whatever component first stores a file's bytes;
// the repo facade plays that role and uses this table when it stores a file
// it has not seen before.
func AllocateFileID(txn *kvstore.Txn, contentURI string) (uint64, error) {
	id, err := txn.NextID(TagFileByID)
	if err != nil {
		return 0, err
	}
	key := keycodec.NewKey(TagFileByID).Uint64(id).Bytes()
	value := keycodec.NewBuilder().String(contentURI).Bytes()
	if err := txn.Put(key, value, kvstore.NoOverwrite); err != nil {
		return 0, kinderr.New(kinderr.Fatal, "index.AllocateFileID", err)
	}
	return id, nil
}

// FileContentURI returns the content URI a FileID was allocated for.
func FileContentURI(txn *kvstore.Txn, fileID uint64) (string, bool, error) {
	key := keycodec.NewKey(TagFileByID).Uint64(fileID).Bytes()
	val, ok, err := txn.Get(key)
	if err != nil || !ok {
		return "", ok, err
	}
	r := keycodec.NewReader(val)
	uri, err := r.String()
	if err != nil {
		return "", false, kinderr.New(kinderr.Fatal, "index.FileContentURI", err)
	}
	return uri, true, nil
}
