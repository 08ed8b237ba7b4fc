package index

import (
	"earthfs/kvstore"
	"earthfs/metafile"
	"earthfs/tokenize"
)

// IngestMetaFile parses body as a meta-file authored by fileID and indexes
// it within txn, returning the new MetaFileID. The caller supplies a
// meta-file body and an owning file ID; this does framing, JSON parsing, and
// all index writes as one unit.
//
// A malformed body (bad framing or bad JSON) returns a kinderr.Malformed
// error and id 0. That error is non-fatal to the caller: they log a warning
// and skip the input, but no index row for the abandoned metafile_id may
// survive. A single ingest call already gets that for free, since its
// transaction is discarded on error. The pull writer, however, batches
// several meta-files into one transaction and commits the batch even when
// one meta-file is skipped, so this function stages its writes and only
// applies them to txn once the whole meta-file (framing, primary row, every
// field, every fulltext token) has parsed without error.
func IngestMetaFile(txn *kvstore.Txn, tok tokenize.Tokenizer, fileID uint64, body []byte) (uint64, error) {
	targetURI, jsonBody, err := metafile.ScanFraming(body)
	if err != nil {
		return 0, err
	}

	staged := newStagingTxn(txn)
	w := NewWriter(staged)
	metaFileID, err := w.WriteMetaFile(fileID, targetURI)
	if err != nil {
		return 0, err
	}

	sink := &ingestSink{writer: w, metaFileID: metaFileID, tokenizer: tok}
	if err := metafile.ParseJSON(jsonBody, sink); err != nil {
		return 0, err
	}
	if err := staged.Flush(); err != nil {
		return 0, err
	}
	return metaFileID, nil
}

type ingestSink struct {
	writer     *Writer
	metaFileID uint64
	tokenizer  tokenize.Tokenizer
}

func (s *ingestSink) Field(field, value string) error {
	return s.writer.WriteField(s.metaFileID, field, value)
}

func (s *ingestSink) FullText(text string) error {
	it := s.tokenizer.Tokenize([]byte(text))
	for {
		tok, ok := it.Next()
		if !ok {
			return nil
		}
		if err := s.writer.WriteTerm(s.metaFileID, tok.Text); err != nil {
			return err
		}
	}
}
