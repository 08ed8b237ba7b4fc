// Package uri parses and validates EarthFS content URIs,
// <algo>://<hex-hash>, and verifies a fetched byte stream's digest against
// its claimed URI before a pulled file is accepted.
package uri

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/multiformats/go-multihash"

	"earthfs/kinderr"
)

const separator = "://"

// ContentURI is a parsed <algo>://<hash> content URI.
type ContentURI struct {
	Algo string
	Hash string
}

// String renders the URI in canonical form.
func (u ContentURI) String() string {
	return u.Algo + separator + u.Hash
}

// Parse splits s into its algo and hash components. It does not require the
// algo to be a known hash algorithm; callers that need that check call
// ValidAlgo or VerifyDigest. This mirrors the original: URI syntax and
// digest verification are independent concerns, and the parser alone is
// used for routing (e.g. the TargetURIAndMetaFileID index) where the
// referenced file need not exist locally yet.
func Parse(s string) (ContentURI, error) {
	idx := strings.Index(s, separator)
	if idx <= 0 {
		return ContentURI{}, kinderr.New(kinderr.Malformed, "uri.Parse", fmt.Errorf("missing %q separator in %q", separator, s))
	}
	algo := s[:idx]
	hash := s[idx+len(separator):]
	if hash == "" {
		return ContentURI{}, kinderr.New(kinderr.Malformed, "uri.Parse", fmt.Errorf("empty hash in %q", s))
	}
	return ContentURI{Algo: algo, Hash: hash}, nil
}

// algoCode resolves an EarthFS algo token to a multihash code. Content URIs
// use the plain digest names ("sha256://..."), which multihash spells with a
// family prefix ("sha2-256"), so the common ones are aliased here.
func algoCode(algo string) (uint64, bool) {
	name := strings.ToLower(algo)
	switch name {
	case "sha256":
		name = "sha2-256"
	case "sha384":
		name = "sha2-384"
	case "sha512":
		name = "sha2-512"
	}
	code, ok := multihash.Names[name]
	return code, ok
}

// ValidAlgo reports whether algo is a hash algorithm name multihash knows.
func ValidAlgo(algo string) bool {
	_, ok := algoCode(algo)
	return ok
}

// VerifyDigest re-hashes data with the algorithm named in u.Algo and
// compares it (case-insensitively) against u.Hash, returning a Malformed
// error on any mismatch or unknown algorithm.
func VerifyDigest(u ContentURI, data []byte) error {
	code, ok := algoCode(u.Algo)
	if !ok {
		return kinderr.New(kinderr.Malformed, "uri.VerifyDigest", fmt.Errorf("unknown hash algorithm %q", u.Algo))
	}
	sum, err := multihash.Sum(data, code, -1)
	if err != nil {
		return kinderr.New(kinderr.Fatal, "uri.VerifyDigest", err)
	}
	decoded, err := multihash.Decode(sum)
	if err != nil {
		return kinderr.New(kinderr.Fatal, "uri.VerifyDigest", err)
	}
	want, err := hex.DecodeString(u.Hash)
	if err != nil {
		return kinderr.New(kinderr.Malformed, "uri.VerifyDigest", fmt.Errorf("hash is not hex: %w", err))
	}
	if !bytes.Equal(decoded.Digest, want) {
		return kinderr.New(kinderr.Malformed, "uri.VerifyDigest", fmt.Errorf("digest mismatch for %s", u.Algo))
	}
	return nil
}

// ParseFileURL builds a ContentURI from the <algo> and <hash> segments of a
// pull upstream file path /efs/file/<algo>/<hash>. The caller splits the
// path; no validation is done here.
func ParseFileURL(algo, hash string) ContentURI {
	return ContentURI{Algo: algo, Hash: hash}
}
