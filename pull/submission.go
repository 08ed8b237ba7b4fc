package pull

import "earthfs/uri"

// Submission is one fetched blob moving through the pull pipeline: either
// the meta-file a stream line named, or the target file it references. A
// reader fiber dereferences one stream URI into a (file, meta-file) pair
// occupying two consecutive queue slots; either half of the pair may be a
// bubble (nil) instead, already known locally or malformed.
type Submission struct {
	// URI is the content URI the bytes were fetched and digest-verified
	// against.
	URI uri.ContentURI
	// Body is the fetched blob's bytes.
	Body []byte
}
