package tokenize

import (
	"strings"
	"unicode"

	"github.com/clipperhouse/uax29/v2/words"
)

// Default returns the default tokenizer: a Unicode word splitter,
// lowercasing and dropping segments that contain no letter or digit
// (whitespace, punctuation).
func Default() Tokenizer {
	return uax29Tokenizer{}
}

type uax29Tokenizer struct{}

func (uax29Tokenizer) Tokenize(data []byte) Iterator {
	seg := words.FromBytes(data)
	return &uax29Iterator{next: func() ([]byte, bool) {
		if !seg.Next() {
			return nil, false
		}
		return seg.Value(), true
	}}
}

// uax29Iterator tracks byte offsets by accumulation: UAX #29 segmentation is
// exhaustive, so consecutive segments tile the input with no gaps.
type uax29Iterator struct {
	next       func() ([]byte, bool)
	byteOffset int
	position   int
}

func (it *uax29Iterator) Next() (Token, bool) {
	for {
		raw, ok := it.next()
		if !ok {
			return Token{}, false
		}
		start := it.byteOffset
		it.byteOffset += len(raw)
		if !hasWordRune(raw) {
			continue
		}
		tok := Token{
			Text:      strings.ToLower(string(raw)),
			ByteStart: start,
			ByteEnd:   start + len(raw),
			Position:  it.position,
		}
		it.position++
		return tok, true
	}
}

func hasWordRune(b []byte) bool {
	for _, r := range string(b) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
