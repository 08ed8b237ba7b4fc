// Package tokenize defines the full-text tokenizer contract: given a byte
// range, yield a finite sequence of normalized term tokens with positions.
// The default implementation is a Unicode word splitter.
package tokenize

// Token is one normalized term yielded by a Tokenizer.
type Token struct {
	Text      string
	ByteStart int
	ByteEnd   int
	Position  int
}

// Iterator yields tokens one at a time until exhausted.
type Iterator interface {
	// Next returns the next token, or ok=false once exhausted.
	Next() (Token, bool)
}

// Tokenizer opens an Iterator over a byte range.
type Tokenizer interface {
	Tokenize(data []byte) Iterator
}
