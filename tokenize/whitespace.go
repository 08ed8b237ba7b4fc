package tokenize

import "strings"

// Whitespace returns a trivial tokenizer that splits on Unicode whitespace and
// lowercases each piece. It exists for tests and callers that want
// deterministic, dependency-free tokenization instead of the Unicode
// default.
func Whitespace() Tokenizer {
	return whitespaceTokenizer{}
}

type whitespaceTokenizer struct{}

func (whitespaceTokenizer) Tokenize(data []byte) Iterator {
	text := string(data)
	fields := strings.Fields(text)
	toks := make([]Token, 0, len(fields))
	offset := 0
	for i, f := range fields {
		start := strings.Index(text[offset:], f) + offset
		toks = append(toks, Token{
			Text:      strings.ToLower(f),
			ByteStart: start,
			ByteEnd:   start + len(f),
			Position:  i,
		})
		offset = start + len(f)
	}
	return &sliceIterator{toks: toks}
}

type sliceIterator struct {
	toks []Token
	i    int
}

func (it *sliceIterator) Next() (Token, bool) {
	if it.i >= len(it.toks) {
		return Token{}, false
	}
	t := it.toks[it.i]
	it.i++
	return t, true
}
