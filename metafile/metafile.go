// Package metafile implements the meta-file framing and JSON field/fulltext
// parser. A meta-file body is a target URI, a blank line, and a JSON object
// whose values are strings or arrays of strings.
package metafile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"earthfs/kinderr"
)

const (
	// URIMax is the maximum byte length of the target URI.
	URIMax = 1024
	// minTargetURILen is the minimum accepted target URI length.
	minTargetURILen = 8
	// maxBodyBytes caps how much of a meta-file body the parser looks at;
	// anything beyond it is dropped before framing is even scanned.
	maxBodyBytes = 100 * 1024
)

var delimiters = [][]byte{
	[]byte("\r\n\r\n"),
	[]byte("\r\r"),
	[]byte("\n\n"),
}

// ScanFraming locates the <target-uri><EOL><EOL> delimiter within the first
// URIMax+1 bytes of body and returns the target URI and the remaining JSON
// payload. It returns a kinderr.Malformed error if no delimiter is found in
// range or the URI is shorter than 8 bytes or longer than URIMax.
func ScanFraming(body []byte) (targetURI string, jsonBody []byte, err error) {
	if len(body) > maxBodyBytes {
		body = body[:maxBodyBytes]
	}

	scanLimit := len(body)
	if scanLimit > URIMax+1 {
		scanLimit = URIMax + 1
	}
	head := body[:scanLimit]

	bestIdx, bestLen := -1, 0
	for _, d := range delimiters {
		if idx := bytes.Index(head, d); idx != -1 && (bestIdx == -1 || idx < bestIdx) {
			bestIdx, bestLen = idx, len(d)
		}
	}
	if bestIdx == -1 {
		return "", nil, kinderr.New(kinderr.Malformed, "metafile.ScanFraming", fmt.Errorf("no EOL EOL delimiter found"))
	}

	uriBytes := body[:bestIdx]
	if len(uriBytes) < minTargetURILen {
		return "", nil, kinderr.New(kinderr.Malformed, "metafile.ScanFraming", fmt.Errorf("target URI too short (%d bytes)", len(uriBytes)))
	}
	if len(uriBytes) > URIMax {
		return "", nil, kinderr.New(kinderr.Malformed, "metafile.ScanFraming", fmt.Errorf("target URI too long (%d bytes)", len(uriBytes)))
	}

	return string(uriBytes), body[bestIdx+bestLen:], nil
}

// FieldSink receives events from ParseJSON: one Field call per (key, value)
// pair except when key is "fulltext", in which case FullText is called with
// the text instead.
type FieldSink interface {
	Field(field, value string) error
	FullText(text string) error
}

// fulltextField is the one reserved field name: its values go to the
// tokenizer, never into the field indexes.
const fulltextField = "fulltext"

// ParseJSON drives an explicit state machine
// (Start/Top/FieldValue/FieldArray/End) over jsonBody using a pull-style
// JSON token stream. Any JSON event other than a string value, a string
// array, or object/array delimiters halts parsing with a Malformed error.
// The entire input need not be consumed.
func ParseJSON(jsonBody []byte, sink FieldSink) error {
	dec := json.NewDecoder(bytes.NewReader(jsonBody))

	tok, err := dec.Token()
	if err != nil {
		return malformed("read opening token", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return malformed("expected object", fmt.Errorf("got %v", tok))
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return malformed("read field name", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return malformed("field name is not a string", fmt.Errorf("got %v", keyTok))
		}

		valTok, err := dec.Token()
		if err != nil {
			return malformed("read field value", err)
		}

		switch v := valTok.(type) {
		case string:
			if err := emit(sink, key, v); err != nil {
				return err
			}
		case json.Delim:
			if v != '[' {
				return malformed("unexpected delimiter as field value", fmt.Errorf("field %q: %v", key, v))
			}
			if err := parseArray(dec, key, sink); err != nil {
				return err
			}
		default:
			return malformed("field value is not a string or array", fmt.Errorf("field %q has value %v", key, valTok))
		}
	}

	closeTok, err := dec.Token()
	if err != nil {
		return malformed("read closing token", err)
	}
	if d, ok := closeTok.(json.Delim); !ok || d != '}' {
		return malformed("expected object close", fmt.Errorf("got %v", closeTok))
	}
	return nil
}

func parseArray(dec *json.Decoder, key string, sink FieldSink) error {
	for dec.More() {
		elemTok, err := dec.Token()
		if err != nil {
			return malformed("read array element", err)
		}
		s, ok := elemTok.(string)
		if !ok {
			return malformed("array element is not a string", fmt.Errorf("field %q", key))
		}
		if err := emit(sink, key, s); err != nil {
			return err
		}
	}
	closeTok, err := dec.Token()
	if err != nil {
		return malformed("read array close", err)
	}
	if d, ok := closeTok.(json.Delim); !ok || d != ']' {
		return malformed("expected array close", fmt.Errorf("got %v", closeTok))
	}
	return nil
}

func emit(sink FieldSink, key, value string) error {
	if value == "" {
		return nil // empty-value insertions are suppressed
	}
	if key == fulltextField {
		return sink.FullText(value)
	}
	return sink.Field(key, value)
}

func malformed(op string, err error) error {
	return kinderr.New(kinderr.Malformed, "metafile.ParseJSON: "+op, err)
}

// ReadAll reads a meta-file body from r, capped at maxBodyBytes.
func ReadAll(r io.Reader) ([]byte, error) {
	limited := io.LimitReader(r, maxBodyBytes)
	return io.ReadAll(limited)
}
