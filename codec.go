package driftmq

import "github.com/zeebo/bencode"

// Wire-format façade. The proxy and its callers only ever exchange four
// bencode shapes: signed integers, byte strings, ordered lists, and
// string-keyed ordered dictionaries — encode/decode restrict themselves to
// that surface rather than exposing the full bencode.Marshal/Unmarshal
// generality to the rest of the package.

// encode serializes a control dictionary, list, string, or integer to its
// bencode wire representation.
func encode(v any) ([]byte, error) {
	return bencode.EncodeBytes(v)
}

// decode parses a bencode payload into the matching Go shape: int64,
// []byte, []any, or map[string]any.
func decode(b []byte) (any, error) {
	var v any
	if err := bencode.DecodeBytes(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// decodeDict decodes a bencode dictionary and type-asserts the result,
// the shape every control message body uses.
func decodeDict(b []byte) (map[string]any, error) {
	v, err := decode(b)
	if err != nil {
		return nil, err
	}
	dict, ok := v.(map[string]any)
	if !ok {
		return nil, errDecodeShape
	}
	return dict, nil
}

var errDecodeShape = &decodeShapeError{}

type decodeShapeError struct{}

func (*decodeShapeError) Error() string { return "driftmq: expected a bencode dictionary" }
