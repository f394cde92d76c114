package driftmq

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	dict := map[string]any{
		"pubkey": []byte{1, 2, 3},
		"hint":   []byte("tcp://127.0.0.1:9000"),
		"count":  int64(42),
	}

	encoded, err := encode(dict)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := decodeDict(encoded)
	if err != nil {
		t.Fatalf("decodeDict failed: %v", err)
	}

	if string(decoded["hint"].([]byte)) != "tcp://127.0.0.1:9000" {
		t.Errorf("hint round-trip mismatch: %v", decoded["hint"])
	}
	if decoded["count"].(int64) != 42 {
		t.Errorf("count round-trip mismatch: %v", decoded["count"])
	}
}

func TestDecodeDictRejectsNonDict(t *testing.T) {
	encoded, err := encode([]any{int64(1), int64(2)})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, err := decodeDict(encoded); err == nil {
		t.Error("expected decodeDict to reject a list, got nil error")
	}
}

func TestDecodeListOfStrings(t *testing.T) {
	encoded, err := encode([][]byte{[]byte("a"), []byte("b")})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := decode(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	list, ok := decoded.([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("expected a 2-element list, got %#v", decoded)
	}
	if string(list[0].([]byte)) != "a" || string(list[1].([]byte)) != "b" {
		t.Errorf("unexpected list contents: %#v", list)
	}
}
