package driftmq

import (
	"testing"
	"time"
)

func TestHintOption(t *testing.T) {
	req := &sendRequest{}
	Hint("tcp://127.0.0.1:9000").applyTo(req)
	if req.hint != "tcp://127.0.0.1:9000" {
		t.Errorf("hint not applied, got %q", req.hint)
	}
}

func TestOptionalAndIncomingOptions(t *testing.T) {
	req := &sendRequest{}
	Optional().applyTo(req)
	Incoming().applyTo(req)
	if !req.optional {
		t.Error("Optional did not set optional flag")
	}
	if !req.incoming {
		t.Error("Incoming did not set incoming flag")
	}
}

func TestKeepAliveOnlyRaises(t *testing.T) {
	req := &sendRequest{}
	KeepAlive(10 * time.Second).applyTo(req)
	KeepAlive(5 * time.Second).applyTo(req)
	if req.keepAlive != 10*time.Second {
		t.Errorf("expected keepAlive to stay at 10s, got %v", req.keepAlive)
	}
	KeepAlive(30 * time.Second).applyTo(req)
	if req.keepAlive != 30*time.Second {
		t.Errorf("expected keepAlive to raise to 30s, got %v", req.keepAlive)
	}
}

func TestPartAndSerializedAppendParts(t *testing.T) {
	req := &sendRequest{}
	Part([]byte("a")).applyTo(req)
	PartString("b").applyTo(req)
	Serialized([]byte("c")).applyTo(req)

	if len(req.parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(req.parts))
	}
	if string(req.parts[0]) != "a" || string(req.parts[1]) != "b" || string(req.parts[2]) != "c" {
		t.Errorf("unexpected parts: %q %q %q", req.parts[0], req.parts[1], req.parts[2])
	}
}
