package driftmq

import "testing"

func TestPubkeyEqual(t *testing.T) {
	var a, b [32]byte
	a[0], b[0] = 7, 7
	if !pubkeyEqual(a, b) {
		t.Error("expected equal pubkeys to compare equal")
	}
	b[31] = 1
	if pubkeyEqual(a, b) {
		t.Error("expected differing pubkeys to compare unequal")
	}
}

func TestBoolMeta(t *testing.T) {
	if boolMeta(true) != "1" {
		t.Errorf("expected \"1\" for true, got %q", boolMeta(true))
	}
	if boolMeta(false) != "0" {
		t.Errorf("expected \"0\" for false, got %q", boolMeta(false))
	}
}

func TestAllowDenied(t *testing.T) {
	d := Denied()
	if !d.IsDenied() {
		t.Error("Denied() should report IsDenied() == true")
	}
	a := Allow{AuthLevel: AuthBasic}
	if a.IsDenied() {
		t.Error("a non-denied Allow should report IsDenied() == false")
	}
}
