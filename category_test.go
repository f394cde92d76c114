package driftmq

import "testing"

func TestAddCategoryValidation(t *testing.T) {
	r := newCategoryRegistry()

	if err := r.AddCategory("valid", Access{}, 0, DefaultMaxQueue); err != nil {
		t.Fatalf("AddCategory failed: %v", err)
	}
	if err := r.AddCategory("valid", Access{}, 0, DefaultMaxQueue); err != ErrDuplicateCategory {
		t.Errorf("expected ErrDuplicateCategory, got %v", err)
	}
	if err := r.AddCategory("has.dot", Access{}, 0, DefaultMaxQueue); err != ErrInvalidName {
		t.Errorf("expected ErrInvalidName for dotted name, got %v", err)
	}
	if err := r.AddCategory("", Access{}, 0, DefaultMaxQueue); err != ErrInvalidName {
		t.Errorf("expected ErrInvalidName for empty name, got %v", err)
	}
}

func TestAddCommandRequiresCategory(t *testing.T) {
	r := newCategoryRegistry()
	if err := r.AddCommand("missing", "cmd", func(*Message) {}); err != ErrUnknownCategory {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}

	_ = r.AddCategory("cat", Access{}, 0, DefaultMaxQueue)
	if err := r.AddCommand("cat", "cmd", func(*Message) {}); err != nil {
		t.Fatalf("AddCommand failed: %v", err)
	}
	if err := r.AddCommand("cat", "cmd", func(*Message) {}); err != ErrDuplicateCommand {
		t.Errorf("expected ErrDuplicateCommand, got %v", err)
	}
}

func TestSealRejectsFurtherConfiguration(t *testing.T) {
	r := newCategoryRegistry()
	_ = r.AddCategory("cat", Access{}, 0, DefaultMaxQueue)
	r.seal()

	if err := r.AddCategory("other", Access{}, 0, DefaultMaxQueue); err != ErrSealed {
		t.Errorf("expected ErrSealed for AddCategory, got %v", err)
	}
	if err := r.AddCommand("cat", "cmd", func(*Message) {}); err != ErrSealed {
		t.Errorf("expected ErrSealed for AddCommand, got %v", err)
	}
}

func TestResolveDirectAndAliased(t *testing.T) {
	r := newCategoryRegistry()
	_ = r.AddCategory("cat", Access{}, 0, DefaultMaxQueue)
	_ = r.AddCommand("cat", "cmd", func(*Message) {})
	_ = r.AddCommandAlias("old.cmd", "cat.cmd")

	cat, entry, canonical, err := r.resolve("cat.cmd")
	if err != nil || cat == nil || entry == nil || canonical != "cat.cmd" {
		t.Fatalf("direct resolve failed: cat=%v entry=%v canonical=%q err=%v", cat, entry, canonical, err)
	}

	cat, entry, canonical, err = r.resolve("old.cmd")
	if err != nil || cat == nil || entry == nil || canonical != "cat.cmd" {
		t.Fatalf("aliased resolve failed: cat=%v entry=%v canonical=%q err=%v", cat, entry, canonical, err)
	}

	if _, _, _, err := r.resolve("cat.nope"); err != ErrUnknownCategory {
		t.Errorf("expected ErrUnknownCategory for unknown command, got %v", err)
	}
	if _, _, _, err := r.resolve("malformed"); err != ErrUnknownCategory {
		t.Errorf("expected ErrUnknownCategory for a token with no dot, got %v", err)
	}
}

func TestCheckAccess(t *testing.T) {
	cat := newCategory("admin", Access{AuthMin: AuthAdmin, RemoteSNRequired: true, LocalSNRequired: true}, 0, DefaultMaxQueue)

	if checkAccess(cat, AuthBasic, true, true) {
		t.Error("expected denial: peer auth below minimum")
	}
	if checkAccess(cat, AuthAdmin, false, true) {
		t.Error("expected denial: remote service-node required")
	}
	if checkAccess(cat, AuthAdmin, true, false) {
		t.Error("expected denial: local service-node required")
	}
	if !checkAccess(cat, AuthAdmin, true, true) {
		t.Error("expected admission when every requirement is met")
	}
}

func TestPendingQueueBoundAndDrop(t *testing.T) {
	cat := newCategory("bounded", Access{}, 0, 2)

	if !cat.tryEnqueue(&job{}) {
		t.Fatal("first enqueue should have succeeded")
	}
	if !cat.tryEnqueue(&job{}) {
		t.Fatal("second enqueue should have succeeded")
	}
	if cat.tryEnqueue(&job{}) {
		t.Error("third enqueue should have been dropped, queue is at maxQueue")
	}

	if j := cat.popPending(); j == nil {
		t.Error("expected a pending job to pop")
	}
	if !cat.tryEnqueue(&job{}) {
		t.Error("enqueue should succeed again after draining one slot")
	}
}

func TestPendingQueueUnboundedWhenNegative(t *testing.T) {
	cat := newCategory("unbounded", Access{}, 0, -1)
	for i := 0; i < 1000; i++ {
		if !cat.tryEnqueue(&job{}) {
			t.Fatalf("enqueue %d should not have been dropped with maxQueue=-1", i)
		}
	}
}

func TestZeroMaxQueueDropsImmediately(t *testing.T) {
	cat := newCategory("dropall", Access{}, 0, 0)
	if cat.tryEnqueue(&job{}) {
		t.Error("maxQueue=0 should drop every enqueue attempt")
	}
}
