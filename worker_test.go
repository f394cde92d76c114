package driftmq

import (
	"testing"
	"time"
)

func TestWorkerPoolIdleFreeList(t *testing.T) {
	pool := newWorkerPool(3, 3)

	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		idx, ok := pool.popIdle()
		if !ok {
			t.Fatalf("expected an idle slot at iteration %d", i)
		}
		seen[idx] = true
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 distinct slot indices, got %d", len(seen))
	}
	if _, ok := pool.popIdle(); ok {
		t.Error("expected no idle slots left")
	}

	pool.pushIdle(1)
	idx, ok := pool.popIdle()
	if !ok || idx != 1 {
		t.Errorf("expected to pop back slot 1, got %d, ok=%v", idx, ok)
	}
}

func TestRunJobRecoversPanic(t *testing.T) {
	cat := newCategory("cat", Access{}, 0, DefaultMaxQueue)
	entry := &commandEntry{name: "boom", handler: func(*Message) {
		panic("handler exploded")
	}}
	j := &job{cat: cat, entry: entry, msg: &Message{}}
	slot := &workerSlot{id: 0}

	done := make(chan struct{})
	go func() {
		runJob(slot, j, NopLogger())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runJob did not return after a panicking handler")
	}
}

func TestWorkerLoopReportsCompletion(t *testing.T) {
	pool := newWorkerPool(1, 1)
	slot := pool.slots[0]
	slot.ensureStarted(pool, NopLogger())

	var ran bool
	cat := newCategory("cat", Access{}, 0, DefaultMaxQueue)
	entry := &commandEntry{name: "ok", handler: func(*Message) { ran = true }}
	slot.jobCh <- &job{cat: cat, entry: entry, msg: &Message{}, usedGeneral: true}

	select {
	case wd := <-pool.doneCh:
		if wd.slot != 0 || wd.cat != cat || !wd.usedGeneral {
			t.Errorf("unexpected workerDone: %+v", wd)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not report completion")
	}
	if !ran {
		t.Error("handler was not invoked")
	}

	pool.shutdown()
}
