package driftmq

import (
	"context"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
)

func fakeDealer() zmq4.Socket {
	return zmq4.NewDealer(context.Background())
}

func TestAppendAndRemoveRemoteSwapAndPop(t *testing.T) {
	table := newPeerTable()

	var a, b, c [32]byte
	a[0], b[0], c[0] = 1, 2, 3

	idxA := table.appendRemote(a, fakeDealer())
	idxB := table.appendRemote(b, fakeDealer())
	idxC := table.appendRemote(c, fakeDealer())

	recA := table.getOrCreate(a)
	recA.outgoingSlot = idxA
	recB := table.getOrCreate(b)
	recB.outgoingSlot = idxB
	recC := table.getOrCreate(c)
	recC.outgoingSlot = idxC

	// Removing the middle entry should swap the last (c) into its place.
	removed := table.removeRemoteAt(idxB)
	if removed != b {
		t.Fatalf("expected to remove pubkey b, got %v", removed)
	}
	if len(table.remotes) != 2 {
		t.Fatalf("expected 2 remotes left, got %d", len(table.remotes))
	}
	if table.remotes[idxB].pubkey != c {
		t.Errorf("expected c to have been swapped into b's old slot")
	}
	if recC.outgoingSlot != idxB {
		t.Errorf("expected c's outgoingSlot to be rewritten to %d, got %d", idxB, recC.outgoingSlot)
	}
	if recA.outgoingSlot != idxA {
		t.Errorf("a's outgoingSlot should be untouched, got %d", recA.outgoingSlot)
	}
}

func TestRemoveIfOrphaned(t *testing.T) {
	table := newPeerTable()
	var pk [32]byte
	pk[0] = 9

	rec := table.getOrCreate(pk)
	rec.incomingRoute = []byte("route")
	table.removeIfOrphaned(pk)
	if _, ok := table.get(pk); !ok {
		t.Fatal("peer with a live incoming route should not be removed")
	}

	rec.incomingRoute = nil
	table.removeIfOrphaned(pk)
	if _, ok := table.get(pk); ok {
		t.Error("peer with no route left should have been removed")
	}
}

func TestExpireIdleClosesOnlyStalePeers(t *testing.T) {
	table := newPeerTable()
	now := time.Now()

	var fresh, stale [32]byte
	fresh[0], stale[0] = 1, 2

	idxFresh := table.appendRemote(fresh, fakeDealer())
	recFresh := table.getOrCreate(fresh)
	recFresh.outgoingSlot = idxFresh
	recFresh.idleExpiry = time.Minute
	recFresh.lastActivity = now

	idxStale := table.appendRemote(stale, fakeDealer())
	recStale := table.getOrCreate(stale)
	recStale.outgoingSlot = idxStale
	recStale.idleExpiry = time.Millisecond
	recStale.lastActivity = now.Add(-time.Hour)

	var closed []string
	table.expireIdle(now, func(_ zmq4.Socket, pubkey [32]byte) {
		closed = append(closed, string(pubkey[:]))
	})

	if len(closed) != 1 {
		t.Fatalf("expected exactly 1 peer to expire, got %d", len(closed))
	}
	if recStale.outgoingSlot != -1 {
		t.Errorf("expired peer should have outgoingSlot reset to -1, got %d", recStale.outgoingSlot)
	}
	if recFresh.outgoingSlot != 0 {
		t.Errorf("fresh peer should remain at slot 0 after the swap-and-pop shrink, got %d", recFresh.outgoingSlot)
	}
	if len(table.remotes) != 1 {
		t.Errorf("expected 1 remote left, got %d", len(table.remotes))
	}
}

func TestHasRoute(t *testing.T) {
	rec := &peerRecord{outgoingSlot: -1}
	if rec.hasRoute() {
		t.Error("a record with neither route should report hasRoute() == false")
	}
	rec.incomingRoute = []byte("x")
	if !rec.hasRoute() {
		t.Error("a record with an incoming route should report hasRoute() == true")
	}
	rec.incomingRoute = nil
	rec.outgoingSlot = 0
	if !rec.hasRoute() {
		t.Error("a record with an outgoing slot should report hasRoute() == true")
	}
}
