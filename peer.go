package driftmq

import (
	"time"

	"github.com/go-zeromq/zmq4"
)

// peerRecord tracks everything known about one remote pubkey: its access
// level, its live routes, and its idle bookkeeping. Owned exclusively by the
// proxy goroutine; never locked. Identity key is the 32-byte pubkey, mirroring
// lokimq's pk_hash-keyed unordered_map<std::string, peer_info> keyed on the
// raw pubkey bytes.
type peerRecord struct {
	serviceNode bool
	authLevel   AuthLevel

	// incomingRoute is the listener's routing id for this peer, set iff we
	// currently have a live incoming connection. nil means none.
	incomingRoute []byte

	// outgoingSlot indexes into remotes/pollSlots, or -1 if we have no
	// outgoing connection to this peer.
	outgoingSlot int

	lastActivity time.Time
	idleExpiry   time.Duration
}

func (p *peerRecord) touch() { p.lastActivity = time.Now() }

// hasRoute reports whether at least one of incomingRoute/outgoingSlot is
// still set. A record with neither should be removed from the table
// entirely.
func (p *peerRecord) hasRoute() bool {
	return p.incomingRoute != nil || p.outgoingSlot >= 0
}

// remoteConn is one entry of the remotes vector: an outgoing socket paired
// with the pubkey it connects to. Its index must always match the
// peerRecord.outgoingSlot of that pubkey, and pollSlots must be kept the
// same length and in the same order, because the underlying poller requires
// its descriptors contiguous.
type remoteConn struct {
	pubkey [32]byte
	sock   zmq4.Socket
}

// peerTable is the in-memory peer map plus the parallel remotes/pollSlots
// vectors, all proxy-goroutine-owned.
type peerTable struct {
	peers     map[[32]byte]*peerRecord
	remotes   []remoteConn
	pollSlots []zmq4.Socket // kept parallel to remotes; index i mirrors remotes[i]
}

func newPeerTable() *peerTable {
	return &peerTable{peers: make(map[[32]byte]*peerRecord)}
}

func (t *peerTable) get(pubkey [32]byte) (*peerRecord, bool) {
	p, ok := t.peers[pubkey]
	return p, ok
}

func (t *peerTable) getOrCreate(pubkey [32]byte) *peerRecord {
	if p, ok := t.peers[pubkey]; ok {
		return p
	}
	p := &peerRecord{outgoingSlot: -1}
	t.peers[pubkey] = p
	return p
}

// appendRemote opens a new outgoing slot for pubkey and returns its index.
func (t *peerTable) appendRemote(pubkey [32]byte, sock zmq4.Socket) int {
	idx := len(t.remotes)
	t.remotes = append(t.remotes, remoteConn{pubkey: pubkey, sock: sock})
	t.pollSlots = append(t.pollSlots, sock)
	return idx
}

// removeRemoteAt closes slot idx via swap-and-pop: the last element moves
// into idx's place and both vectors shrink by one, keeping poll descriptors
// contiguous. The swapped peer's outgoingSlot is rewritten to its new index.
// Returns the pubkey that used to occupy idx, so the caller can update that
// peer's record.
func (t *peerTable) removeRemoteAt(idx int) [32]byte {
	removedPubkey := t.remotes[idx].pubkey
	last := len(t.remotes) - 1

	if idx != last {
		t.remotes[idx] = t.remotes[last]
		t.pollSlots[idx] = t.pollSlots[last]
		if moved, ok := t.peers[t.remotes[idx].pubkey]; ok {
			moved.outgoingSlot = idx
		}
	}
	t.remotes = t.remotes[:last]
	t.pollSlots = t.pollSlots[:last]
	return removedPubkey
}

// removeIfOrphaned deletes the peer record if it no longer holds any route.
func (t *peerTable) removeIfOrphaned(pubkey [32]byte) {
	if p, ok := t.peers[pubkey]; ok && !p.hasRoute() {
		delete(t.peers, pubkey)
	}
}

// expireIdle closes any outgoing slot whose idle_expiry has elapsed since
// last_activity. closeFn is called with the
// remote socket being closed so the caller (the proxy) can actually Close()
// it and log; expireIdle only maintains peerTable bookkeeping.
func (t *peerTable) expireIdle(now time.Time, closeFn func(zmq4.Socket, [32]byte)) {
	// Iterate by index rather than range-over-map-of-peers because
	// removeRemoteAt mutates remotes/pollSlots in place; walking remotes
	// back-to-front means each swap-and-pop only moves an already-visited
	// entry (the last one) into the vacated slot, so no entry is skipped
	// and none is visited twice.
	for i := len(t.remotes) - 1; i >= 0; i-- {
		pubkey := t.remotes[i].pubkey
		p, ok := t.peers[pubkey]
		if !ok {
			continue
		}
		if p.outgoingSlot < 0 || now.Sub(p.lastActivity) <= p.idleExpiry {
			continue
		}
		sock := t.remotes[i].sock
		t.removeRemoteAt(i)
		p.outgoingSlot = -1
		closeFn(sock, pubkey)
		t.removeIfOrphaned(pubkey)
	}
}
