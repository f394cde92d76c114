package driftmq

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"
)

// controlVerb is frame 0 of a control-channel message: one of SEND, REPLY,
// CONNECT, DISCONNECT, QUIT.
type controlVerb string

const (
	verbSend       controlVerb = "SEND"
	verbReply      controlVerb = "REPLY"
	verbConnect    controlVerb = "CONNECT"
	verbDisconnect controlVerb = "DISCONNECT"
	verbQuit       controlVerb = "QUIT"
)

// controlEndpoint is the inproc address the proxy's control ROUTER binds to;
// callers dial a DEALER to it. Scoped per Proxy instance by id so multiple
// Proxy objects in one process never collide on the same inproc name.
func controlEndpoint(instanceID uint64) string {
	return fmt.Sprintf("inproc://driftmq.control.%d", instanceID)
}

// Caller is a handle a goroutine uses to talk to the proxy. Go has no
// per-goroutine-local storage the way LokiMQ relies on per-thread storage
// for its control socket, so driftmq hands back an explicit handle instead
// of attaching one implicitly. A Caller's underlying DEALER socket is not
// safe for concurrent use, so send is serialized with a mutex.
type Caller struct {
	mu   sync.Mutex
	sock zmq4.Socket
}

// send writes a two-frame control message: the verb, then the bencoded
// payload dictionary.
func (c *Caller) send(verb controlVerb, dict map[string]any) error {
	body, err := encode(dict)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock.Send(zmq4.NewMsgFrom([]byte(verb), body))
}

func (c *Caller) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock.Close()
}

// callerRegistry centrally tracks every Caller so Close() can close them all
// before joining the proxy goroutine.
type callerRegistry struct {
	mu      sync.Mutex
	callers []*Caller
	closing atomic.Bool
}

func (r *callerRegistry) register(c *Caller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing.Load() {
		return ErrClosed
	}
	r.callers = append(r.callers, c)
	return nil
}

func (r *callerRegistry) closeAll() {
	r.closing.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.callers {
		_ = c.close()
	}
	r.callers = nil
}

// controlMessage is the decoded form of a received control frame pair,
// covering every verb's possible fields. Only the fields relevant to
// msg.verb are populated.
type controlMessage struct {
	verb      controlVerb
	pubkey    [32]byte
	send      [][]byte
	hint      string
	optional  bool
	incoming  bool
	keepAlive int64 // milliseconds

	// authLevel/remoteSN are only meaningful on CONNECT: the operator
	// dialing a specific known peer is trusted to state its role up
	// front, the same way lokimq's connect_remote takes them as
	// parameters rather than deriving them from ZAP (ZAP only applies to
	// peers dialing us, whose identity we don't already know in advance).
	authLevel AuthLevel
	remoteSN  bool
}

func decodeControlMessage(frames [][]byte) (*controlMessage, error) {
	if len(frames) < 1 {
		return nil, ErrUnknownVerb
	}
	verb := controlVerb(frames[0])
	msg := &controlMessage{verb: verb}
	if len(frames) < 2 || len(frames[1]) == 0 {
		return msg, nil
	}
	dict, err := decodeDict(frames[1])
	if err != nil {
		return nil, err
	}
	if pk, ok := dict["pubkey"].([]byte); ok && len(pk) == 32 {
		copy(msg.pubkey[:], pk)
	}
	if list, ok := dict["send"].([]any); ok {
		for _, part := range list {
			if b, ok := part.([]byte); ok {
				msg.send = append(msg.send, b)
			}
		}
	}
	if hint, ok := dict["hint"].([]byte); ok {
		msg.hint = string(hint)
	}
	if opt, ok := dict["optional"].(int64); ok {
		msg.optional = opt != 0
	}
	if inc, ok := dict["incoming"].(int64); ok {
		msg.incoming = inc != 0
	}
	if ka, ok := dict["keep-alive"].(int64); ok {
		msg.keepAlive = ka
	}
	if auth, ok := dict["auth"].(int64); ok {
		msg.authLevel = AuthLevel(auth)
	}
	if sn, ok := dict["service_node"].(int64); ok {
		msg.remoteSN = sn != 0
	}
	return msg, nil
}
