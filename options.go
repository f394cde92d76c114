package driftmq

import "time"

// SendOption is the tagged option sum type that replaces LokiMQ's variadic
// send_option::* template arguments with typed values instead of template
// dispatch. Each implementation mutates the in-flight sendRequest before it
// is serialized into the control dictionary that crosses the thread
// boundary to the proxy.
type SendOption interface {
	applyTo(*sendRequest)
}

// sendRequest accumulates the effect of every SendOption passed to Send, plus
// the base command and parts, before being handed to the control channel.
type sendRequest struct {
	pubkey    [32]byte
	cmd       string
	parts     [][]byte
	hint      string
	optional  bool
	incoming  bool
	keepAlive time.Duration
}

type hintOption string

func (h hintOption) applyTo(r *sendRequest) { r.hint = string(h) }

// Hint supplies a candidate connect address to use if no connection to the
// peer exists yet, saving a call to the peer-lookup callback.
func Hint(address string) SendOption { return hintOption(address) }

type optionalOption struct{}

func (optionalOption) applyTo(r *sendRequest) { r.optional = true }

// Optional drops the send instead of establishing a new connection if no
// connection (incoming or outgoing) to the peer currently exists.
func Optional() SendOption { return optionalOption{} }

type incomingOption struct{}

func (incomingOption) applyTo(r *sendRequest) { r.incoming = true }

// Incoming requires the send to go out over an existing incoming route;
// it is dropped rather than opening a new outgoing connection.
func Incoming() SendOption { return incomingOption{} }

type keepAliveOption time.Duration

func (k keepAliveOption) applyTo(r *sendRequest) {
	if time.Duration(k) > r.keepAlive {
		r.keepAlive = time.Duration(k)
	}
}

// KeepAlive raises (never lowers) the idle timeout applied to the outgoing
// connection used for this send.
func KeepAlive(d time.Duration) SendOption { return keepAliveOption(d) }

type serializedOption []byte

func (s serializedOption) applyTo(r *sendRequest) {
	r.parts = append(r.parts, []byte(s))
}

// Serialized appends a precomputed bencode payload as a message part,
// letting a caller serialize once and reuse the bytes across many sends to
// different peers instead of re-encoding per recipient.
func Serialized(data []byte) SendOption { return serializedOption(data) }

// Part appends a plain message part. It is a SendOption purely for call-site
// symmetry with the other options; it never mutates control metadata.
type partOption []byte

func (p partOption) applyTo(r *sendRequest) { r.parts = append(r.parts, []byte(p)) }

// Part wraps a raw byte slice as an additional message frame.
func Part(data []byte) SendOption { return partOption(data) }

// PartString wraps a string as an additional message frame.
func PartString(s string) SendOption { return partOption([]byte(s)) }
