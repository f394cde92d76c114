package driftmq

// Message is the view handed to a command handler. It is only valid for the
// duration of the handler call: handlers must not retain a Message (or its
// Data slices) beyond their callback — the same borrowed-reference contract
// as LokiMQ's Message class doc comment.
type Message struct {
	proxy       *Proxy
	Pubkey      [32]byte
	ServiceNode bool
	Data        [][]byte

	// incomingRoute, if non-nil, is the peer's listener routing id at the
	// time this message was scheduled. Reply does not read it: replies are
	// routed by the proxy from the peer record.
	incomingRoute []byte
}

// Reply sends a response back to the originator. For a service-node
// originator this is a "strong" reply: if the connection has since dropped,
// the proxy re-establishes an outgoing connection via the peer-lookup
// callback to deliver it. For a non-service-node originator the reply is
// weak — sent via the existing routing if any, and silently dropped if the
// connection already closed, matching lokimq.h's Message::reply
// documentation exactly.
func (m *Message) Reply(cmd string, opts ...SendOption) {
	m.proxy.Send(m.Pubkey, cmd, replyOptions(m.ServiceNode, opts)...)
}

// replyOptions implements the strong/weak split documented on Reply: a
// service-node originator gets the caller's options untouched (a reconnect
// is fine), anyone else gets Optional() appended so a dropped connection
// silently discards the reply instead of opening a new one.
func replyOptions(serviceNode bool, opts []SendOption) []SendOption {
	if serviceNode {
		return opts
	}
	return append(opts, Optional())
}

// CommandHandler is the callback signature applications register with
// AddCommand. It runs on a worker slot, never on the proxy goroutine.
type CommandHandler func(*Message)
