// Package driftmq is an asynchronous, authenticated request/command router
// over ZeroMQ. A Proxy binds a CURVE-secured ROUTER socket for incoming
// connections, dials outgoing DEALER sockets to known peers on demand, and
// dispatches resolved "category.command" tokens to a bounded worker pool —
// one goroutine owns all shared peer and scheduling state, communicated with
// only through typed control messages.
package driftmq
