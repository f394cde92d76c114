package driftmq

import (
	"github.com/go-zeromq/zmq4"
	"github.com/go-zeromq/zmq4/security/curve"
)

// CURVE (http://curvezmq.org/) is the wire-level encryption/authentication
// mechanism driftmq relies on for encrypted-and-authenticated peer
// connections; it is part of the transport and treated as an external
// collaborator, same as the rest of zmq4. Wiring it in is just socket
// construction: zmq4's curve mechanism performs the X25519 handshake and,
// on the server side, consults whatever is bound at the well-known ZAP
// inproc endpoint (auth.go's Authenticator) before admitting the
// connection — the transport's handshake stays separate from driftmq's own
// ZAP dialog.

func serverSecurity(pubkey, privkey [32]byte) zmq4.Security {
	return curve.NewServer(privkey, pubkey)
}

func clientSecurity(clientPub, clientPriv, serverPub [32]byte) zmq4.Security {
	return curve.NewClient(clientPub, clientPriv, serverPub)
}
