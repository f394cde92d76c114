package driftmq

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
)

// Allow is the result of an AllowFunc: either an initial auth level plus a
// service-node flag, or a denial (IsDenied() true) which refuses the
// connection outright. Mirrors lokimq.h's Allow struct exactly, plus the
// explicit denial flag lokimq signals by returning AuthLevel::denied.
type Allow struct {
	AuthLevel AuthLevel
	RemoteSN  bool
	denied    bool
}

// Denied returns an Allow that refuses the incoming connection.
func Denied() Allow { return Allow{denied: true} }

// IsDenied reports whether this Allow refuses the connection.
func (a Allow) IsDenied() bool { return a.denied }

// AllowFunc decides whether an incoming handshake is admitted and, if so,
// the connection's initial auth level and service-node status. Called once
// per incoming connection, from the Authenticator's own goroutine — never
// from the proxy goroutine, so it must not touch proxy-owned state.
type AllowFunc func(ip string, pubkey [32]byte) Allow

// zapEndpoint is the well-known ZAP RFC 27 inproc address every zmq4 CURVE
// socket dials synchronously during its handshake.
const zapEndpoint = "inproc://zeromq.zap.01"

// stampedIdentity is what the authenticator hands back to the proxy after a
// successful ZAP exchange, to be stamped onto the resulting peerRecord.
type stampedIdentity struct {
	pubkey   [32]byte
	auth     AuthLevel
	remoteSN bool
}

// Authenticator runs the ZAP (https://rfc.zeromq.org/spec:27/ZAP/) dialog
// that every incoming CURVE handshake is routed through. It owns a
// dedicated REP socket bound at the well-known ZAP inproc endpoint and its
// own goroutine — distinct from the proxy goroutine — since nothing it
// touches (the allow callback, its own request/response framing) is
// proxy-owned state.
type Authenticator struct {
	ctx              context.Context
	allow            AllowFunc
	log              Logger
	sock             zmq4.Socket
	stamped          chan stampedIdentity
	handshakeTimeout time.Duration

	once sync.Once
	done chan struct{}
}

// NewAuthenticator constructs (but does not start) an Authenticator.
// handshakeTimeout bounds how long the allow callback may run before a
// pending handshake is treated as timed out and denied; zero disables the
// bound.
func NewAuthenticator(ctx context.Context, allow AllowFunc, log Logger, handshakeTimeout time.Duration) *Authenticator {
	if allow == nil {
		allow = func(string, [32]byte) Allow { return Allow{AuthLevel: AuthNone} }
	}
	return &Authenticator{
		ctx:              ctx,
		allow:            allow,
		log:              log,
		stamped:          make(chan stampedIdentity, 64),
		handshakeTimeout: handshakeTimeout,
		done:             make(chan struct{}),
	}
}

// Start binds the ZAP endpoint and launches serveZAP. Must be called before
// the proxy binds its listener with CURVE security enabled, since the
// transport's CURVE mechanism dials zapEndpoint synchronously during the
// incoming handshake.
func (a *Authenticator) Start() error {
	a.sock = zmq4.NewRep(a.ctx)
	if err := a.sock.Listen(zapEndpoint); err != nil {
		return err
	}
	go a.serveZAP()
	return nil
}

// Stamped is the channel of successfully authenticated identities the proxy
// drains to create/update peer records.
func (a *Authenticator) Stamped() <-chan stampedIdentity { return a.stamped }

// serveZAP services one ZAP request at a time. Each request is six frames
// per RFC 27: version, request-id, domain, address, identity, mechanism,
// followed by mechanism-specific credentials (for CURVE, the client's
// 32-byte public key).
func (a *Authenticator) serveZAP() {
	defer close(a.done)
	for {
		msg, err := a.sock.Recv()
		if err != nil {
			select {
			case <-a.ctx.Done():
				return
			default:
				continue
			}
		}
		a.handleRequest(msg.Frames)
	}
}

func (a *Authenticator) handleRequest(frames [][]byte) {
	if len(frames) < 7 {
		a.log.Warn("zap: malformed request", "frames", len(frames))
		return
	}
	version, requestID, address := frames[0], frames[1], frames[3]
	credentials := frames[6]

	var pubkey [32]byte
	copy(pubkey[:], credentials)

	result, err := a.callAllow(string(address), pubkey)
	if err != nil {
		a.log.Warn("zap: denied incoming connection", "address", string(address), "err", err)
		a.reply(version, requestID, "400", "denied", nil, nil)
		return
	}
	if result.IsDenied() {
		a.log.Warn("zap: denied incoming connection", "address", string(address), "err", ErrAuthDenied)
		a.reply(version, requestID, "400", "denied", nil, nil)
		return
	}

	a.log.Debug("zap: admitted incoming connection",
		"address", string(address), "auth", result.AuthLevel, "service_node", result.RemoteSN)
	meta := map[string]string{"service_node": boolMeta(result.RemoteSN)}
	a.reply(version, requestID, "200", "OK", credentials, meta)

	select {
	case a.stamped <- stampedIdentity{pubkey: pubkey, auth: result.AuthLevel, remoteSN: result.RemoteSN}:
	case <-a.ctx.Done():
	}
}

// callAllow runs the allow callback, enforcing handshakeTimeout if set. The
// callback is arbitrary caller code and may block (e.g. on a network-backed
// allowlist); a slow callback must not wedge the single ZAP goroutine that
// every other pending handshake also depends on.
func (a *Authenticator) callAllow(address string, pubkey [32]byte) (Allow, error) {
	if a.handshakeTimeout <= 0 {
		return a.allow(address, pubkey), nil
	}
	resultCh := make(chan Allow, 1)
	go func() { resultCh <- a.allow(address, pubkey) }()
	select {
	case result := <-resultCh:
		return result, nil
	case <-time.After(a.handshakeTimeout):
		return Allow{}, ErrHandshake
	}
}

func boolMeta(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// reply writes the six-frame ZAP response: version, request-id,
// status-code, status-text, user-id, metadata (encoded as
// "\x04name" + length-prefixed value pairs per RFC 27; driftmq encodes it as
// a bencode dict for simplicity since only driftmq's own authenticator ever
// reads it back).
func (a *Authenticator) reply(version, requestID []byte, statusCode, statusText string, userID []byte, meta map[string]string) {
	var metaBytes []byte
	if len(meta) > 0 {
		dict := make(map[string]any, len(meta))
		for k, v := range meta {
			dict[k] = []byte(v)
		}
		if b, err := encode(dict); err == nil {
			metaBytes = b
		}
	}
	msg := zmq4.NewMsgFrom(version, requestID, []byte(statusCode), []byte(statusText), userID, metaBytes)
	if err := a.sock.Send(msg); err != nil {
		a.log.Warn("zap: failed to send response", "err", err)
	}
}

// Close closes the ZAP socket and waits for serveZAP to return.
func (a *Authenticator) Close() {
	a.once.Do(func() {
		if a.sock != nil {
			_ = a.sock.Close()
		}
	})
	<-a.done
}

// pubkeyEqual compares two pubkeys in constant time; kept here next to the
// rest of the auth surface rather than scattered inline.
func pubkeyEqual(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
