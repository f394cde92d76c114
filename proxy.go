package driftmq

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
)

// State is the lifecycle stage of a Proxy: running, draining, or stopped.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

// DefaultMaxQueue is the pending-queue bound AddCategory callers reach for
// when they have no stronger opinion, mirroring LokiMQ's own default.
const DefaultMaxQueue = 200

const defaultIdleExpiryTick = 250 * time.Millisecond

var nextInstanceID atomic.Uint64

// Option configures a Proxy at construction time. Every field it touches is
// immutable once Start has run.
type Option func(*Proxy)

func WithBindAddresses(addrs ...string) Option {
	return func(p *Proxy) { p.bindAddresses = append(p.bindAddresses, addrs...) }
}

// WithGeneralWorkers sets the size of the shared worker pool, on top of
// whatever each category reserves for itself. Defaults to runtime.NumCPU().
func WithGeneralWorkers(n uint) Option {
	return func(p *Proxy) { p.generalWorkers = n }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(p *Proxy) { p.handshakeTimeout = d }
}

func WithMaxMessageSize(n int64) Option {
	return func(p *Proxy) { p.maxMsgSize = n }
}

func WithCloseLinger(d time.Duration) Option {
	return func(p *Proxy) { p.closeLinger = d }
}

// WithDefaultKeepAlive sets the idle timeout applied to outgoing connections
// opened implicitly by Send. Defaults to 30s.
func WithDefaultKeepAlive(d time.Duration) Option {
	return func(p *Proxy) { p.defaultKeepAlive = d }
}

// WithExplicitKeepAlive sets the idle timeout applied to outgoing
// connections opened by Connect when the caller supplies no override.
// Defaults to 5m.
func WithExplicitKeepAlive(d time.Duration) Option {
	return func(p *Proxy) { p.explicitKeepAlive = d }
}

func WithLogger(l Logger) Option {
	return func(p *Proxy) { p.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Proxy) { p.metrics = m }
}

// WithPeerLookup supplies the callback used to resolve a service node's
// connect address from its pubkey when a send or connect needs to open a
// new outgoing connection and was given no address hint.
func WithPeerLookup(fn func(pubkey [32]byte) string) Option {
	return func(p *Proxy) { p.peerLookup = fn }
}

// WithAllowFunc supplies the callback consulted by the ZAP authenticator for
// every incoming connection. Without one, incoming connections are admitted
// at AuthNone with no service-node flag.
func WithAllowFunc(fn AllowFunc) Option {
	return func(p *Proxy) { p.allow = fn }
}

// Proxy is the single entry point into a driftmq instance: one goroutine
// (run) owns every mutable field below the "configuration" block and is the
// only goroutine ever allowed to touch them.
type Proxy struct {
	id          uint64
	pubkey      [32]byte
	privkey     [32]byte
	serviceNode bool

	// configuration, fixed by Start
	bindAddresses     []string
	generalWorkers    uint
	handshakeTimeout  time.Duration
	maxMsgSize        int64
	closeLinger       time.Duration
	defaultKeepAlive  time.Duration
	explicitKeepAlive time.Duration
	idleExpiryTick    time.Duration
	peerLookup        func(pubkey [32]byte) string
	allow             AllowFunc
	log               Logger
	metrics           *Metrics

	categories *categoryRegistry
	callerReg  *callerRegistry

	// proxy-goroutine-owned runtime state
	peers    *peerTable
	pool     *workerPool
	authn    *Authenticator
	draining bool

	// drainCursor is the categories.order index drainPending starts its next
	// pass from, rotated forward past the last category it successfully
	// drained so no single category can starve the others.
	drainCursor int

	ctx    context.Context
	cancel context.CancelFunc

	controlRouter zmq4.Socket
	listener      zmq4.Socket

	controlCh chan controlFrame
	listenerCh chan controlFrame
	remoteCh  chan remoteFrame

	started atomic.Bool
	state   atomic.Int32
	runWG   sync.WaitGroup

	DefaultCaller *Caller
}

// controlFrame is what a single-socket reader goroutine (control router or
// listener) posts to the proxy loop for each received message.
type controlFrame struct {
	frames [][]byte
	err    error
}

// remoteFrame is the same, tagged with which outgoing peer it came from,
// since every outgoing dealer socket's reader goroutine shares one channel.
type remoteFrame struct {
	pubkey [32]byte
	frames [][]byte
	err    error
}

// New constructs a Proxy. A zero pubkey/privkey pair requests an ephemeral
// keypair (lokimq.h: "can be empty strings to automatically generate an
// ephemeral keypair"); anything else is used as given.
func New(pubkey, privkey [32]byte, serviceNode bool, opts ...Option) (*Proxy, error) {
	p := &Proxy{
		id:                nextInstanceID.Add(1),
		serviceNode:       serviceNode,
		log:               NopLogger(),
		handshakeTimeout:  10 * time.Second,
		maxMsgSize:        1 << 20,
		closeLinger:       5 * time.Second,
		defaultKeepAlive:  30 * time.Second,
		explicitKeepAlive: 5 * time.Minute,
		idleExpiryTick:    defaultIdleExpiryTick,
		categories:        newCategoryRegistry(),
		peers:             newPeerTable(),
		callerReg:         &callerRegistry{},
	}
	for _, o := range opts {
		o(p)
	}
	if pubkey == ([32]byte{}) && privkey == ([32]byte{}) {
		pub, priv, err := generateKeypair()
		if err != nil {
			return nil, err
		}
		p.pubkey, p.privkey = pub, priv
	} else {
		p.pubkey, p.privkey = pubkey, privkey
	}
	if p.generalWorkers == 0 {
		p.generalWorkers = uint(runtime.NumCPU())
	}
	if p.log == nil {
		p.log = NopLogger()
	}
	if p.allow == nil {
		p.allow = func(string, [32]byte) Allow { return Allow{AuthLevel: AuthNone} }
	}
	return p, nil
}

func (p *Proxy) Pubkey() [32]byte { return p.pubkey }
func (p *Proxy) Privkey() [32]byte { return p.privkey }
func (p *Proxy) ID() uint64        { return p.id }
func (p *Proxy) ServiceNode() bool { return p.serviceNode }
func (p *Proxy) State() State      { return State(p.state.Load()) }

func (p *Proxy) LogLevel() Level     { return p.log.Level() }
func (p *Proxy) SetLogLevel(l Level) { p.log.SetLevel(l) }

// AddCategory registers a command category. Must be called before Start.
func (p *Proxy) AddCategory(name string, access Access, reservedThreads uint, maxQueue int) error {
	return p.categories.AddCategory(name, access, reservedThreads, maxQueue)
}

// AddCommand registers a handler within an existing category. Must be
// called before Start.
func (p *Proxy) AddCommand(category, name string, handler CommandHandler) error {
	return p.categories.AddCommand(category, name, handler)
}

// AddCommandAlias maps one "category.command" token to another. Must be
// called before Start.
func (p *Proxy) AddCommandAlias(from, to string) error {
	return p.categories.AddCommandAlias(from, to)
}

// Start seals the category configuration, opens the control and (if any
// bind addresses were configured) listener sockets, and launches the proxy
// goroutine. The Proxy may not be reconfigured afterward.
func (p *Proxy) Start() error {
	if p.started.Swap(true) {
		return ErrAlreadyStarted
	}
	p.categories.seal()

	total := p.generalWorkers
	for _, name := range p.categories.order {
		total += p.categories.categories[name].reservedThreads
	}
	p.pool = newWorkerPool(total, p.generalWorkers)

	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.authn = NewAuthenticator(p.ctx, p.allow, p.log, p.handshakeTimeout)
	if err := p.authn.Start(); err != nil {
		return err
	}

	p.controlRouter = zmq4.NewRouter(p.ctx)
	if err := p.controlRouter.Listen(controlEndpoint(p.id)); err != nil {
		return err
	}
	p.controlCh = make(chan controlFrame, 64)
	go readControlLoop(p.controlRouter, p.controlCh)

	if len(p.bindAddresses) > 0 {
		p.listener = zmq4.NewRouter(p.ctx, zmq4.WithSecurity(serverSecurity(p.pubkey, p.privkey)))
		for _, addr := range p.bindAddresses {
			if err := p.listener.Listen(addr); err != nil {
				return ErrBindFailed
			}
		}
		p.listenerCh = make(chan controlFrame, 256)
		go readControlLoop(p.listener, p.listenerCh)
	}
	p.remoteCh = make(chan remoteFrame, 256)

	caller, err := p.NewCaller()
	if err != nil {
		return err
	}
	p.DefaultCaller = caller

	p.state.Store(int32(StateRunning))
	p.runWG.Add(1)
	go p.run()
	return nil
}

// NewCaller opens a fresh control connection, giving the returned handle to
// a goroutine that wants to talk to the proxy without sharing another
// goroutine's Caller (see control.go's doc comment on why this exists).
func (p *Proxy) NewCaller() (*Caller, error) {
	sock := zmq4.NewDealer(p.ctx)
	if err := sock.Dial(controlEndpoint(p.id)); err != nil {
		return nil, err
	}
	c := &Caller{sock: sock}
	if err := p.callerReg.register(c); err != nil {
		_ = sock.Close()
		return nil, err
	}
	return c, nil
}

// Send transmits cmd ("category.command") and any SendOption parts to
// pubkey over an existing outgoing connection if there is one. Otherwise,
// unless Optional or Incoming is given, it opens a new outgoing connection to
// the Hint address or the peer-lookup result, even when an incoming route to
// the peer exists; the incoming route is used only when no address is
// available.
func (p *Proxy) Send(pubkey [32]byte, cmd string, opts ...SendOption) error {
	req := &sendRequest{pubkey: pubkey, cmd: cmd}
	for _, o := range opts {
		o.applyTo(req)
	}
	dict := map[string]any{
		"pubkey": pubkey[:],
		"send":   append([][]byte{[]byte(cmd)}, req.parts...),
	}
	if req.hint != "" {
		dict["hint"] = []byte(req.hint)
	}
	if req.optional {
		dict["optional"] = int64(1)
	}
	if req.incoming {
		dict["incoming"] = int64(1)
	}
	if req.keepAlive > 0 {
		dict["keep-alive"] = int64(req.keepAlive / time.Millisecond)
	}
	return p.DefaultCaller.send(verbSend, dict)
}

// Connect opens (or refreshes) an outgoing connection to pubkey at address.
// authLevel and serviceNode state what the caller already knows about this
// specific peer, the same way lokimq's connect_remote takes them directly
// rather than deriving them from the ZAP dialog, which only applies to
// connections dialing us.
func (p *Proxy) Connect(pubkey [32]byte, address string, authLevel AuthLevel, serviceNode bool, keepAlive time.Duration) error {
	dict := map[string]any{
		"pubkey":       pubkey[:],
		"hint":         []byte(address),
		"auth":         int64(authLevel),
		"service_node": int64(0),
	}
	if serviceNode {
		dict["service_node"] = int64(1)
	}
	if keepAlive > 0 {
		dict["keep-alive"] = int64(keepAlive / time.Millisecond)
	}
	return p.DefaultCaller.send(verbConnect, dict)
}

// Disconnect closes any outgoing connection to pubkey.
func (p *Proxy) Disconnect(pubkey [32]byte) error {
	return p.DefaultCaller.send(verbDisconnect, map[string]any{"pubkey": pubkey[:]})
}

// ReplyDirect sends cmd back to pubkey over its existing incoming route
// only, without reconnecting — the low-level REPLY control verb, as
// distinct from Message.Reply's higher-level SEND-based behavior.
func (p *Proxy) ReplyDirect(pubkey [32]byte, cmd string, parts ...[]byte) error {
	dict := map[string]any{
		"pubkey": pubkey[:],
		"send":   append([][]byte{[]byte(cmd)}, parts...),
	}
	return p.DefaultCaller.send(verbReply, dict)
}

// Close requests an orderly shutdown: the proxy stops accepting new work,
// waits for in-flight jobs to finish, then tears down every socket. Close
// blocks until that sequence completes.
func (p *Proxy) Close() error {
	if !p.started.Load() {
		return ErrNotStarted
	}
	if p.State() == StateStopped {
		return nil
	}
	p.callerReg.closing.Store(true)
	_ = p.DefaultCaller.send(verbQuit, nil)
	p.runWG.Wait()
	p.callerReg.closeAll()
	return nil
}

func readControlLoop(sock zmq4.Socket, ch chan<- controlFrame) {
	for {
		msg, err := sock.Recv()
		if err != nil {
			ch <- controlFrame{err: err}
			return
		}
		ch <- controlFrame{frames: msg.Frames}
	}
}

func (p *Proxy) launchRemoteReader(pubkey [32]byte, sock zmq4.Socket) {
	go func() {
		for {
			msg, err := sock.Recv()
			if err != nil {
				select {
				case p.remoteCh <- remoteFrame{pubkey: pubkey, err: err}:
				case <-p.ctx.Done():
				}
				return
			}
			select {
			case p.remoteCh <- remoteFrame{pubkey: pubkey, frames: msg.Frames}:
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

// run is the single owner of peers, pool, and categories' mutable fields.
// Every other goroutine in this package communicates with it exclusively
// through controlCh/listenerCh/remoteCh/pool.doneCh/authn.Stamped.
func (p *Proxy) run() {
	defer p.runWG.Done()
	ticker := time.NewTicker(p.idleExpiryTick)
	defer ticker.Stop()

	for {
		// Drain any already-buffered authenticator stamps first: a
		// stamp always happens-before the first data frame from that
		// same connection at the transport level, but select does not
		// preserve that ordering across two different channels, so a
		// non-blocking priority pass closes the gap.
		for drained := true; drained; {
			select {
			case sid := <-p.authn.Stamped():
				p.onStamped(sid)
			default:
				drained = false
			}
		}

		select {
		case sid := <-p.authn.Stamped():
			p.onStamped(sid)
		case cf := <-p.controlCh:
			if cf.err == nil {
				p.handleControl(cf.frames)
			}
		case cf, ok := <-p.listenerCh:
			if ok && cf.err == nil {
				p.handleListenerFrame(cf.frames)
			}
		case rf := <-p.remoteCh:
			if rf.err != nil {
				p.handleRemoteClosed(rf.pubkey)
			} else {
				p.handleRemoteFrame(rf.pubkey, rf.frames)
			}
		case wd := <-p.pool.doneCh:
			p.onWorkerDone(wd)
		case <-ticker.C:
			if !p.draining {
				p.peers.expireIdle(time.Now(), p.closeRemote)
			}
			p.reportMetrics()
		}

		if p.draining && p.quiescent() {
			p.finishShutdown()
			return
		}
	}
}

func (p *Proxy) quiescent() bool {
	for _, name := range p.categories.order {
		cat := p.categories.categories[name]
		if cat.activeThreads > 0 || len(cat.pending) > 0 {
			return false
		}
	}
	return true
}

func (p *Proxy) finishShutdown() {
	p.pool.shutdown()
	if p.listener != nil {
		_ = p.listener.Close()
	}
	_ = p.controlRouter.Close()
	for _, remote := range p.peers.remotes {
		_ = remote.sock.Close()
	}
	p.cancel()
	p.authn.Close()
	p.state.Store(int32(StateStopped))
}

func (p *Proxy) reportMetrics() {
	if p.metrics == nil {
		return
	}
	idle := len(p.pool.idle)
	active := len(p.pool.slots) - idle
	depths := make(map[string]int, len(p.categories.order))
	for _, name := range p.categories.order {
		depths[name] = len(p.categories.categories[name].pending)
	}
	p.metrics.UpdatePoolGauges(active, idle, depths, len(p.peers.peers))
}

func (p *Proxy) onStamped(sid stampedIdentity) {
	rec := p.peers.getOrCreate(sid.pubkey)
	rec.authLevel = sid.auth
	rec.serviceNode = sid.remoteSN
}

func (p *Proxy) handleControl(frames [][]byte) {
	cm, err := decodeControlMessage(frames)
	if err != nil {
		p.log.Warn("proxy: malformed control message", "err", err)
		return
	}
	switch cm.verb {
	case verbSend:
		p.doSend(cm)
	case verbConnect:
		p.doConnect(cm)
	case verbDisconnect:
		p.doDisconnect(cm)
	case verbReply:
		p.doReply(cm)
	case verbQuit:
		p.draining = true
		p.state.Store(int32(StateDraining))
	default:
		p.log.Warn("proxy: unknown control verb", "verb", cm.verb)
	}
}

// handleListenerFrame processes one inbound message arriving on the
// listener. frames[0] is the ROUTER routing id; since auth.go's ZAP replies
// set the connection's User-Id property to the peer's raw pubkey bytes
// (RFC 27 behavior), that routing id IS the 32-byte pubkey, with no separate
// correlation table required.
func (p *Proxy) handleListenerFrame(frames [][]byte) {
	if len(frames) < 2 || len(frames[0]) != 32 {
		p.log.Warn("proxy: malformed listener frame", "frames", len(frames))
		return
	}
	var pubkey [32]byte
	copy(pubkey[:], frames[0])

	rec := p.peers.getOrCreate(pubkey)
	rec.incomingRoute = frames[0]
	rec.touch()

	p.handleIncoming(pubkey, rec, string(frames[1]), frames[2:])
}

func (p *Proxy) handleRemoteFrame(pubkey [32]byte, frames [][]byte) {
	if len(frames) < 1 {
		return
	}
	rec, ok := p.peers.get(pubkey)
	if !ok {
		p.log.Warn("proxy: frame from unrecognized remote", "pubkey", pubkey)
		return
	}
	rec.touch()
	p.handleIncoming(pubkey, rec, string(frames[0]), frames[1:])
}

func (p *Proxy) handleRemoteClosed(pubkey [32]byte) {
	rec, ok := p.peers.get(pubkey)
	if !ok || rec.outgoingSlot < 0 {
		return
	}
	p.peers.removeRemoteAt(rec.outgoingSlot)
	rec.outgoingSlot = -1
	p.peers.removeIfOrphaned(pubkey)
}

func (p *Proxy) closeRemote(sock zmq4.Socket, pubkey [32]byte) {
	_ = sock.Close()
	p.log.Debug("proxy: idle outgoing connection expired", "pubkey", pubkey)
	if p.metrics != nil {
		p.metrics.idleExpirations.Inc()
	}
}

func (p *Proxy) handleIncoming(pubkey [32]byte, rec *peerRecord, token string, payload [][]byte) {
	if p.handleBuiltin(pubkey, rec, token) {
		return
	}
	cat, entry, canonical, err := p.categories.resolve(token)
	if err != nil {
		p.log.Warn("proxy: unresolved command", "token", token)
		return
	}
	if !checkAccess(cat, rec.authLevel, rec.serviceNode, p.serviceNode) {
		p.log.Warn("proxy: access denied", "command", canonical, "pubkey", pubkey, "err", ErrAuthDenied)
		if p.metrics != nil {
			p.metrics.authDenials.Inc()
		}
		return
	}
	if p.draining {
		p.log.Debug("proxy: dropping job, draining", "command", canonical)
		return
	}
	msg := &Message{proxy: p, Pubkey: pubkey, ServiceNode: rec.serviceNode, Data: payload, incomingRoute: rec.incomingRoute}
	p.scheduleJob(cat, &job{cat: cat, entry: entry, msg: msg})
}

func (p *Proxy) tryDispatch(cat *category, j *job) bool {
	if cat.activeThreads < cat.reservedThreads {
		if idx, ok := p.pool.popIdle(); ok {
			j.usedGeneral = false
			p.dispatch(idx, cat, j)
			return true
		}
	}
	if p.pool.generalInUse < p.pool.generalWorkers {
		if idx, ok := p.pool.popIdle(); ok {
			j.usedGeneral = true
			p.pool.generalInUse++
			p.dispatch(idx, cat, j)
			return true
		}
	}
	return false
}

func (p *Proxy) dispatch(idx int, cat *category, j *job) {
	slot := p.pool.slots[idx]
	slot.ensureStarted(p.pool, p.log)
	cat.activeThreads++
	slot.jobCh <- j
	if p.metrics != nil {
		p.metrics.jobsDispatched.Inc()
	}
}

func (p *Proxy) scheduleJob(cat *category, j *job) {
	if p.tryDispatch(cat, j) {
		return
	}
	if !cat.tryEnqueue(j) {
		p.log.Warn("proxy: dropped job, queue full", "category", cat.name, "err", ErrQueueFull)
		if p.metrics != nil {
			p.metrics.jobsDropped.Inc()
		}
	}
}

// drainPending round-robins over categories with pending work, giving each a
// chance to place its oldest pending job whenever a worker frees up,
// repeating until a full pass makes no progress. Within each pass,
// categories still under their thread reservation are offered a worker
// before any other category. Each pass starts at
// drainCursor rather than always at index 0, and drainCursor is advanced
// past the last category actually drained, so a category with a constant
// trickle of work can never starve a later-registered one.
func (p *Proxy) drainPending() {
	order := p.categories.order
	n := len(order)
	if n == 0 {
		return
	}
	for progressed := true; progressed; {
		progressed = false
		for i := 0; i < 2*n; i++ {
			idx := (p.drainCursor + i) % n
			cat := p.categories.categories[order[idx]]
			if len(cat.pending) == 0 {
				continue
			}
			if i < n && cat.activeThreads >= cat.reservedThreads {
				continue
			}
			if p.tryDispatch(cat, cat.pending[0]) {
				cat.popPending()
				progressed = true
				p.drainCursor = (idx + 1) % n
			}
		}
	}
}

func (p *Proxy) onWorkerDone(wd workerDone) {
	wd.cat.activeThreads--
	if wd.usedGeneral {
		p.pool.generalInUse--
	}
	p.pool.pushIdle(wd.slot)
	p.drainPending()
}

func (p *Proxy) openOutgoing(pubkey [32]byte, address string, keepAlive time.Duration) error {
	sock := zmq4.NewDealer(p.ctx, zmq4.WithSecurity(clientSecurity(p.pubkey, p.privkey, pubkey)))
	if err := sock.Dial(address); err != nil {
		return err
	}
	rec := p.peers.getOrCreate(pubkey)
	idx := p.peers.appendRemote(pubkey, sock)
	rec.outgoingSlot = idx
	rec.idleExpiry = keepAlive
	rec.touch()
	p.launchRemoteReader(pubkey, sock)
	return nil
}

// raiseIdleExpiry sets rec's idle timeout to keepAliveMs if that's longer
// than what's already in effect. A repeated CONNECT or a SEND with a
// shorter KeepAlive than a previous call must never shorten a timeout a
// caller already established.
func raiseIdleExpiry(rec *peerRecord, keepAliveMs int64) {
	if keepAliveMs <= 0 {
		return
	}
	if newExpiry := time.Duration(keepAliveMs) * time.Millisecond; newExpiry > rec.idleExpiry {
		rec.idleExpiry = newExpiry
	}
}

func (p *Proxy) doConnect(cm *controlMessage) {
	rec := p.peers.getOrCreate(cm.pubkey)
	if rec.outgoingSlot >= 0 {
		rec.authLevel = cm.authLevel
		rec.serviceNode = cm.remoteSN
		raiseIdleExpiry(rec, cm.keepAlive)
		rec.touch()
		return
	}
	address := cm.hint
	if address == "" && p.peerLookup != nil {
		address = p.peerLookup(cm.pubkey)
	}
	if address == "" {
		p.log.Warn("proxy: connect failed, no address", "pubkey", cm.pubkey)
		return
	}
	ka := p.explicitKeepAlive
	if cm.keepAlive > 0 {
		ka = time.Duration(cm.keepAlive) * time.Millisecond
	}
	if err := p.openOutgoing(cm.pubkey, address, ka); err != nil {
		p.log.Warn("proxy: connect dial failed", "address", address, "err", err)
		return
	}
	rec.authLevel = cm.authLevel
	rec.serviceNode = cm.remoteSN
}

func (p *Proxy) doDisconnect(cm *controlMessage) {
	rec, ok := p.peers.get(cm.pubkey)
	if !ok || rec.outgoingSlot < 0 {
		return
	}
	sock := p.peers.remotes[rec.outgoingSlot].sock
	p.peers.removeRemoteAt(rec.outgoingSlot)
	rec.outgoingSlot = -1
	_ = sock.Close()
	p.peers.removeIfOrphaned(cm.pubkey)
}

func (p *Proxy) doSend(cm *controlMessage) {
	if len(cm.send) == 0 {
		return
	}
	token := string(cm.send[0])
	payload := cm.send[1:]
	rec, known := p.peers.get(cm.pubkey)
	hasIncoming := known && rec.incomingRoute != nil
	hasOutgoing := known && rec.outgoingSlot >= 0

	if cm.incoming {
		if hasIncoming {
			p.sendViaIncoming(rec, token, payload)
		} else {
			p.log.Warn("proxy: incoming-only send dropped, no incoming route", "err", ErrNoRoute)
		}
		return
	}
	if hasOutgoing {
		raiseIdleExpiry(rec, cm.keepAlive)
		p.sendViaOutgoing(rec, token, payload)
		return
	}
	if cm.optional {
		if hasIncoming {
			p.sendViaIncoming(rec, token, payload)
			return
		}
		p.log.Debug("proxy: optional send dropped, no existing connection")
		return
	}
	address := cm.hint
	fromLookup := false
	if address == "" && p.peerLookup != nil {
		address = p.peerLookup(cm.pubkey)
		fromLookup = address != ""
	}
	if address == "" {
		if hasIncoming {
			p.sendViaIncoming(rec, token, payload)
			return
		}
		p.log.Warn("proxy: send failed, no route and no address hint", "err", ErrNoRoute)
		return
	}
	ka := p.defaultKeepAlive
	if cm.keepAlive > 0 {
		ka = time.Duration(cm.keepAlive) * time.Millisecond
	}
	if err := p.openOutgoing(cm.pubkey, address, ka); err != nil {
		p.log.Warn("proxy: send dial failed", "address", address, "err", err)
		return
	}
	// When peerLookup resolved the address, this is a service-node peer by
	// construction: peerLookup exists specifically to resolve other service
	// nodes' addresses. A hint-addressed peer keeps its existing record.
	rec = p.peers.getOrCreate(cm.pubkey)
	if fromLookup {
		rec.authLevel = AuthAdmin
		rec.serviceNode = true
	}
	p.sendViaOutgoing(rec, token, payload)
}

func (p *Proxy) doReply(cm *controlMessage) {
	if len(cm.send) == 0 {
		return
	}
	rec, ok := p.peers.get(cm.pubkey)
	if !ok || rec.incomingRoute == nil {
		p.log.Debug("proxy: reply dropped, no incoming route")
		return
	}
	p.sendViaIncoming(rec, string(cm.send[0]), cm.send[1:])
}

func (p *Proxy) sendViaOutgoing(rec *peerRecord, token string, payload [][]byte) {
	sock := p.peers.remotes[rec.outgoingSlot].sock
	frames := append([][]byte{[]byte(token)}, payload...)
	if err := sock.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		p.log.Warn("proxy: outgoing send failed", "err", err)
		return
	}
	rec.touch()
}

func (p *Proxy) sendViaIncoming(rec *peerRecord, token string, payload [][]byte) {
	frames := append([][]byte{rec.incomingRoute, []byte(token)}, payload...)
	if err := p.listener.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		p.log.Warn("proxy: incoming send failed", "err", err)
		return
	}
	rec.touch()
}
