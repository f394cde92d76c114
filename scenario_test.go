package driftmq

import (
	"testing"
	"time"
)

// newTestProxy builds a Proxy with enough state wired up to drive the
// scheduler and access-control paths without touching any socket, mirroring
// what Start would otherwise set up.
func newTestProxy(generalWorkers uint, serviceNode bool) *Proxy {
	return &Proxy{
		serviceNode: serviceNode,
		log:         NopLogger(),
		categories:  newCategoryRegistry(),
		peers:       newPeerTable(),
	}
}

func (p *Proxy) startPoolForTest(generalWorkers uint) {
	total := generalWorkers
	for _, name := range p.categories.order {
		total += p.categories.categories[name].reservedThreads
	}
	p.pool = newWorkerPool(total, generalWorkers)
}

// (a) echo-under-reservation: a category with one reserved thread and no
// general workers can still serve two sequential requests, the second only
// after the first completes.
func TestScenarioEchoUnderReservation(t *testing.T) {
	p := newTestProxy(0, true)
	_ = p.categories.AddCategory("echo", Access{}, 1, DefaultMaxQueue)
	var runs int
	_ = p.categories.AddCommand("echo", "ping", func(*Message) { runs++ })
	p.categories.seal()
	p.startPoolForTest(0)

	cat := p.categories.categories["echo"]
	_, entry, _, err := p.categories.resolve("echo.ping")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	j1 := &job{cat: cat, entry: entry, msg: &Message{}}
	j2 := &job{cat: cat, entry: entry, msg: &Message{}}

	p.scheduleJob(cat, j1)
	if cat.activeThreads != 1 {
		t.Fatalf("expected the first job to claim the reserved slot, activeThreads=%d", cat.activeThreads)
	}

	p.scheduleJob(cat, j2)
	if len(cat.pending) != 1 {
		t.Fatalf("expected the second job to queue behind the first, pending=%d", len(cat.pending))
	}

	// First job completes, freeing the slot for the queued one.
	select {
	case wd := <-p.pool.doneCh:
		p.onWorkerDone(wd)
	case <-time.After(time.Second):
		t.Fatal("first job never reported completion")
	}
	if len(cat.pending) != 0 {
		t.Errorf("expected the queued job to have been drained, pending=%d", len(cat.pending))
	}
	if cat.activeThreads != 1 {
		t.Errorf("expected the second job now active, activeThreads=%d", cat.activeThreads)
	}

	select {
	case wd := <-p.pool.doneCh:
		p.onWorkerDone(wd)
	case <-time.After(time.Second):
		t.Fatal("second job never reported completion")
	}
	if runs != 2 {
		t.Errorf("expected both jobs to have run, runs=%d", runs)
	}
}

// (b) admin-gate: a non-admin peer's command is dropped before scheduling.
func TestScenarioAdminGate(t *testing.T) {
	p := newTestProxy(1, true)
	_ = p.categories.AddCategory("admin", Access{AuthMin: AuthAdmin}, 0, DefaultMaxQueue)
	var ran bool
	_ = p.categories.AddCommand("admin", "shutdown", func(*Message) { ran = true })
	p.categories.seal()
	p.startPoolForTest(1)

	var pk [32]byte
	pk[0] = 1
	rec := p.peers.getOrCreate(pk)
	rec.authLevel = AuthBasic

	p.handleIncoming(pk, rec, "admin.shutdown", nil)

	if ran {
		t.Error("handler should not have run for a below-minimum auth level")
	}
	cat := p.categories.categories["admin"]
	if cat.activeThreads != 0 || len(cat.pending) != 0 {
		t.Error("denied command should never reach the scheduler")
	}
}

// (c) queue-cap-drop: once a category's pending queue is full, further
// requests are dropped rather than queued or blocking.
func TestScenarioQueueCapDrop(t *testing.T) {
	p := newTestProxy(0, true)
	_ = p.categories.AddCategory("bounded", Access{}, 0, 1)
	_ = p.categories.AddCommand("bounded", "work", func(*Message) {})
	p.categories.seal()
	p.startPoolForTest(0) // zero total worker slots: nothing is ever dispatched

	cat := p.categories.categories["bounded"]
	_, entry, _, _ := p.categories.resolve("bounded.work")

	p.scheduleJob(cat, &job{cat: cat, entry: entry, msg: &Message{}})
	p.scheduleJob(cat, &job{cat: cat, entry: entry, msg: &Message{}})
	p.scheduleJob(cat, &job{cat: cat, entry: entry, msg: &Message{}})

	if len(cat.pending) != 1 {
		t.Errorf("expected exactly 1 job retained under maxQueue=1, got %d", len(cat.pending))
	}
}

// (e) alias-routing: a registered alias resolves to its target category and
// command, and participates in access control identically to the direct
// token.
func TestScenarioAliasRouting(t *testing.T) {
	p := newTestProxy(1, true)
	_ = p.categories.AddCategory("net", Access{AuthMin: AuthBasic}, 0, DefaultMaxQueue)
	var called string
	_ = p.categories.AddCommand("net", "ping", func(m *Message) { called = string(m.Data[0]) })
	_ = p.categories.AddCommandAlias("ping", "net.ping")
	p.categories.seal()
	p.startPoolForTest(1)

	var pk [32]byte
	pk[0] = 2
	rec := p.peers.getOrCreate(pk)
	rec.authLevel = AuthBasic

	p.handleIncoming(pk, rec, "ping", [][]byte{[]byte("hi")})

	select {
	case wd := <-p.pool.doneCh:
		p.onWorkerDone(wd)
	case <-time.After(time.Second):
		t.Fatal("aliased command was never dispatched to a worker")
	}

	if called != "hi" {
		t.Errorf("expected the handler to receive the original payload via the alias, got %q", called)
	}
}

// (f) reply-fallback: a service-node originator's reply keeps the caller's
// options untouched; a non-service-node originator's reply always gets
// Optional() appended so a dropped connection degrades silently.
func TestScenarioReplyFallback(t *testing.T) {
	snOpts := replyOptions(true, []SendOption{Hint("tcp://x")})
	if len(snOpts) != 1 {
		t.Fatalf("service-node reply should not gain extra options, got %d", len(snOpts))
	}

	req := &sendRequest{}
	for _, o := range snOpts {
		o.applyTo(req)
	}
	if req.optional {
		t.Error("service-node reply should not be optional")
	}

	nonSNOpts := replyOptions(false, []SendOption{Hint("tcp://x")})
	if len(nonSNOpts) != 2 {
		t.Fatalf("non-service-node reply should gain an Optional(), got %d options", len(nonSNOpts))
	}
	req2 := &sendRequest{}
	for _, o := range nonSNOpts {
		o.applyTo(req2)
	}
	if !req2.optional {
		t.Error("non-service-node reply should be optional")
	}
}

// (d) idle-expiry is exercised in peer_test.go's TestExpireIdleClosesOnlyStalePeers.
