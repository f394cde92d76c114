package driftmq

// job is everything a worker needs to run a handler, owned by the proxy
// until handed to a worker, then owned by that worker's slot until
// completion.
type job struct {
	cat   *category
	entry *commandEntry
	msg   *Message

	// usedGeneral records whether dispatch consumed one of the pool's
	// shared general-worker slots (as opposed to the category's own
	// reserved capacity), so onWorkerDone credits the right counter back
	// on completion.
	usedGeneral bool
}

// workerDone is what a worker slot reports back to the proxy goroutine on
// completion, so the proxy (and only the proxy) can decrement
// category.activeThreads and run the drain step.
type workerDone struct {
	slot        int
	cat         *category
	usedGeneral bool
}

// workerSlot is a reusable execution context, at most one job at a time.
// The slot's own goroutine is started lazily on first dispatch and lives
// until the pool is shut down; it blocks on jobCh between jobs, the only
// suspension point for a worker.
type workerSlot struct {
	id      int
	jobCh   chan *job
	started bool
}

// workerPool is the fixed pre-allocated array of worker slots, sized to
// generalWorkers + Σ reserved_threads so the scheduler never has to refuse a
// reserved-category job for lack of pool capacity. Every field here is
// proxy-goroutine-owned, like the rest of the proxy's shared state — no
// mutex guards it.
type workerPool struct {
	slots          []*workerSlot
	idle           []int // free-list of slot indices
	generalWorkers uint
	generalInUse   uint
	doneCh         chan workerDone
	quit           chan int // never set or closed; shutdown stops slots by closing jobCh
}

func newWorkerPool(totalSlots, generalWorkers uint) *workerPool {
	slots := make([]*workerSlot, totalSlots)
	idle := make([]int, totalSlots)
	for i := range slots {
		slots[i] = &workerSlot{id: i, jobCh: make(chan *job, 1)}
		idle[i] = i
	}
	return &workerPool{
		slots:          slots,
		idle:           idle,
		generalWorkers: generalWorkers,
		doneCh:         make(chan workerDone, totalSlots),
	}
}

// popIdle removes and returns an idle slot index, or false if none are free.
func (p *workerPool) popIdle() (int, bool) {
	if len(p.idle) == 0 {
		return 0, false
	}
	n := len(p.idle) - 1
	idx := p.idle[n]
	p.idle = p.idle[:n]
	return idx, true
}

func (p *workerPool) pushIdle(idx int) {
	p.idle = append(p.idle, idx)
}

// ensureStarted launches the slot's goroutine the first time the proxy
// dispatches to it, so a goroutine only ever exists for slots that have
// actually been used.
func (s *workerSlot) ensureStarted(pool *workerPool, log Logger) {
	if s.started {
		return
	}
	s.started = true
	go s.loop(pool, log)
}

func (s *workerSlot) loop(pool *workerPool, log Logger) {
	for j := range s.jobCh {
		runJob(s, j, log)
		pool.doneCh <- workerDone{slot: s.id, cat: j.cat, usedGeneral: j.usedGeneral}
	}
}

// runJob executes a job's handler, recovering any panic so a misbehaving
// handler never takes the worker down.
func runJob(s *workerSlot, j *job, log Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("worker: handler panicked", "slot", s.id, "category", j.cat.name, "recover", r)
		}
	}()
	j.entry.handler(j.msg)
}

// shutdown closes every slot's job channel, stopping its goroutine once the
// channel drains. Slots that were never started have no goroutine to stop.
func (p *workerPool) shutdown() {
	for _, s := range p.slots {
		close(s.jobCh)
	}
}
