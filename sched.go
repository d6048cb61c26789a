// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"math/rand/v2"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/lfq"
	"github.com/rs/zerolog"
)

// stealPasses bounds the work-stealing sweep: four randomized passes
// over the processors, the last of which may take a victim's
// priority-next slot.
const stealPasses = 4

// globalCheckTicks forces a global-queue look every Nth dispatch so
// local-queue producers cannot starve globally queued fibers.
const globalCheckTicks = 61

// Sched is a fiber scheduler instance: a fixed processor array, the
// shared run queue, the idle lists, the poller, and the id generators.
//
// A Sched is created by [Init], populated with fibers via [Sched.Go],
// and set in motion by [Sched.Start]. It has no shutdown: once started
// it runs until the process exits.
type Sched struct {
	mu sync.Mutex

	procs []*proc
	pidle []*proc   // idle-processor stack, scheduler mutex
	midle []*thread // idle-thread list, scheduler mutex

	runq globalQueue

	// freePool is the global free-fiber pool. Lock-free; the bounded
	// per-processor lists overflow into it.
	freePool lfq.QueuePtr

	np *netpoller

	spinning atomix.Int64
	mcount   atomix.Int32
	nmidle   atomix.Int32

	idgen  atomix.Uint64
	tidgen atomix.Int64

	started atomix.Int32
	log     zerolog.Logger

	stats statCounters
}

// Init builds a scheduler from the builder's configuration, binds
// processor 0 to the calling thread, and creates the poller. A builder
// initializes at most one scheduler; reuse returns ErrInitialized.
func Init(b *Builder) (*Sched, error) {
	if b == nil {
		b = New(0)
	}
	if !b.used.CompareAndSwapAcqRel(0, 1) {
		return nil, ErrInitialized
	}
	opts := b.opts

	s := &Sched{
		freePool: lfq.New(opts.freePoolSize).BuildPtrMPMC(),
		log:      opts.logger,
	}
	s.procs = make([]*proc, opts.procs)
	for i := range s.procs {
		s.procs[i] = newProc(s, int32(i), opts.ringSize, opts.freeListSize)
	}

	// Processor 0 is bound to the calling thread; the rest start idle.
	s.procs[0].status.Store(pRunning)
	for _, p := range s.procs[1:] {
		p.status.Store(pIdle)
		s.pidle = append(s.pidle, p)
	}

	np, err := newNetpoller()
	if err != nil {
		return nil, err
	}
	s.np = np

	s.log.Info().Int("procs", opts.procs).Int("ring", roundToPow2(opts.ringSize)).Msg("scheduler initialized")
	return s, nil
}

// Go spawns a fiber running fn.
//
// Before Start, Go is callable only from the initializing thread and
// the fiber joins processor 0's queue in FIFO order. From inside a
// running fiber use [Fiber.Go], which prefers the priority-next slot.
// After Start, Go from an external thread enqueues globally.
func (s *Sched) Go(fn func(*Fiber)) *Fiber {
	f := s.allocFiber(nil, fn)
	if s.started.LoadAcquire() == 0 {
		s.procs[0].runqPut(f, false)
		return f
	}
	s.mu.Lock()
	s.runq.push(f)
	s.mu.Unlock()
	s.wakeProc()
	return f
}

// Go spawns a fiber running fn on the calling fiber's scheduler. The
// new fiber lands in the caller's priority-next slot: freshly spawned
// work runs ahead of older queued work.
func (f *Fiber) Go(fn func(*Fiber)) *Fiber {
	s := f.sched
	m := f.m
	if m == nil || m.p == nil {
		return s.Go(fn)
	}
	g := s.allocFiber(m.p, fn)
	m.p.runqPut(g, true)
	s.wakeProc()
	return g
}

// Start converts the calling goroutine into a scheduler thread bound
// to processor 0 and enters the dispatcher. It never returns.
func (s *Sched) Start() {
	if !s.started.CompareAndSwapAcqRel(0, 1) {
		fatalf("scheduler started twice")
	}
	m := s.newThread()
	s.mcount.AddAcqRel(1)
	m.p = s.procs[0]
	m.p.m.Store(m)
	m.loop()
}

// schedule is the dispatcher: it runs on a thread's scheduler fiber
// and never returns.
func (m *thread) schedule() {
	for {
		if m.p == nil {
			m.stop()
			continue
		}
		f := m.findRunnable()

		if m.spinning {
			m.resetSpinning()
		}

		if !f.status.CompareAndSwapAcqRel(int32(StatusRunnable), int32(StatusRunning)) {
			fatalf("dispatch of fiber %d in state %v", f.id, f.Status())
		}
		f.m = m
		m.curF = f
		m.p.tick++

		switchCtx(&m.g0.ctx, &f.ctx)

		// The fiber yielded, parked, or completed. Consume the park
		// callback; a false return means parking failed and the fiber
		// goes back to the priority slot.
		m.curF = nil
		if fn := m.parkFn; fn != nil {
			gp, arg := m.parkF, m.parkArg
			m.parkFn, m.parkArg, m.parkF = nil, nil, nil
			if !fn(gp, arg) {
				gp.status.StoreRelease(int32(StatusRunnable))
				m.p.runqPut(gp, true)
			}
		}
	}
}

// findRunnable blocks until it has a fiber for the thread to run.
// The search order is: periodic global check, local queue, global
// queue, non-blocking netpoll, work stealing, park.
func (m *thread) findRunnable() *Fiber {
	s := m.sched
top:
	p := m.p

	// Fairness: every 61st tick, and whenever the local queue has just
	// drained, the global queue goes first.
	if p.tick%globalCheckTicks == 0 && s.runq.size.Load() > 0 {
		s.mu.Lock()
		f := s.globalGet(p, 1)
		s.mu.Unlock()
		if f != nil {
			return f
		}
	}

	if f := p.runqGet(); f != nil {
		return f
	}

	if s.runq.size.Load() > 0 {
		s.mu.Lock()
		f := s.globalGet(p, 0)
		s.mu.Unlock()
		if f != nil {
			return f
		}
	}

	// Non-blocking poll: first ready fiber runs here, the rest join
	// the global queue.
	if f := s.netpollDispatch(0); f != nil {
		return f
	}

	// Steal, bounded by the spinning policy: spin only while fewer
	// than half the busy threads already are.
	if m.spinning || 2*s.spinning.Load() < int64(s.mcount.Load()-s.nmidle.Load()) {
		m.becomeSpinning()
		if f := m.steal(); f != nil {
			return f
		}
	}

	// Release the processor and park. The global queue and every local
	// queue are rechecked under the lock to close the race with
	// producers that pushed between the steal sweep and here.
	s.mu.Lock()
	if s.runq.size.Load() > 0 {
		f := s.globalGet(p, 0)
		s.mu.Unlock()
		if f != nil {
			return f
		}
		s.mu.Lock()
	}
	for _, p2 := range s.procs {
		if p2 != p && !p2.runqEmpty() {
			s.mu.Unlock()
			goto top
		}
	}
	p.m.Store(nil)
	p.status.Store(pIdle)
	s.pidle = append(s.pidle, p)
	m.p = nil
	wasSpinning := m.spinning
	if wasSpinning {
		m.spinning = false
		if n := s.spinning.AddAcqRel(-1); n < 0 {
			fatalf("negative spinning count %d", n)
		}
	}
	s.nmidle.AddAcqRel(1)
	s.midle = append(s.midle, m)
	s.mu.Unlock()

	s.log.Debug().Int64("thread", m.id).Msg("thread parked")
	m.park()
	s.nmidle.AddAcqRel(-1)
	goto top
}

// steal performs the bounded work-stealing sweep: stealPasses passes
// over the processors in randomized order.
func (m *thread) steal() *Fiber {
	s := m.sched
	for pass := 0; pass < stealPasses; pass++ {
		start := rand.IntN(len(s.procs))
		for i := range s.procs {
			victim := s.procs[(start+i)%len(s.procs)]
			if victim == m.p {
				continue
			}
			if f := m.p.runqSteal(victim, pass == stealPasses-1); f != nil {
				return f
			}
		}
	}
	return nil
}

// idleProcs returns the number of idle processors. Advisory.
func (s *Sched) idleProcs() int {
	s.mu.Lock()
	n := len(s.pidle)
	s.mu.Unlock()
	return n
}

// pidleGet pops an idle processor and acquires it for m. Entries
// reclaimed through the syscall fast path are discarded. Requires the
// scheduler mutex.
func (s *Sched) pidleGet(m *thread) *proc {
	for len(s.pidle) > 0 {
		p := s.pidle[len(s.pidle)-1]
		s.pidle = s.pidle[:len(s.pidle)-1]
		if !p.status.CompareAndSwapAcqRel(pIdle, pRunning) &&
			!p.status.CompareAndSwapAcqRel(pSyscall, pRunning) {
			// Reclaimed by its syscall thread; a stale entry.
			continue
		}
		p.m.Store(m)
		return p
	}
	return nil
}

// wakeProc ensures that freshly submitted work will be picked up:
// unless a thread is already spinning, it takes an idle processor and
// starts or unparks a thread to spin on it.
func (s *Sched) wakeProc() {
	if s.spinning.Load() != 0 {
		return
	}
	if !s.spinning.CompareAndSwapAcqRel(0, 1) {
		return
	}
	s.mu.Lock()
	p := s.pidleGet(nil)
	s.mu.Unlock()
	if p == nil {
		if n := s.spinning.AddAcqRel(-1); n < 0 {
			fatalf("negative spinning count %d", n)
		}
		return
	}
	s.startThread(p, true)
}

// startThread hands p to an idle thread, or creates a thread when none
// is parked. spinning carries the waker's spinning accounting to the
// new owner.
func (s *Sched) startThread(p *proc, spinning bool) {
	p.status.Store(pRunning)
	s.mu.Lock()
	var m *thread
	if n := len(s.midle); n > 0 {
		m = s.midle[n-1]
		s.midle = s.midle[:n-1]
	}
	s.mu.Unlock()

	if m != nil {
		p.m.Store(m)
		m.wake(p, spinning)
		return
	}
	m = s.newThread()
	s.mcount.AddAcqRel(1)
	m.p = p
	m.spinning = spinning
	p.m.Store(m)
	go m.loop()
}

// netpollDispatch polls the network for ready fibers. The first one is
// returned for immediate dispatch; the rest are marked runnable on the
// global queue. timeoutMs follows epoll conventions: 0 never blocks,
// -1 blocks until an event arrives.
func (s *Sched) netpollDispatch(timeoutMs int) *Fiber {
	if !s.np.ok() {
		return nil
	}
	var first *Fiber
	var rest fiberList
	n := 0
	s.np.wait(timeoutMs, func(f *Fiber, ev Events) {
		if !f.status.CompareAndSwapAcqRel(int32(StatusWaiting), int32(StatusRunnable)) {
			// One-shot arming makes events for a running fiber
			// impossible; a stale event for a rearmed descriptor is
			// dropped here.
			return
		}
		f.delivered = ev
		if first == nil {
			first = f
		} else {
			rest.push(f)
			n++
		}
	})
	if n > 0 {
		s.mu.Lock()
		s.runq.pushList(&rest, int32(n))
		s.mu.Unlock()
		s.wakeProc()
	}
	if first != nil {
		s.stats.polls.Add(1)
	}
	return first
}

// NetPoll drives the poller from an external helper thread. It exists
// to guarantee wakeups when every scheduler thread has parked and new
// work arrives only via network readiness. It returns the number of
// fibers made runnable.
//
// timeoutMs of 0 never blocks; -1 blocks until at least one event or
// an interruption.
func (s *Sched) NetPoll(timeoutMs int) (int, error) {
	if !s.np.ok() {
		return 0, ErrUnsupported
	}
	var ready fiberList
	n := 0
	err := s.np.waitErr(timeoutMs, func(f *Fiber, ev Events) {
		if !f.status.CompareAndSwapAcqRel(int32(StatusWaiting), int32(StatusRunnable)) {
			return
		}
		f.delivered = ev
		ready.push(f)
		n++
	})
	if n > 0 {
		s.mu.Lock()
		s.runq.pushList(&ready, int32(n))
		s.mu.Unlock()
		s.wakeProc()
	}
	return n, err
}

// ready marks a Waiting fiber Runnable and enqueues it: on the waking
// fiber's processor when there is one, on the global queue otherwise.
// Channel rendezvous uses this while holding the channel mutex; the
// scheduler mutex is taken for the global-queue fallback, for a
// local-queue overflow, and by the wakeProc that follows.
func (s *Sched) ready(waker *Fiber, f *Fiber) {
	if !f.status.CompareAndSwapAcqRel(int32(StatusWaiting), int32(StatusRunnable)) {
		fatalf("wakeup of fiber %d in state %v", f.id, f.Status())
	}
	if waker != nil && waker.m != nil && waker.m.p != nil {
		waker.m.p.runqPut(f, false)
	} else {
		s.mu.Lock()
		s.runq.push(f)
		s.mu.Unlock()
	}
	s.wakeProc()
}

// Stats is a point-in-time snapshot of scheduler activity counters.
type Stats struct {
	Spawned  int64 // fibers created
	Recycled int64 // fibers completed and pooled
	Steals   int64 // successful work-stealing operations
	Parks    int64 // thread park events
	Polls    int64 // dispatcher polls that yielded a fiber
}

type statCounters struct {
	spawned  atomix.Int64
	recycled atomix.Int64
	steals   atomix.Int64
	parks    atomix.Int64
	polls    atomix.Int64
}

// Stats returns a snapshot of the scheduler's activity counters.
func (s *Sched) Stats() Stats {
	return Stats{
		Spawned:  s.stats.spawned.Load(),
		Recycled: s.stats.recycled.Load(),
		Steals:   s.stats.steals.Load(),
		Parks:    s.stats.parks.Load(),
		Polls:    s.stats.polls.Load(),
	}
}
