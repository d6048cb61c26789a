// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"runtime"
	"sync"
)

// thread is a scheduler-owned OS thread: a goroutine locked to its
// thread for the lifetime of the dispatcher. It carries the scheduler
// fiber whose context is the dispatcher itself, the owned processor,
// the currently-running fiber, and the post-yield park callback trio.
type thread struct {
	id    int64
	sched *Sched

	// g0 is the scheduler fiber: identity 0, permanently Running from
	// its own perspective, context = the dispatcher loop.
	g0 *Fiber

	p    *proc
	curF *Fiber

	// Park callback trio: installed by the yielding fiber, consumed
	// exactly once by the scheduler fiber after the context switch.
	parkFn  func(*Fiber, any) bool
	parkArg any
	parkF   *Fiber

	// spinning mirrors the thread's contribution to sched.spinning.
	spinning bool

	// syscallP is the processor released by EnterSyscall, kept aside
	// for the ExitSyscall fast path.
	syscallP *proc

	// Idle parking. notified is a one-token wakeup so that a wake
	// arriving before the park blocks is not lost.
	mu       sync.Mutex
	cond     *sync.Cond
	notified bool
	nextP    *proc
	nextSpin bool
}

func (s *Sched) newThread() *thread {
	m := &thread{
		id:    s.tidgen.AddAcqRel(1),
		sched: s,
	}
	m.cond = sync.NewCond(&m.mu)
	m.g0 = &Fiber{sched: s, registeredFD: noFD, waitFD: noFD, ctx: fctx{gate: make(chan struct{}, 1)}}
	m.g0.status.Store(int32(StatusRunning))
	return m
}

// loop converts the current goroutine into a scheduler thread. It
// never returns.
func (m *thread) loop() {
	runtime.LockOSThread()
	m.sched.log.Debug().Int64("thread", m.id).Msg("thread started")
	m.schedule()
}

// park blocks the thread until another thread hands it work via wake.
// On return the thread's processor and spinning flag have been set by
// the waker.
func (m *thread) park() {
	m.sched.stats.parks.Add(1)
	m.mu.Lock()
	for !m.notified {
		m.cond.Wait()
	}
	m.notified = false
	m.p = m.nextP
	m.spinning = m.nextSpin
	m.nextP = nil
	m.nextSpin = false
	m.mu.Unlock()
}

// wake hands p to the parked (or parking) thread and releases it.
// Safe to call before the target has blocked: the notification is a
// buffered token.
func (m *thread) wake(p *proc, spinning bool) {
	m.mu.Lock()
	m.notified = true
	m.nextP = p
	m.nextSpin = spinning
	m.cond.Signal()
	m.mu.Unlock()
}

// stop registers the thread on the idle list and parks it. The caller
// must not hold the scheduler mutex.
func (m *thread) stop() {
	s := m.sched
	s.mu.Lock()
	s.midle = append(s.midle, m)
	s.mu.Unlock()
	s.nmidle.AddAcqRel(1)
	m.park()
	s.nmidle.AddAcqRel(-1)
}

// becomeSpinning marks the thread as actively searching for work.
func (m *thread) becomeSpinning() {
	if m.spinning {
		return
	}
	m.spinning = true
	m.sched.spinning.AddAcqRel(1)
}

// resetSpinning clears the spinning state after work was found. If
// this was the last spinner and idle processors remain, another thread
// is woken so that submission of new work cannot stall.
func (m *thread) resetSpinning() {
	s := m.sched
	m.spinning = false
	n := s.spinning.AddAcqRel(-1)
	if n < 0 {
		fatalf("negative spinning count %d", n)
	}
	if n == 0 && s.idleProcs() > 0 {
		s.wakeProc()
	}
}
