// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"unsafe"

	"code.hybscloud.com/atomix"
)

// Status is the exclusive lifecycle state of a fiber.
type Status int32

const (
	// StatusIdle is a freshly allocated fiber not yet armed.
	StatusIdle Status = iota
	// StatusRunnable is a fiber on a run queue, not running.
	StatusRunnable
	// StatusRunning is a fiber bound to a thread and executing.
	StatusRunning
	// StatusWaiting is a fiber parked on a socket or channel.
	StatusWaiting
	// StatusSyscall is a fiber whose thread detached its processor for
	// the duration of a blocking call.
	StatusSyscall
	// StatusDead is a completed fiber returned to a free pool.
	StatusDead
)

// String returns the lowercase state name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunnable:
		return "runnable"
	case StatusRunning:
		return "running"
	case StatusWaiting:
		return "waiting"
	case StatusSyscall:
		return "syscall"
	case StatusDead:
		return "dead"
	default:
		return "invalid"
	}
}

// noFD is the wait-socket sentinel for "none".
const noFD = -1

// Fiber is a stackful cooperative task multiplexed onto the scheduler's
// processors. A fiber is created by [Sched.Go] or [Fiber.Go] and is
// recycled through a free pool when its start function returns.
//
// The handle passed to the start function is only valid inside that
// function; once the fiber completes, the record is reused.
type Fiber struct {
	id     uint64
	status atomix.Int32

	fn    func(*Fiber)
	sched *Sched

	// m is the owning thread; non-nil only while Running or Syscall.
	m *thread

	ctx fctx

	// schedNext links the fiber into at most one intrusive queue at a
	// time: the global run queue or a batch on its way there.
	schedNext *Fiber

	// Socket wait bookkeeping. registeredFD is the descriptor currently
	// armed with the poller (noFD when none); waitFD is the descriptor
	// of the wait in progress. delivered carries the event mask of the
	// wakeup and pollErr the registration failure, both consumed by
	// YieldSocket after resumption.
	registeredFD int
	waitFD       int
	interest     Events
	delivered    Events
	pollErr      error
}

// ID returns the fiber's monotonically-assigned identity.
// The identity 0 is reserved for per-thread scheduler fibers.
func (f *Fiber) ID() uint64 { return f.id }

// Status returns the fiber's current lifecycle state.
func (f *Fiber) Status() Status { return Status(f.status.LoadAcquire()) }

// ThreadID returns the identity of the thread the fiber is currently
// bound to, or 0 when the fiber is not running.
func (f *Fiber) ThreadID() int64 {
	if m := f.m; m != nil {
		return m.id
	}
	return 0
}

// Sched returns the scheduler the fiber belongs to.
func (f *Fiber) Sched() *Sched { return f.sched }

// park installs the post-yield park callback trio on the fiber's thread
// and switches to the scheduler fiber. The callback executes on the
// scheduler fiber's native context once the fiber's state is fully
// saved; returning false requeues the fiber at the priority slot.
func (f *Fiber) park(fn func(*Fiber, any) bool, arg any) {
	m := f.m
	m.parkFn = fn
	m.parkArg = arg
	m.parkF = f
	switchCtx(&f.ctx, &m.g0.ctx)
}

// allocFiber produces an armed Runnable fiber: reused from the caller
// processor's free list, the global free pool, or freshly allocated.
func (s *Sched) allocFiber(p *proc, fn func(*Fiber)) *Fiber {
	var f *Fiber
	if p != nil && len(p.freeF) > 0 {
		f = p.freeF[len(p.freeF)-1]
		p.freeF = p.freeF[:len(p.freeF)-1]
	} else if ptr, err := s.freePool.Dequeue(); err == nil {
		f = (*Fiber)(ptr)
	}
	if f == nil {
		f = &Fiber{sched: s, registeredFD: noFD, waitFD: noFD}
	}
	if st := Status(f.status.Load()); st != StatusIdle && st != StatusDead {
		fatalf("spawn of fiber in state %v", st)
	}
	f.id = s.idgen.AddAcqRel(1)
	f.fn = fn
	f.status.StoreRelease(int32(StatusRunnable))
	initCtx(f)
	s.stats.spawned.Add(1)
	return f
}

// recycle resets a completed fiber and returns it to a free pool: the
// owning processor's bounded list first, the global lock-free pool on
// overflow, the garbage collector as a last resort. m is the thread the
// fiber died on; nil when recycling without thread affinity.
//
// recycle runs before the jump back to the scheduler fiber; the record
// must not be touched afterwards.
func (s *Sched) recycle(m *thread, f *Fiber) {
	if f.registeredFD != noFD {
		_ = s.np.unregister(f.registeredFD)
		f.registeredFD = noFD
	}
	f.status.StoreRelease(int32(StatusDead))
	f.fn = nil
	f.waitFD = noFD
	f.interest = 0
	f.delivered = 0
	f.pollErr = nil
	f.schedNext = nil
	s.stats.recycled.Add(1)

	if m != nil && m.p != nil && len(m.p.freeF) < cap(m.p.freeF) {
		m.p.freeF = append(m.p.freeF, f)
		return
	}
	// Full or detached: the global pool, or the GC when that is full too.
	_ = s.freePool.Enqueue(unsafe.Pointer(f))
}
