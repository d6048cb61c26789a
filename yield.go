// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

// Yield points.
//
// All suspension funnels through Fiber.park: the yielding fiber
// installs a park callback on its thread and switches to the scheduler
// fiber. The callback then runs on the dispatcher's native context, so
// queue manipulation and lock handoff never happen on a stack that may
// already be resumed elsewhere.

// Yield reschedules the calling fiber at the tail of its processor's
// local queue and runs the dispatcher. Calling Yield on a scheduler
// fiber or a detached fiber is a no-op.
func (f *Fiber) Yield() {
	m := f.m
	if m == nil || f == m.g0 {
		return
	}
	f.park(yieldPark, m)
}

// yieldPark makes the yielded fiber runnable again at the back of the
// thread's local queue.
func yieldPark(f *Fiber, arg any) bool {
	m := arg.(*thread)
	f.m = nil
	f.status.StoreRelease(int32(StatusRunnable))
	m.p.runqPut(f, false)
	return true
}

// YieldSocket parks the calling fiber until fd reports one of the
// interest events, registering it one-shot and edge-triggered with the
// poller. It returns the delivered event mask.
//
// A repeated wait on the fiber's registered descriptor re-arms it in
// place; a wait on a different descriptor unregisters the previous one
// first. fd of -1 means "this fiber's registered socket".
//
// When registration fails the fiber is requeued runnable and the error
// is returned with an empty mask; an empty mask alone is therefore not
// a failure indicator.
func (f *Fiber) YieldSocket(fd int, interest Events) (Events, error) {
	m := f.m
	if m == nil || f == m.g0 {
		return 0, ErrNotFiber
	}
	if !f.sched.np.ok() {
		return 0, ErrUnsupported
	}
	if fd < 0 {
		if f.registeredFD == noFD {
			return 0, ErrNoSocket
		}
		fd = f.registeredFD
	}
	f.waitFD = fd
	f.interest = interest
	f.delivered = 0
	f.pollErr = nil

	f.park(socketPark, nil)

	return f.delivered, f.pollErr
}

// socketPark arms the wait descriptor with the poller, one-shot and
// edge-triggered, with the fiber as user data. It runs on the
// scheduler fiber; the status must be Waiting before the descriptor is
// armed, or a readiness event delivered between the two would find a
// Running fiber and be discarded.
func socketPark(f *Fiber, _ any) bool {
	s := f.sched
	f.m = nil
	f.status.StoreRelease(int32(StatusWaiting))

	var err error
	switch {
	case f.registeredFD == f.waitFD:
		err = s.np.modify(f.waitFD, f.interest, f)
	case f.registeredFD == noFD:
		err = s.np.register(f.waitFD, f.interest, f)
	default:
		_ = s.np.unregister(f.registeredFD)
		f.registeredFD = noFD
		err = s.np.register(f.waitFD, f.interest, f)
	}
	if err != nil {
		if !f.status.CompareAndSwapAcqRel(int32(StatusWaiting), int32(StatusRunnable)) {
			fatalf("fiber %d left waiting state during failed registration", f.id)
		}
		f.pollErr = ErrRegister
		return false
	}
	f.registeredFD = f.waitFD
	return true
}

// SocketUpdate changes the poller interest of the fiber's registered
// descriptor while the fiber keeps running. fd of -1 means "this
// fiber's registered socket". An edge event firing for the running
// fiber as a result is discarded by the dispatcher; the race is
// tolerated by design of the one-shot arming.
func (f *Fiber) SocketUpdate(fd int, interest Events) error {
	if !f.sched.np.ok() {
		return ErrUnsupported
	}
	if fd < 0 {
		fd = f.registeredFD
	}
	if fd == noFD {
		return ErrNoSocket
	}
	if f.registeredFD == noFD {
		if err := f.sched.np.register(fd, interest, f); err != nil {
			return err
		}
		f.registeredFD = fd
		f.interest = interest
		return nil
	}
	if fd != f.registeredFD {
		_ = f.sched.np.unregister(f.registeredFD)
		f.registeredFD = noFD
		if err := f.sched.np.register(fd, interest, f); err != nil {
			return err
		}
		f.registeredFD = fd
		f.interest = interest
		return nil
	}
	if err := f.sched.np.modify(fd, interest, f); err != nil {
		return err
	}
	f.interest = interest
	return nil
}

// SocketUnregister removes the fiber's descriptor from the poller.
// fd of -1 means "this fiber's registered socket".
func (f *Fiber) SocketUnregister(fd int) error {
	if !f.sched.np.ok() {
		return ErrUnsupported
	}
	if fd < 0 {
		fd = f.registeredFD
	}
	if fd == noFD {
		return ErrNoSocket
	}
	err := f.sched.np.unregister(fd)
	if fd == f.registeredFD {
		f.registeredFD = noFD
	}
	return err
}

// EnterSyscall detaches the calling fiber's processor before a
// blocking call so other threads can run its queued work. Calling it
// with no processor, or on a scheduler fiber, is a no-op.
//
// The fiber stays bound to its thread; pair with [Fiber.ExitSyscall]
// once the blocking call returns.
func (f *Fiber) EnterSyscall() {
	m := f.m
	if m == nil || f == m.g0 || m.p == nil {
		return
	}
	s := f.sched
	f.status.StoreRelease(int32(StatusSyscall))

	p := m.p
	m.p = nil
	m.syscallP = p
	p.m.Store(nil)
	p.status.Store(pSyscall)

	s.handoffP(p)
}

// handoffP disposes of a processor released for a syscall: a thread is
// started for it when it has work, a spinning thread when the system
// is otherwise asleep, and the idle list takes it as a last resort.
// An idled processor keeps the syscall status so the releasing thread
// can reclaim it on the fast path.
func (s *Sched) handoffP(p *proc) {
	if !p.runqEmpty() || s.runq.size.Load() > 0 {
		if p.status.CompareAndSwapAcqRel(pSyscall, pRunning) {
			s.startThread(p, false)
		}
		return
	}
	if s.spinning.Load() == 0 && s.idleProcs() > 0 {
		if s.spinning.CompareAndSwapAcqRel(0, 1) {
			if p.status.CompareAndSwapAcqRel(pSyscall, pRunning) {
				s.startThread(p, true)
			} else if n := s.spinning.AddAcqRel(-1); n < 0 {
				fatalf("negative spinning count %d", n)
			}
			return
		}
	}
	s.mu.Lock()
	s.pidle = append(s.pidle, p)
	s.mu.Unlock()
}

// ExitSyscall rebinds the calling fiber to a processor after a
// blocking call. The fast path reclaims the processor the fiber's
// thread released, without touching the scheduler lock. The slow path
// takes any idle processor, or requeues the fiber globally and parks
// the thread.
func (f *Fiber) ExitSyscall() {
	m := f.m
	if m == nil || f == m.g0 || m.syscallP == nil {
		return
	}
	s := f.sched
	p := m.syscallP
	m.syscallP = nil

	// Fast path: the processor is still where EnterSyscall left it.
	if p.status.CompareAndSwapAcqRel(pSyscall, pRunning) {
		p.m.Store(m)
		m.p = p
		f.status.StoreRelease(int32(StatusRunning))
		return
	}

	// Slow path: any idle processor.
	s.mu.Lock()
	p = s.pidleGet(m)
	s.mu.Unlock()
	if p != nil {
		m.p = p
		f.status.StoreRelease(int32(StatusRunning))
		return
	}

	// No processor: the fiber joins the global queue and the thread
	// parks; the dispatcher takes over when a processor frees up.
	f.park(exitSyscallPark, s)
}

// exitSyscallPark requeues a processor-less post-syscall fiber on the
// global queue. It runs on the scheduler fiber, which then finds its
// thread processor-less and parks it.
func exitSyscallPark(f *Fiber, arg any) bool {
	s := arg.(*Sched)
	f.m = nil
	f.status.StoreRelease(int32(StatusRunnable))
	s.mu.Lock()
	s.runq.push(f)
	s.mu.Unlock()
	s.wakeProc()
	return true
}
