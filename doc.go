// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fiber provides a user-space M:N scheduler: many lightweight
// cooperative fibers multiplexed onto a fixed pool of logical
// processors driven by a smaller set of OS threads.
//
// The scheduler supports cooperative yielding, socket wakeups through
// a one-shot edge-triggered poller, blocking-syscall handoff, and
// rendezvous/buffered channels between fibers.
//
// # Quick Start
//
//	s, err := fiber.Init(fiber.New(4))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	s.Go(func(f *fiber.Fiber) {
//	    for i := 0; i < 10; i++ {
//	        work(i)
//	        f.Yield()
//	    }
//	})
//
//	s.Start() // never returns
//
// # Scheduling Model
//
// A fiber runs on a thread's processor until it reaches a yield point:
// Yield, YieldSocket, Sleep, a channel operation, or the
// EnterSyscall/ExitSyscall pair. The scheduler is not preemptive; a
// fiber that never yields monopolizes its processor.
//
// Each processor owns a bounded lock-free run queue plus a
// priority-next slot for freshly spawned work. The dispatcher's search
// order is: the global queue every 61st tick for fairness, the local
// queue, the global queue in bulk, a non-blocking network poll, work
// stealing over the other processors, and finally parking the thread.
// An atomic spinning count coordinates thread wakeups so that runnable
// work plus an idle processor always implies a spinning or dispatching
// thread, without wake storms.
//
// # Socket Waits
//
//	ev, err := f.YieldSocket(fd, fiber.EventRead)
//	if err != nil {
//	    // Registration failed; the fiber was requeued runnable.
//	}
//	if ev.Has(fiber.EventRead) {
//	    // fd is readable.
//	}
//
// Registrations are one-shot and edge-triggered: each wakeup consumes
// the arming, so an event can never target a fiber that is already
// running. Re-waiting on the same descriptor re-arms it in place.
//
// When every scheduler thread is parked, network readiness alone must
// still produce wakeups; drive NetPoll from a dedicated helper thread:
//
//	go func() {
//	    for {
//	        s.NetPoll(-1)
//	    }
//	}()
//
// # Channels
//
//	ch := fiber.NewChan[int](0) // rendezvous
//
//	s.Go(func(f *fiber.Fiber) {
//	    for i := 1; i <= 10; i++ {
//	        ch.Send(f, i)
//	    }
//	    ch.Close()
//	})
//	s.Go(func(f *fiber.Fiber) {
//	    for v, ok := ch.Recv(f); ok; v, ok = ch.Recv(f) {
//	        consume(v)
//	    }
//	})
//
// A closed channel still drains its buffered values; Send on a closed
// channel reports false as a normal completion, not an error.
//
// # Blocking Calls
//
// A fiber about to make a genuinely blocking call releases its
// processor so queued work keeps running:
//
//	f.EnterSyscall()
//	n, err := blockingRead(fd, buf)
//	f.ExitSyscall()
//
// ExitSyscall reclaims the released processor on a lock-free fast path
// when it is still free, and otherwise migrates the fiber to any idle
// processor or the global queue.
//
// # Error Handling
//
// A wait that resumes before its condition is met reports
// [ErrWouldBlock] (Sleep, when the timer has not fired), sourced from
// [code.hybscloud.com/iox] for ecosystem consistency.
// Scheduler misuse (yielding from a scheduler fiber, EnterSyscall with
// no processor) is a documented no-op. Invariant violations inside the
// core abort the process: silent corruption of scheduler state
// produces non-local, non-debuggable failures.
//
// # Non-Goals
//
// The scheduler is not preemptive, not NUMA-aware, does not grow
// per-fiber stacks, provides no priorities or deadlines beyond the
// periodic global-queue check, and has no shutdown: once started it
// runs until the process exits.
//
// # Race Detection
//
// Go's race detector cannot observe happens-before edges established
// through atomic orderings on separate variables, which the run queues
// rely on. Stress tests incompatible with race detection skip
// themselves when [RaceEnabled] is true.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/atomix] for atomic primitives
// with explicit memory ordering, [code.hybscloud.com/spin] for CPU
// pause instructions in retry loops, [code.hybscloud.com/iox] for
// semantic errors, and [code.hybscloud.com/lfq] for the lock-free
// global free pool.
package fiber
