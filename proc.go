// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"sync/atomic"

	"code.hybscloud.com/atomix"
)

// Processor states. A processor is never destroyed; it cycles between
// idle and running, with syscall marking the window in which its
// releasing thread may still reclaim it on the fast path.
const (
	pIdle int32 = iota
	pRunning
	pSyscall
)

// proc is a logical execution slot: at most one thread owns it at a
// time. It carries the local run queue, the priority-next slot, a
// bounded free-fiber list, and the scheduling tick counter.
type proc struct {
	id     int32
	sched  *Sched
	status atomix.Int32

	// m is the owning thread, nil while the processor is idle or
	// released for a syscall. The syscall fast path stores it back
	// after winning the status CAS.
	m atomic.Pointer[thread]

	_        pad
	runqHead atomix.Uint64
	_        pad
	runqTail atomix.Uint64
	_        pad
	runnext  atomic.Pointer[Fiber]
	_        pad

	runq []atomic.Pointer[Fiber]
	mask uint64

	// freeF is the bounded local free-fiber list, owner access only.
	freeF []*Fiber

	// tick counts dispatches; every 61st consults the global queue
	// ahead of local work for fairness.
	tick uint64
}

func newProc(s *Sched, id int32, ringSize, freeListSize int) *proc {
	n := uint64(roundToPow2(ringSize))
	return &proc{
		id:    id,
		sched: s,
		runq:  make([]atomic.Pointer[Fiber], n),
		mask:  n - 1,
		freeF: make([]*Fiber, 0, freeListSize),
	}
}

// pad is cache line padding to prevent false sharing.
type pad [64]byte

// roundToPow2 rounds n up to the next power of 2.
func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
