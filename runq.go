// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"math/rand/v2"
	"sync/atomic"

	"code.hybscloud.com/spin"
)

// Local run queues.
//
// Each processor owns a bounded ring of fibers. The owner is the only
// writer of tail; head moves forward either by the owner (pop) or by a
// thief (steal), both via CAS. Counters are unsigned with natural wrap
// and slots are indexed with & mask, so the apparent length tail-head
// is always in [0, capacity].
//
// The priority-next slot holds the most recently spawned fiber (LIFO
// preference for fresh work); a displaced occupant falls through to the
// ring, and the ring overflows half of itself plus the incoming fiber
// to the global queue.

// runqPut adds f to p's local queue. The caller must own p.
// With next set, f takes the priority-next slot and a displaced
// occupant proceeds to the ring.
func (p *proc) runqPut(f *Fiber, next bool) {
	if next {
		sw := spin.Wait{}
		for {
			old := p.runnext.Load()
			if p.runnext.CompareAndSwap(old, f) {
				if old == nil {
					return
				}
				f = old
				break
			}
			sw.Once()
		}
	}
	for {
		h := p.runqHead.LoadAcquire()
		t := p.runqTail.LoadRelaxed()
		if t-h < uint64(len(p.runq)) {
			p.runq[t&p.mask].Store(f)
			p.runqTail.StoreRelease(t + 1)
			return
		}
		if p.runqPutSlow(f, h, t) {
			return
		}
		// The ring drained under us; retry the fast path.
	}
}

// runqPutSlow moves half of the ring plus f to the global queue.
// Returns false when the ring was no longer full (racing consumers).
func (p *proc) runqPutSlow(f *Fiber, h, t uint64) bool {
	n := (t - h) / 2
	if n != uint64(len(p.runq))/2 {
		fatalf("runq overflow with inconsistent length %d", t-h)
	}
	b := make([]*Fiber, 0, n+1)
	for i := uint64(0); i < n; i++ {
		b = append(b, p.runq[(h+i)&p.mask].Load())
	}
	if !p.runqHead.CompareAndSwapAcqRel(h, h+n) {
		return false
	}
	b = append(b, f)

	// Shuffle so same-producer spikes do not cluster on the global queue.
	for i := len(b) - 1; i > 0; i-- {
		j := rand.IntN(i + 1)
		b[i], b[j] = b[j], b[i]
	}

	var q fiberList
	for _, g := range b {
		q.push(g)
	}
	s := p.sched
	s.mu.Lock()
	s.runq.pushList(&q, int32(len(b)))
	s.mu.Unlock()
	return true
}

// runqGet pops one fiber from p's local queue, preferring the
// priority-next slot. The caller must own p. Returns nil when empty.
func (p *proc) runqGet() *Fiber {
	sw := spin.Wait{}
	for {
		if next := p.runnext.Load(); next != nil {
			if p.runnext.CompareAndSwap(next, nil) {
				return next
			}
			sw.Once()
			continue
		}
		h := p.runqHead.LoadAcquire()
		t := p.runqTail.LoadRelaxed()
		if t == h {
			return nil
		}
		f := p.runq[h&p.mask].Load()
		if p.runqHead.CompareAndSwapAcqRel(h, h+1) {
			return f
		}
		sw.Once()
	}
}

// runqEmpty reports whether p's local queue holds no work.
// Safe to call from any thread; the answer is advisory.
func (p *proc) runqEmpty() bool {
	for {
		h := p.runqHead.Load()
		t := p.runqTail.Load()
		next := p.runnext.Load()
		if t == p.runqTail.Load() {
			return h == t && next == nil
		}
	}
}

// runqSteal moves half of victim's queue into thief's ring and returns
// one stolen fiber, or nil. On the final pass the victim's
// priority-next slot is fair game.
func (p *proc) runqSteal(victim *proc, finalPass bool) *Fiber {
	sw := spin.Wait{}
	for {
		h := victim.runqHead.LoadAcquire()
		t := victim.runqTail.LoadAcquire()
		n := t - h
		n = n - n/2
		if n == 0 {
			if finalPass {
				if next := victim.runnext.Load(); next != nil &&
					victim.runnext.CompareAndSwap(next, nil) {
					return next
				}
			}
			return nil
		}
		if n > uint64(len(victim.runq))/2+1 {
			// Inconsistent head/tail read; retry.
			sw.Once()
			continue
		}

		tt := p.runqTail.LoadRelaxed()
		for i := uint64(0); i < n; i++ {
			p.runq[(tt+i)&p.mask].Store(victim.runq[(h+i)&victim.mask].Load())
		}
		if !victim.runqHead.CompareAndSwapAcqRel(h, h+n) {
			sw.Once()
			continue
		}
		p.sched.stats.steals.Add(1)

		// Keep the last stolen fiber for the thief, publish the rest.
		n--
		f := p.runq[(tt+n)&p.mask].Load()
		if n > 0 {
			if tt+n-p.runqHead.LoadAcquire() > uint64(len(p.runq)) {
				fatalf("runq steal overflowed thief ring")
			}
			p.runqTail.StoreRelease(tt + n)
		}
		return f
	}
}

// fiberList is an intrusive FIFO threaded through Fiber.schedNext.
type fiberList struct {
	head *Fiber
	tail *Fiber
}

func (l *fiberList) push(f *Fiber) {
	f.schedNext = nil
	if l.tail == nil {
		l.head = f
	} else {
		l.tail.schedNext = f
	}
	l.tail = f
}

func (l *fiberList) pop() *Fiber {
	f := l.head
	if f == nil {
		return nil
	}
	l.head = f.schedNext
	if l.head == nil {
		l.tail = nil
	}
	f.schedNext = nil
	return f
}

func (l *fiberList) empty() bool { return l.head == nil }

// globalQueue is the shared FIFO run queue. All operations require the
// scheduler mutex; size is additionally readable without it for the
// cheap emptiness probes in the dispatcher.
type globalQueue struct {
	list fiberList
	size atomic.Int32
}

func (q *globalQueue) push(f *Fiber) {
	q.list.push(f)
	q.size.Add(1)
}

func (q *globalQueue) pushList(l *fiberList, n int32) {
	if l.empty() {
		return
	}
	if q.list.tail == nil {
		q.list.head = l.head
	} else {
		q.list.tail.schedNext = l.head
	}
	q.list.tail = l.tail
	q.size.Add(n)
	l.head, l.tail = nil, nil
}

func (q *globalQueue) pop() *Fiber {
	f := q.list.pop()
	if f != nil {
		q.size.Add(-1)
	}
	return f
}

// globalGet dequeues one fiber for p and, when p's ring is nearly
// empty, batches extra fibers into it. Requires the scheduler mutex.
func (s *Sched) globalGet(p *proc, max int32) *Fiber {
	f := s.runq.pop()
	if f == nil {
		return nil
	}
	if max == 1 || p == nil {
		return f
	}
	if !p.runqEmpty() {
		return f
	}
	batch := s.runq.size.Load()
	if lim := int32(len(s.procs)); batch > lim {
		batch = lim
	}
	if lim := int32(len(p.runq)) / 2; batch > lim {
		batch = lim
	}
	for ; batch > 0; batch-- {
		g := s.runq.pop()
		if g == nil {
			break
		}
		p.runqPut(g, false)
	}
	return f
}
