// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import "sync"

// Chan is an inter-fiber message channel: a rendezvous point at
// capacity 0, a bounded FIFO otherwise. Senders and receivers park
// through the scheduler's yield machinery, so a blocked channel
// operation costs a fiber, not a thread.
//
// A channel is safe for use from any number of fibers on any
// processors. The wait lists obey the rendezvous invariant: parked
// senders and parked receivers never coexist.
type Chan[T any] struct {
	mu sync.Mutex

	// Bounded ring, nil for rendezvous channels.
	buf   []T
	head  int
	tail  int
	count int

	closed    bool
	destroyed bool

	sendq waiterQueue[T]
	recvq waiterQueue[T]
}

// waiter is one parked channel party: the fiber, the value it carries
// (senders) or receives into (receivers), and the completion verdict.
// Result fields are written by the waking side under the channel mutex
// before the fiber is made runnable.
type waiter[T any] struct {
	f    *Fiber
	val  T
	ok   bool
	next *waiter[T]
}

type waiterQueue[T any] struct {
	head *waiter[T]
	tail *waiter[T]
}

func (q *waiterQueue[T]) push(w *waiter[T]) {
	w.next = nil
	if q.tail == nil {
		q.head = w
	} else {
		q.tail.next = w
	}
	q.tail = w
}

func (q *waiterQueue[T]) pop() *waiter[T] {
	w := q.head
	if w == nil {
		return nil
	}
	q.head = w.next
	if q.head == nil {
		q.tail = nil
	}
	w.next = nil
	return w
}

func (q *waiterQueue[T]) empty() bool { return q.head == nil }

// NewChan creates a channel of the given capacity. Capacity 0 makes a
// rendezvous channel: send and receive complete simultaneously.
func NewChan[T any](capacity int) *Chan[T] {
	if capacity < 0 {
		panic("fiber: negative channel capacity")
	}
	c := &Chan[T]{}
	if capacity > 0 {
		c.buf = make([]T, capacity)
	}
	return c
}

// Cap returns the channel's buffer capacity; 0 for rendezvous.
func (c *Chan[T]) Cap() int { return len(c.buf) }

// Send delivers v to the channel, parking the calling fiber until a
// receiver or buffer slot takes it. It reports false when the channel
// is closed, either on entry or while parked.
func (c *Chan[T]) Send(f *Fiber, v T) bool {
	c.mu.Lock()
	c.checkDestroyed()
	if c.closed {
		c.mu.Unlock()
		return false
	}

	// A parked receiver implies an empty buffer: hand the value over
	// directly and wake it.
	if w := c.recvq.pop(); w != nil {
		w.val = v
		w.ok = true
		c.assertDisjoint()
		f.sched.ready(f, w.f)
		c.mu.Unlock()
		return true
	}

	if c.count < len(c.buf) {
		c.buf[c.tail] = v
		c.tail = (c.tail + 1) % len(c.buf)
		c.count++
		c.mu.Unlock()
		return true
	}

	// Rendezvous with no receiver, or a full buffer: park carrying the
	// value. The channel mutex travels with the fiber into the park
	// callback and is released on the scheduler fiber only after the
	// waiter is linked.
	w := &waiter[T]{f: f, val: v}
	c.sendq.push(w)
	f.park(chanPark, &c.mu)
	return w.ok
}

// Recv takes a value from the channel, parking the calling fiber until
// one arrives. The second result is false when the channel is closed
// and drained; buffered values remain receivable after Close.
func (c *Chan[T]) Recv(f *Fiber) (T, bool) {
	c.mu.Lock()
	c.checkDestroyed()

	// Buffered values drain ahead of the closed flag.
	if c.count > 0 {
		v := c.buf[c.head]
		var zero T
		c.buf[c.head] = zero
		c.head = (c.head + 1) % len(c.buf)
		c.count--
		// A freed slot unblocks the oldest parked sender, preserving
		// FIFO across the buffer boundary.
		if w := c.sendq.pop(); w != nil {
			c.buf[c.tail] = w.val
			c.tail = (c.tail + 1) % len(c.buf)
			c.count++
			w.ok = true
			f.sched.ready(f, w.f)
		}
		c.mu.Unlock()
		return v, true
	}

	// Rendezvous: take the value straight from a parked sender.
	if w := c.sendq.pop(); w != nil {
		v := w.val
		w.ok = true
		c.assertDisjoint()
		f.sched.ready(f, w.f)
		c.mu.Unlock()
		return v, true
	}

	if c.closed {
		c.mu.Unlock()
		var zero T
		return zero, false
	}

	w := &waiter[T]{f: f}
	c.recvq.push(w)
	f.park(chanPark, &c.mu)
	return w.val, w.ok
}

// Close marks the channel closed and wakes every parked party: senders
// report failure, receivers report a zero value and failure. Buffered
// values remain drainable until exhausted. Closing twice is a no-op.
func (c *Chan[T]) Close() {
	c.mu.Lock()
	c.checkDestroyed()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var wake []*Fiber
	for w := c.sendq.pop(); w != nil; w = c.sendq.pop() {
		w.ok = false
		wake = append(wake, w.f)
	}
	for w := c.recvq.pop(); w != nil; w = c.recvq.pop() {
		w.ok = false
		wake = append(wake, w.f)
	}
	c.mu.Unlock()

	for _, g := range wake {
		g.sched.ready(nil, g)
	}
}

// Destroy releases the channel's buffer. Destroying a channel with
// parked fibers is an invariant violation and aborts; destroy only
// after every user is done with the channel. Operations after Destroy
// panic.
func (c *Chan[T]) Destroy() {
	c.mu.Lock()
	if !c.sendq.empty() || !c.recvq.empty() {
		fatalf("channel destroyed with parked fibers")
	}
	c.destroyed = true
	c.closed = true
	c.buf = nil
	c.count = 0
	c.mu.Unlock()
}

func (c *Chan[T]) checkDestroyed() {
	if c.destroyed {
		c.mu.Unlock()
		panic("fiber: operation on destroyed channel")
	}
}

// assertDisjoint enforces the rendezvous invariant: parked senders and
// parked receivers never coexist.
func (c *Chan[T]) assertDisjoint() {
	if !c.sendq.empty() && !c.recvq.empty() {
		fatalf("channel wait lists overlap")
	}
}

// chanPark completes a channel park on the scheduler fiber: the waiter
// is already linked, so only the status flip and the mutex release
// remain. Unlocking here, after the yielding fiber's context is fully
// saved, is what makes a wake from another processor safe.
func chanPark(f *Fiber, arg any) bool {
	f.m = nil
	f.status.StoreRelease(int32(StatusWaiting))
	arg.(*sync.Mutex).Unlock()
	return true
}
