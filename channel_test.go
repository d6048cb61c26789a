// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber_test

import (
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/fiber"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Rendezvous Channels
// =============================================================================

// TestRendezvousChannel runs a producer sending 1..10 against a
// consumer on a capacity-0 channel. The consumer observes exactly
// 1..10 in order and the producer's final send reports true.
func TestRendezvousChannel(t *testing.T) {
	s, err := fiber.Init(fiber.New(2))
	require.NoError(t, err)

	ch := fiber.NewChan[int](0)
	require.Equal(t, 0, ch.Cap())

	var mu sync.Mutex
	var got []int
	var lastSend atomix.Int64
	var done atomix.Int64

	s.Go(func(f *fiber.Fiber) {
		for i := 1; i <= 10; i++ {
			ok := ch.Send(f, i)
			if i == 10 {
				if ok {
					lastSend.Store(1)
				} else {
					lastSend.Store(-1)
				}
			}
		}
		done.Add(1)
	})
	s.Go(func(f *fiber.Fiber) {
		for i := 0; i < 10; i++ {
			v, ok := ch.Recv(f)
			if !ok {
				break
			}
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		}
		done.Add(1)
	})
	start(s)

	waitForCount(t, 10*time.Second, &done, 2, "producer/consumer did not complete")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
	require.Equal(t, int64(1), lastSend.Load(), "tenth send did not report true")
}

// =============================================================================
// Buffered Channels
// =============================================================================

// TestBufferedChannelClose sends 100..109 on a capacity-4 channel,
// closes it, and drains from another fiber. The consumer observes
// exactly 100..109 and then the closed return.
func TestBufferedChannelClose(t *testing.T) {
	s, err := fiber.Init(fiber.New(2))
	require.NoError(t, err)

	ch := fiber.NewChan[int](4)
	require.Equal(t, 4, ch.Cap())

	var mu sync.Mutex
	var got []int
	var sawClosed atomix.Int64
	var done atomix.Int64

	s.Go(func(f *fiber.Fiber) {
		for i := 100; i <= 109; i++ {
			if !ch.Send(f, i) {
				break
			}
		}
		ch.Close()
		done.Add(1)
	})
	s.Go(func(f *fiber.Fiber) {
		for {
			v, ok := ch.Recv(f)
			if !ok {
				sawClosed.Add(1)
				break
			}
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		}
		done.Add(1)
	})
	start(s)

	waitForCount(t, 10*time.Second, &done, 2, "producer/consumer did not complete")

	mu.Lock()
	defer mu.Unlock()
	want := []int{100, 101, 102, 103, 104, 105, 106, 107, 108, 109}
	require.Equal(t, want, got)
	require.Equal(t, int64(1), sawClosed.Load())
}

// TestClosedChannelDrain tests that a closed channel with K buffered
// values allows exactly K successful receives.
func TestClosedChannelDrain(t *testing.T) {
	s, err := fiber.Init(fiber.New(1))
	require.NoError(t, err)

	ch := fiber.NewChan[int](4)
	var results atomix.Int64 // packs: successes*10 + closed observations
	var done atomix.Int64

	s.Go(func(f *fiber.Fiber) {
		for i := 0; i < 3; i++ {
			if !ch.Send(f, i) {
				results.Store(-1)
				done.Add(1)
				return
			}
		}
		ch.Close()

		// Buffered values drain after close.
		n := int64(0)
		for {
			_, ok := ch.Recv(f)
			if !ok {
				break
			}
			n++
		}
		results.Store(n)
		done.Add(1)
	})
	start(s)

	waitForCount(t, 5*time.Second, &done, 1, "fiber did not complete")
	require.Equal(t, int64(3), results.Load(), "drained value count")
}

// TestSendOnClosed tests the immediate failure return.
func TestSendOnClosed(t *testing.T) {
	s, err := fiber.Init(fiber.New(1))
	require.NoError(t, err)

	ch := fiber.NewChan[int](1)
	var sendOK atomix.Int64
	var done atomix.Int64

	s.Go(func(f *fiber.Fiber) {
		ch.Close()
		if ch.Send(f, 7) {
			sendOK.Store(1)
		} else {
			sendOK.Store(-1)
		}
		done.Add(1)
	})
	start(s)

	waitForCount(t, 5*time.Second, &done, 1, "fiber did not complete")
	require.Equal(t, int64(-1), sendOK.Load(), "send on closed channel succeeded")
}

// TestCloseWakesParked tests that Close wakes a parked receiver with
// the closed return and a parked sender with failure.
func TestCloseWakesParked(t *testing.T) {
	s, err := fiber.Init(fiber.New(2))
	require.NoError(t, err)

	recvCh := fiber.NewChan[int](0)
	sendCh := fiber.NewChan[int](0)
	var recvOK, sendOK atomix.Int64
	var parked atomix.Int64
	var done atomix.Int64

	s.Go(func(f *fiber.Fiber) {
		parked.Add(1)
		_, ok := recvCh.Recv(f)
		if ok {
			recvOK.Store(1)
		} else {
			recvOK.Store(-1)
		}
		done.Add(1)
	})
	s.Go(func(f *fiber.Fiber) {
		parked.Add(1)
		if sendCh.Send(f, 9) {
			sendOK.Store(1)
		} else {
			sendOK.Store(-1)
		}
		done.Add(1)
	})
	s.Go(func(f *fiber.Fiber) {
		// Give both parties time to park, then close.
		for parked.Load() < 2 {
			f.Yield()
		}
		f.Yield()
		recvCh.Close()
		sendCh.Close()
	})
	start(s)

	waitForCount(t, 10*time.Second, &done, 2, "parked fibers were not woken by close")
	require.Equal(t, int64(-1), recvOK.Load(), "receiver on closed channel reported ok")
	require.Equal(t, int64(-1), sendOK.Load(), "sender on closed channel reported ok")
}

// TestChannelRoundTrip tests send-then-receive for one pair at each
// interesting capacity.
func TestChannelRoundTrip(t *testing.T) {
	for _, capacity := range []int{0, 1, 4} {
		s, err := fiber.Init(fiber.New(2))
		require.NoError(t, err)

		ch := fiber.NewChan[string](capacity)
		var got atomix.Int64
		var done atomix.Int64

		s.Go(func(f *fiber.Fiber) {
			if ch.Send(f, "ping") {
				done.Add(1)
			}
		})
		s.Go(func(f *fiber.Fiber) {
			if v, ok := ch.Recv(f); ok && v == "ping" {
				got.Store(1)
			}
			done.Add(1)
		})
		start(s)

		waitForCount(t, 10*time.Second, &done, 2, "round trip did not complete")
		require.Equal(t, int64(1), got.Load(), "capacity %d round trip", capacity)
	}
}

// TestDestroyPanics tests that operations on a destroyed channel
// panic.
func TestDestroyPanics(t *testing.T) {
	ch := fiber.NewChan[int](2)
	ch.Destroy()
	require.Panics(t, func() { ch.Close() })
}
