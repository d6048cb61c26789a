// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package fiber_test

import (
	"fmt"
	"net"
	"testing"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/fiber"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// listenTCP opens a nonblocking listening socket on a kernel-assigned
// loopback port and returns the descriptor and port.
func listenTCP(t *testing.T) (int, int) {
	t.Helper()
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	sa := &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}
	require.NoError(t, unix.Bind(fd, sa))
	require.NoError(t, unix.Listen(fd, 8))

	bound, err := unix.Getsockname(fd)
	require.NoError(t, err)
	return fd, bound.(*unix.SockaddrInet4).Port
}

// TestSocketWakeup is the listening-socket scenario: a fiber parks on
// readability of a listening socket, an external client connects, and
// the fiber wakes with EventRead set and accepts the connection.
func TestSocketWakeup(t *testing.T) {
	s, err := fiber.Init(fiber.New(1))
	require.NoError(t, err)

	lfd, port := listenTCP(t)
	defer unix.Close(lfd)

	var wokeWith atomix.Int64
	var accepted atomix.Int64
	var done atomix.Int64

	s.Go(func(f *fiber.Fiber) {
		defer done.Add(1)
		ev, err := f.YieldSocket(lfd, fiber.EventRead)
		if err != nil {
			wokeWith.Store(-1)
			return
		}
		wokeWith.Store(int64(ev))
		nfd, _, err := unix.Accept(lfd)
		if err != nil {
			return
		}
		unix.Close(nfd)
		accepted.Add(1)
	})
	start(s)
	go pollLoop(s, &done)

	// External client.
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	waitForCount(t, 10*time.Second, &done, 1, "fiber did not wake on connect")
	require.True(t, fiber.Events(wokeWith.Load()).Has(fiber.EventRead),
		"delivered mask %v lacks EventRead", fiber.Events(wokeWith.Load()))
	require.Equal(t, int64(1), accepted.Load(), "accept failed after wakeup")
}

// TestYieldSocketRearm tests that a fiber re-waiting on the same
// descriptor re-arms the one-shot registration in place.
func TestYieldSocketRearm(t *testing.T) {
	s, err := fiber.Init(fiber.New(1))
	require.NoError(t, err)

	fds := socketpair(t)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	const rounds = 3
	var received atomix.Int64
	var done atomix.Int64

	s.Go(func(f *fiber.Fiber) {
		defer done.Add(1)
		buf := make([]byte, 16)
		for i := 0; i < rounds; i++ {
			ev, err := f.YieldSocket(fds[0], fiber.EventRead)
			if err != nil || !ev.Has(fiber.EventRead) {
				return
			}
			n, err := unix.Read(fds[0], buf)
			if err != nil || n == 0 {
				return
			}
			received.Add(int64(n))
		}
	})
	start(s)
	go pollLoop(s, &done)

	for i := 0; i < rounds; i++ {
		_, err := unix.Write(fds[1], []byte{byte(i)})
		require.NoError(t, err)
		waitForCount(t, 10*time.Second, &received, int64(i+1), "fiber missed a wakeup")
	}
	waitForCount(t, 10*time.Second, &done, 1, "fiber did not complete")
}

// TestNetPollZeroNeverBlocks tests the non-blocking poll contract.
func TestNetPollZeroNeverBlocks(t *testing.T) {
	s, err := fiber.Init(fiber.New(1))
	require.NoError(t, err)

	begin := time.Now()
	n, err := s.NetPoll(0)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Less(t, time.Since(begin), time.Second, "NetPoll(0) blocked")
}

// TestNetPollBlocksUntilEvent tests that NetPoll(-1) waits for an
// event and reports the woken fiber.
func TestNetPollBlocksUntilEvent(t *testing.T) {
	s, err := fiber.Init(fiber.New(1))
	require.NoError(t, err)

	fds := socketpair(t)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var parked atomix.Int64
	var done atomix.Int64
	s.Go(func(f *fiber.Fiber) {
		parked.Add(1)
		ev, err := f.YieldSocket(fds[0], fiber.EventRead)
		if err == nil && ev.Has(fiber.EventRead) {
			done.Add(1)
		}
	})
	start(s)
	waitForCount(t, 5*time.Second, &parked, 1, "fiber did not reach the socket wait")

	var woken atomix.Int64
	go func() {
		n, err := s.NetPoll(-1)
		if err == nil {
			woken.Store(int64(n))
		}
	}()

	// The blocking poll must outlive this write's delay.
	time.Sleep(100 * time.Millisecond)
	_, err = unix.Write(fds[1], []byte{1})
	require.NoError(t, err)

	waitForCount(t, 10*time.Second, &done, 1, "fiber did not wake")
	retryWithTimeout(t, 5*time.Second, func() bool {
		return woken.Load() >= 1
	}, "NetPoll(-1) did not report the wakeup")
}

// TestConcurrentSocketFibers runs several socket fibers against
// several external writers at once.
func TestConcurrentSocketFibers(t *testing.T) {
	s, err := fiber.Init(fiber.New(2))
	require.NoError(t, err)

	const pairs = 4
	var done atomix.Int64
	writers := make([]int, 0, pairs)

	var stopPoll atomix.Int64
	defer stopPoll.Store(1)

	for i := 0; i < pairs; i++ {
		fds := socketpair(t)
		rfd, wfd := fds[0], fds[1]
		writers = append(writers, wfd)
		t.Cleanup(func() { unix.Close(rfd); unix.Close(wfd) })

		s.Go(func(f *fiber.Fiber) {
			defer done.Add(1)
			buf := make([]byte, 4)
			ev, err := f.YieldSocket(rfd, fiber.EventRead)
			if err != nil || !ev.Has(fiber.EventRead) {
				return
			}
			unix.Read(rfd, buf)
		})
	}
	start(s)
	go pollLoop(s, &stopPoll)

	var eg errgroup.Group
	for _, wfd := range writers {
		wfd := wfd
		eg.Go(func() error {
			_, err := unix.Write(wfd, []byte{42})
			return err
		})
	}
	require.NoError(t, eg.Wait())

	waitForCount(t, 10*time.Second, &done, pairs, "socket fibers did not all wake")
}

// socketpair returns a connected nonblocking stream pair.
func socketpair(t *testing.T) [2]int {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	return fds
}
