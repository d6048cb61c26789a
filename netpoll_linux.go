// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package fiber

import (
	"sync"

	"golang.org/x/sys/unix"
)

// netpoller wraps an epoll instance with one-shot edge-triggered
// registrations. The opaque user data of each registration is the
// parked fiber, resolved through the descriptor table; one-shot
// semantics guarantee that between arming and wakeup no second event
// is delivered, so a descriptor maps to at most one parked fiber.
//
// The poller is thread-safe without external locking and may be waited
// on from several threads at once; the kernel delivers each armed
// event to exactly one of them.
type netpoller struct {
	epfd int

	mu  sync.RWMutex
	fds map[int]*Fiber
}

func newNetpoller() (*netpoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &netpoller{
		epfd: epfd,
		fds:  make(map[int]*Fiber),
	}, nil
}

func (np *netpoller) ok() bool { return np != nil }

// register arms fd one-shot and edge-triggered for the fiber.
func (np *netpoller) register(fd int, interest Events, f *Fiber) error {
	np.mu.Lock()
	np.fds[fd] = f
	np.mu.Unlock()

	ev := &unix.EpollEvent{
		Events: eventsToEpoll(interest),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(np.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		np.mu.Lock()
		delete(np.fds, fd)
		np.mu.Unlock()
		return err
	}
	return nil
}

// modify re-arms an already-registered descriptor. One-shot arming
// disarms after each delivery, so re-entering a wait on the same
// descriptor goes through here.
func (np *netpoller) modify(fd int, interest Events, f *Fiber) error {
	np.mu.Lock()
	np.fds[fd] = f
	np.mu.Unlock()

	ev := &unix.EpollEvent{
		Events: eventsToEpoll(interest),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(np.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (np *netpoller) unregister(fd int) error {
	np.mu.Lock()
	delete(np.fds, fd)
	np.mu.Unlock()
	return unix.EpollCtl(np.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait polls for ready events and invokes deliver for each fiber
// found. Poll errors are swallowed; the dispatcher treats a dry poll
// and a failed poll alike.
func (np *netpoller) wait(timeoutMs int, deliver func(*Fiber, Events)) {
	_ = np.waitErr(timeoutMs, deliver)
}

// waitErr is wait with the poll error surfaced, for the external
// NetPoll entry point. An interrupted blocking wait returns nil with
// no deliveries.
func (np *netpoller) waitErr(timeoutMs int, deliver func(*Fiber, Events)) error {
	var buf [128]unix.EpollEvent
	n, err := unix.EpollWait(np.epfd, buf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		fd := int(buf[i].Fd)
		np.mu.RLock()
		f := np.fds[fd]
		np.mu.RUnlock()
		if f == nil {
			continue
		}
		deliver(f, epollToEvents(buf[i].Events))
	}
	return nil
}

func eventsToEpoll(ev Events) uint32 {
	out := uint32(unix.EPOLLONESHOT) | uint32(unix.EPOLLET)
	if ev.Has(EventRead) {
		out |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if ev.Has(EventWrite) {
		out |= unix.EPOLLOUT
	}
	return out
}

func epollToEvents(ep uint32) Events {
	var ev Events
	if ep&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		ev |= EventRead
	}
	if ep&unix.EPOLLOUT != 0 {
		ev |= EventWrite
	}
	if ep&unix.EPOLLERR != 0 {
		ev |= EventError
	}
	if ep&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		ev |= EventHangup
	}
	return ev
}
