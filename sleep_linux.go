// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package fiber

import (
	"time"

	"golang.org/x/sys/unix"
)

// Sleep parks the calling fiber for at least d by arming a timerfd and
// waiting on its readability. The processor keeps running other fibers
// for the duration. Durations of zero or less degrade to a plain
// Yield.
//
// Timeouts on arbitrary waits follow the same layering: arm a timer
// descriptor and YieldSocket on it.
func (f *Fiber) Sleep(d time.Duration) error {
	if d <= 0 {
		f.Yield()
		return nil
	}
	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return err
	}
	defer unix.Close(tfd)

	ts := unix.NsecToTimespec(d.Nanoseconds())
	spec := unix.ItimerSpec{Value: ts}
	if err := unix.TimerfdSettime(tfd, 0, &spec, nil); err != nil {
		return err
	}
	ev, err := f.YieldSocket(tfd, EventRead)
	// The timer descriptor is transient; drop its registration before
	// the close so the poller table does not go stale.
	_ = f.SocketUnregister(tfd)
	if err != nil {
		return err
	}
	if !ev.Has(EventRead) {
		return ErrWouldBlock
	}
	return nil
}
