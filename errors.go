// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"errors"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates a wait resumed before its condition was met:
// [Fiber.Sleep] returns it when the timer did not report expiry.
//
// ErrWouldBlock is a control flow signal, not a failure.
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency.
var ErrWouldBlock = iox.ErrWouldBlock

var (
	// ErrInitialized is returned by Init when the builder has already
	// initialized a scheduler. A builder initializes exactly once.
	ErrInitialized = errors.New("fiber: scheduler already initialized")

	// ErrNotFiber is returned by operations that require a fiber context
	// when invoked on a scheduler fiber or a detached fiber.
	ErrNotFiber = errors.New("fiber: not running in a fiber context")

	// ErrNoSocket is returned by socket operations given the -1 sentinel
	// when the fiber has no registered socket.
	ErrNoSocket = errors.New("fiber: no socket registered")

	// ErrRegister is returned by YieldSocket when the poller rejected the
	// registration. The fiber is requeued runnable; no events were lost.
	ErrRegister = errors.New("fiber: poller registration failed")

	// ErrUnsupported is returned by socket and timer operations on
	// platforms without a poller implementation.
	ErrUnsupported = errors.New("fiber: operation not supported on this platform")
)

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}
