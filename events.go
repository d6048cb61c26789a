// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

// Events is a bitmask of socket readiness conditions.
//
// Events is used both as the interest set passed to
// [Fiber.YieldSocket] and as the delivered set returned from it.
type Events uint32

const (
	// EventRead indicates the descriptor is ready for reading.
	EventRead Events = 1 << iota
	// EventWrite indicates the descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// Has reports whether all bits of mask are set in e.
func (e Events) Has(mask Events) bool {
	return e&mask == mask
}
