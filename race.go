// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package fiber

// RaceEnabled is true when the race detector is active. Used by tests
// to skip stress tests whose happens-before edges flow through atomic
// orderings on separate variables, which the detector cannot track.
const RaceEnabled = true
