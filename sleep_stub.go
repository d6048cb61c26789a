// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package fiber

import "time"

// Sleep is unavailable without a poller; it reports ErrUnsupported.
func (f *Fiber) Sleep(time.Duration) error { return ErrUnsupported }
