// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import "fmt"

// fatalf aborts on an invariant violation. Silent corruption of
// scheduler state produces non-local failures, so detection aborts
// immediately rather than attempting recovery.
func fatalf(format string, args ...any) {
	panic("fiber: " + fmt.Sprintf(format, args...))
}
