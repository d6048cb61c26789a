// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package fiber

// netpoller is unavailable on this platform: socket waits report
// ErrUnsupported while the pure-scheduling core remains functional.
type netpoller struct{}

func newNetpoller() (*netpoller, error) { return nil, nil }

func (np *netpoller) ok() bool { return false }

func (np *netpoller) register(int, Events, *Fiber) error { return ErrUnsupported }

func (np *netpoller) modify(int, Events, *Fiber) error { return ErrUnsupported }

func (np *netpoller) unregister(int) error { return ErrUnsupported }

func (np *netpoller) wait(int, func(*Fiber, Events)) {}

func (np *netpoller) waitErr(int, func(*Fiber, Events)) error { return ErrUnsupported }
