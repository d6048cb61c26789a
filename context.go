// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

// Execution contexts.
//
// A machine-level save-and-jump is not expressible in portable Go, so a
// context is backed by a goroutine parked on a one-token resume gate.
// Depositing the token transfers control; receiving it parks the caller.
// The gate has capacity one, which makes an early deposit (a wakeup racing
// a park that has not yet blocked) safe: the token is buffered and the
// park returns immediately.
//
// The runtime places its own guard pages below every goroutine stack, so
// the guard-page obligation of a fiber stack holds by construction.

// fctx is the saved execution state of a fiber: the resume gate its
// goroutine parks on. A fresh fctx is written by initCtx each time a
// fiber record is (re)armed with a start function.
type fctx struct {
	gate chan struct{}
}

// switchCtx transfers control to the context to and parks the current
// context from. It returns when another context transfers control back.
func switchCtx(from, to *fctx) {
	to.gate <- struct{}{}
	<-from.gate
}

// jumpCtx transfers control to the context to without saving the current
// one. The caller's goroutine must terminate immediately afterwards.
func jumpCtx(to *fctx) {
	to.gate <- struct{}{}
}

// initCtx arms f with a fresh context whose first resume begins executing
// f.fn. The start function returning falls through to the trampoline,
// which behaves identically to the fiber jumping to its scheduler fiber
// explicitly.
func initCtx(f *Fiber) {
	f.ctx = fctx{gate: make(chan struct{}, 1)}
	go func() {
		<-f.ctx.gate
		f.fn(f)
		trampoline(f)
	}()
}

// trampoline is where a fiber lands when its start function returns.
// It runs on the dying fiber's goroutine: it clears the thread's park
// callback, detaches the fiber, recycles it, and jumps back to the
// scheduler fiber without saving.
func trampoline(f *Fiber) {
	m := f.m
	if m == nil {
		fatalf("fiber %d completed with no owning thread", f.id)
	}
	m.parkFn = nil
	m.parkArg = nil
	m.parkF = nil
	m.curF = nil
	f.m = nil
	m.sched.recycle(m, f)
	jumpCtx(&m.g0.ctx)
}
