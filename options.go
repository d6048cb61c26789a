// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"runtime"

	"code.hybscloud.com/atomix"
	"github.com/rs/zerolog"
)

const (
	defaultRingSize     = 256
	defaultFreeListSize = 64
	defaultFreePoolSize = 1024
)

// Options configures scheduler creation.
type Options struct {
	// procs is the number of logical processors.
	procs int

	// ringSize is the per-processor run-queue capacity (rounds up to
	// the next power of 2).
	ringSize int

	// freeListSize bounds the per-processor free-fiber list.
	freeListSize int

	// freePoolSize bounds the global lock-free free-fiber pool.
	freePoolSize int

	logger zerolog.Logger
}

// Builder configures and creates a scheduler.
//
// Example:
//
//	s, err := fiber.Init(fiber.New(4).RingSize(256))
//
// A Builder initializes at most one scheduler.
type Builder struct {
	opts Options
	used atomix.Int32
}

// New creates a scheduler builder for procs logical processors.
// procs of 0 or less selects the machine's CPU count.
func New(procs int) *Builder {
	if procs <= 0 {
		procs = runtime.NumCPU()
	}
	return &Builder{opts: Options{
		procs:        procs,
		ringSize:     defaultRingSize,
		freeListSize: defaultFreeListSize,
		freePoolSize: defaultFreePoolSize,
		logger:       zerolog.Nop(),
	}}
}

// RingSize sets the per-processor run-queue capacity. Rounds up to the
// next power of 2; the production default is 256. Small rings (the
// minimum is 2) stress the overflow path and are intended for tests.
func (b *Builder) RingSize(n int) *Builder {
	if n < 2 {
		panic("fiber: ring size must be >= 2")
	}
	b.opts.ringSize = n
	return b
}

// FreeListSize bounds the per-processor free-fiber list. Completed
// fibers overflow to the global pool and then to the garbage
// collector.
func (b *Builder) FreeListSize(n int) *Builder {
	if n < 0 {
		panic("fiber: negative free list size")
	}
	b.opts.freeListSize = n
	return b
}

// FreePoolSize bounds the global lock-free free-fiber pool. Rounds up
// to the next power of 2.
func (b *Builder) FreePoolSize(n int) *Builder {
	if n < 2 {
		panic("fiber: free pool size must be >= 2")
	}
	b.opts.freePoolSize = n
	return b
}

// Logger installs a diagnostics logger. The default discards
// everything; dispatch hot paths only pay for logging when the Debug
// level is enabled.
func (b *Builder) Logger(l zerolog.Logger) *Builder {
	b.opts.logger = l
	return b
}
