// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"sync"
	"testing"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
)

// TestStealStress races a producing owner against a stealing thief
// and checks that every fiber is delivered exactly once and the ring
// bound 0 <= tail-head <= capacity holds throughout.
//
// The happens-before edges here flow through atomic orderings on
// separate variables, which the race detector cannot track.
func TestStealStress(t *testing.T) {
	if RaceEnabled {
		t.Skip("skip: lock-free stress test incompatible with race detector")
	}

	s := newTestSched(t, 2, 8)
	owner, thief := s.procs[0], s.procs[1]

	const total = 10000
	fs := testFibers(s, total)
	index := make(map[*Fiber]int, total)
	for i, f := range fs {
		index[f] = i
	}

	var mu sync.Mutex
	seen := make([]int32, total)
	var delivered atomix.Int64
	deliver := func(f *Fiber) {
		mu.Lock()
		seen[index[f]]++
		mu.Unlock()
		delivered.Add(1)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// Owner: produce everything, consuming when the ring fills, then
	// drain the remainder.
	go func() {
		defer wg.Done()
		backoff := iox.Backoff{}
		for _, f := range fs {
			for {
				h := owner.runqHead.Load()
				tl := owner.runqTail.Load()
				if n := tl - h; n > uint64(len(owner.runq)) {
					t.Errorf("ring bound violated: tail-head = %d", n)
					return
				}
				if tl-h < uint64(len(owner.runq)) {
					break
				}
				if g := owner.runqGet(); g != nil {
					deliver(g)
					backoff.Reset()
					continue
				}
				backoff.Wait()
			}
			owner.runqPut(f, false)
		}
		for g := owner.runqGet(); g != nil; g = owner.runqGet() {
			deliver(g)
		}
	}()

	// Thief: steal until everything has been delivered.
	go func() {
		defer wg.Done()
		backoff := iox.Backoff{}
		for delivered.Load() < total {
			if g := thief.runqSteal(owner, false); g != nil {
				deliver(g)
				for h := thief.runqGet(); h != nil; h = thief.runqGet() {
					deliver(h)
				}
				backoff.Reset()
				continue
			}
			backoff.Wait()
		}
	}()

	wg.Wait()

	for i, c := range seen {
		if c != 1 {
			t.Fatalf("fiber %d delivered %d times, want exactly once", i, c)
		}
	}
}
