// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package probetable

import (
	"fmt"
	"math/rand/v2"
)

// makeOffsets returns a probe offset permutation for a table of n slots. The
// first offset is always 0 so that the home slot is probed first. The
// remaining n-1 offsets are a uniform random permutation of [1, n).
func makeOffsets(rng *rand.Rand, n uintptr) []uintptr {
	offsets := make([]uintptr, n)
	for i := range offsets {
		offsets[i] = uintptr(i)
	}
	if n > 2 {
		tail := offsets[1:]
		rng.Shuffle(len(tail), func(i, j int) {
			tail[i], tail[j] = tail[j], tail[i]
		})
	}
	return offsets
}

// probeSeq maintains the state for a probe sequence. The sequence visits
//
//	p(i) := (home + offsets[i]) mod capacity
//
// for i in [0, capacity). Because offsets is a permutation of [0, capacity)
// every slot is visited exactly once, starting with the home slot. All keys
// share the same offsets, but keys with different home slots follow
// different paths through the table.
type probeSeq struct {
	offsets []uintptr
	home    uintptr
	index   int
}

func makeProbeSeq(hash uint64, offsets []uintptr) probeSeq {
	return probeSeq{
		offsets: offsets,
		home:    uintptr(hash % uint64(len(offsets))),
	}
}

func (s probeSeq) done() bool {
	return s.index >= len(s.offsets)
}

func (s probeSeq) next() probeSeq {
	s.index++
	return s
}

// offset returns the slot index of the current probe.
func (s probeSeq) offset() uintptr {
	return (s.home + s.offsets[s.index]) % uintptr(len(s.offsets))
}

func (s probeSeq) String() string {
	return fmt.Sprintf("capacity=%d home=%d index=%d", len(s.offsets), s.home, s.index)
}
