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
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeOffsets(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for n := uintptr(1); n <= 64; n++ {
		offsets := makeOffsets(rng, n)
		require.Len(t, offsets, int(n))
		// The home slot is always probed first.
		require.EqualValues(t, 0, offsets[0])

		sorted := slices.Clone(offsets)
		slices.Sort(sorted)
		for i := range sorted {
			require.EqualValues(t, i, sorted[i])
		}
	}
}

func TestMakeOffsetsSeeded(t *testing.T) {
	gen := func(seed uint64) []uintptr {
		return makeOffsets(rand.New(rand.NewPCG(seed, seed)), 32)
	}
	require.Equal(t, gen(7), gen(7))
	require.NotEqual(t, gen(7), gen(8))
}

func TestProbeSeq(t *testing.T) {
	genSeq := func(hash uint64, offsets []uintptr) []uintptr {
		var vals []uintptr
		for seq := makeProbeSeq(hash, offsets); !seq.done(); seq = seq.next() {
			vals = append(vals, seq.offset())
		}
		return vals
	}

	offsets := []uintptr{0, 3, 1, 2}
	require.Equal(t, []uintptr{0, 3, 1, 2}, genSeq(0, offsets))
	require.Equal(t, []uintptr{1, 0, 2, 3}, genSeq(5, offsets))
	require.Equal(t, []uintptr{3, 2, 0, 1}, genSeq(^uint64(0), offsets))

	// Verify that we touch every slot no matter what the home slot is.
	offsets = makeOffsets(rand.New(rand.NewPCG(3, 4)), 16)
	for h := uint64(0); h < 16; h++ {
		vals := genSeq(h, offsets)
		require.Len(t, vals, 16)
		require.EqualValues(t, h, vals[0])
		slices.Sort(vals)
		for i := range vals {
			require.EqualValues(t, i, vals[i])
		}
	}
}
