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
	"io"
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

func BenchmarkTableGetHit(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapGetHit))
	b.Run("impl=probeTable", benchSizes(benchmarkProbeTableGetHit))
}

func BenchmarkTableGetMiss(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapGetMiss))
	b.Run("impl=probeTable", benchSizes(benchmarkProbeTableGetMiss))
}

func BenchmarkTablePutGrow(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapPutGrow))
	b.Run("impl=probeTable", benchSizes(benchmarkProbeTablePutGrow))
}

func BenchmarkTablePutDelete(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapPutDelete))
	b.Run("impl=probeTable", benchSizes(benchmarkProbeTablePutDelete))
}

func benchSizes(f func(b *testing.B, n int)) func(*testing.B) {
	var cases = []int{
		8, 16, 32,
		64,
		128,
		256,
		512,
		1024,
		4096,
		1 << 16,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n) })
		}
	}
}

func genKeys(start, end int) []string {
	keys := make([]string, end-start)
	for i := range keys {
		keys[i] = strconv.Itoa(start + i)
	}
	return keys
}

func benchmarkRuntimeMapGetHit(b *testing.B, n int) {
	m := make(map[string]uint64, n)
	for i, k := range genKeys(0, n) {
		m[k] = uint64(i)
	}

	// Go's builtin map has an optimization to avoid string comparisons if
	// there is pointer equality. Defeat this optimization to get a better
	// apples-to-apples comparison.
	keys := genKeys(0, n)

	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		_ = m[keys[i&(n-1)]]
	}
}

func benchmarkProbeTableGetHit(b *testing.B, n int) {
	m := MustNew(DefaultInitialCapacity)
	for i, k := range genKeys(0, n) {
		m.Insert(k, uint64(i))
	}
	keys := genKeys(0, n)

	b.ResetTimer()
	perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(keys[i&(n-1)])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapGetMiss(b *testing.B, n int) {
	m := make(map[string]uint64, n)
	for i, k := range genKeys(0, n) {
		m[k] = uint64(i)
	}
	miss := genKeys(-n, 0)

	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		_ = m[miss[i%len(miss)]]
	}
}

func benchmarkProbeTableGetMiss(b *testing.B, n int) {
	m := MustNew(DefaultInitialCapacity)
	for i, k := range genKeys(0, n) {
		m.Insert(k, uint64(i))
	}
	miss := genKeys(-n, 0)

	b.ResetTimer()
	perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(miss[i%len(miss)])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapPutGrow(b *testing.B, n int) {
	keys := genKeys(0, n)

	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		m := make(map[string]uint64)
		for j, k := range keys {
			m[k] = uint64(j)
		}
	}
}

func benchmarkProbeTablePutGrow(b *testing.B, n int) {
	keys := genKeys(0, n)

	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		m := MustNew(DefaultInitialCapacity)
		for j, k := range keys {
			m.Insert(k, uint64(j))
		}
	}
}

func benchmarkRuntimeMapPutDelete(b *testing.B, n int) {
	m := make(map[string]uint64, n)
	keys := genKeys(0, n)
	for j, k := range keys {
		m[k] = uint64(j)
	}

	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		j := i % n
		delete(m, keys[j])
		m[keys[j]] = uint64(j)
	}
}

// Every Remove leaves a tombstone that the following Insert of the same key
// reuses, so the table never grows.
func benchmarkProbeTablePutDelete(b *testing.B, n int) {
	m := MustNew(DefaultInitialCapacity)
	keys := genKeys(0, n)
	for j, k := range keys {
		m.Insert(k, uint64(j))
	}

	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		j := i % n
		m.Remove(keys[j])
		m.Insert(keys[j], uint64(j))
	}
}
