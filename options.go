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

	"go.uber.org/zap"
)

// option provide an interface to do work on Table while it is being created.
type option interface {
	apply(t *Table)
}

type hashOption struct {
	hash func(key string) uint64
}

func (op hashOption) apply(t *Table) {
	t.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Table. The
// default is xxhash.Sum64String.
func WithHash(hash func(key string) uint64) option {
	return hashOption{hash}
}

type loadFactorOption struct {
	threshold float64
}

func (op loadFactorOption) apply(t *Table) {
	t.threshold = op.threshold
}

// WithLoadFactor sets the load factor at which the table is rebuilt at a
// larger capacity. It must be in (0, 1].
func WithLoadFactor(threshold float64) option {
	return loadFactorOption{threshold}
}

type resizeFactorOption struct {
	factor float64
}

func (op resizeFactorOption) apply(t *Table) {
	t.resizeFactor = op.factor
}

// WithResizeFactor sets the multiplier applied to the capacity on every
// rehash. It must be greater than 1.
func WithResizeFactor(factor float64) option {
	return resizeFactorOption{factor}
}

type randOption struct {
	rng *rand.Rand
}

func (op randOption) apply(t *Table) {
	t.rng = op.rng
}

// WithRand is an option to specify the random source used to shuffle probe
// offsets. The Table takes ownership of rng.
func WithRand(rng *rand.Rand) option {
	return randOption{rng}
}

// WithSeed seeds the random source used to shuffle probe offsets, making the
// slot layout of a Table reproducible for a given hash function.
func WithSeed(seed uint64) option {
	return randOption{rand.New(rand.NewPCG(seed, seed))}
}

type loggerOption struct {
	logger *zap.Logger
}

func (op loggerOption) apply(t *Table) {
	t.logger = op.logger
}

// WithLogger is an option to specify the logger used to report rehashes.
// The default discards everything.
func WithLogger(logger *zap.Logger) option {
	return loggerOption{logger}
}

// Allocator specifies an interface for allocating and releasing memory used
// by a Table. The default allocator utilizes Go's builtin make() and allows
// the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slots be
// freed then Table.Close must be called in order to ensure FreeSlots is
// called for the final slot array.
type Allocator interface {
	// AllocSlots should return a slice equivalent to make([]Slot, n).
	AllocSlots(n int) []Slot

	// FreeSlots can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocSlots.
	FreeSlots(v []Slot)
}

type defaultAllocator struct{}

func (defaultAllocator) AllocSlots(n int) []Slot {
	return make([]Slot, n)
}

func (defaultAllocator) FreeSlots(v []Slot) {
}

type allocatorOption struct {
	allocator Allocator
}

func (op allocatorOption) apply(t *Table) {
	t.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Table.
func WithAllocator(allocator Allocator) option {
	return allocatorOption{allocator}
}
