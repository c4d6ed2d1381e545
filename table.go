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

// Package probetable is an open-addressed hash table from string keys to
// uint64 values that resolves collisions with pseudo-random probing.
//
// # Probing
//
// Every Table owns a probe offset permutation: a sequence of capacity
// distinct offsets in [0, capacity) whose first element is 0 and whose
// remaining elements are a random shuffle of [1, capacity). A key's home
// slot is hash(key) mod capacity, and the key's probe sequence visits
// (home + offsets[i]) mod capacity for i = 0, 1, ... so the home slot is
// always probed first and every slot is eventually visited. The permutation
// is regenerated every time the table is rebuilt.
//
// # Slots and tombstones
//
// Each slot is empty (never used since the table was last built), full, or
// deleted. Deletion leaves a tombstone behind: lookups continue probing past
// it, and a later insertion on the same path reuses it in preference to
// consuming an empty slot. A lookup stops at the first empty slot on its
// path because an insertion for that key would have filled it. Tombstones
// are only reclaimed when the table is rebuilt.
//
// # Growth
//
// After an insertion the load factor (full slots / capacity) is compared
// against a threshold, 0.5 by default. Reaching it rebuilds the table at
// round(capacity * resizeFactor) slots, 2x by default, with a fresh
// permutation. Live entries are moved in slot order into the new array and
// the old array is then discarded, so no caller ever observes a partially
// rebuilt table.
//
// A Table is NOT goroutine-safe.
package probetable

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

const (
	debug = false

	// DefaultInitialCapacity is the capacity callers should use absent a
	// better estimate.
	DefaultInitialCapacity = 8
	// DefaultLoadFactor is the load factor at which a Table is rebuilt.
	DefaultLoadFactor = 0.5
	// DefaultResizeFactor is the capacity multiplier applied on rebuild.
	DefaultResizeFactor = 2.0
	// MaxCapacity is the largest number of slots a Table will allocate.
	MaxCapacity = math.MaxInt32
)

var (
	// ErrInvalidCapacity is returned by New for an initial capacity outside
	// [1, MaxCapacity].
	ErrInvalidCapacity = errors.New("probetable: initial capacity must be in [1, MaxCapacity]")
	// ErrInvalidLoadFactor is returned by New for a load factor outside (0, 1].
	ErrInvalidLoadFactor = errors.New("probetable: load factor must be in (0, 1]")
	// ErrInvalidResizeFactor is returned by New for a resize factor <= 1.
	ErrInvalidResizeFactor = errors.New("probetable: resize factor must be greater than 1")
)

// Each slot in the table is in one of three states. The zero value is
// slotEmpty so that freshly allocated slot arrays need no initialization
// beyond zeroing.
type slotState uint8

const (
	slotEmpty slotState = iota
	slotFull
	slotDeleted
)

// Slot holds a key and value. A deleted slot retains its stale key and value
// but they are never returned by lookups.
type Slot struct {
	key   string
	value uint64
	state slotState
}

// String formats the slot as "<key, value>".
func (s Slot) String() string {
	return fmt.Sprintf("<%s, %d>", s.key, s.value)
}

// Table is a map from string keys to uint64 values with Insert, Get, Remove,
// and Ref operations. See the package documentation for the probing scheme.
type Table struct {
	hash      func(key string) uint64
	rng       *rand.Rand
	allocator Allocator
	logger    *zap.Logger

	// slots is capacity in length.
	slots []Slot
	// offsets is the probe offset permutation for the current slots. It
	// always has the same length as slots.
	offsets []uintptr
	// The number of full slots (i.e. the number of elements in the table).
	// Tombstones are not counted.
	used int

	threshold    float64
	resizeFactor float64

	// drain is handed out by Ref for keys that are not present. Writes to it
	// are never visible through the table.
	drain uint64
}

// New constructs a new Table with the specified initial capacity, which must
// be at least 1 (DefaultInitialCapacity is a reasonable choice). Invalid
// capacity, load factor, or resize factor options are reported as errors
// wrapping ErrInvalidCapacity, ErrInvalidLoadFactor, and
// ErrInvalidResizeFactor respectively.
func New(initialCapacity int, options ...option) (*Table, error) {
	t := &Table{
		hash:         xxhash.Sum64String,
		allocator:    defaultAllocator{},
		logger:       zap.NewNop(),
		threshold:    DefaultLoadFactor,
		resizeFactor: DefaultResizeFactor,
	}

	for _, op := range options {
		op.apply(t)
	}

	if initialCapacity < 1 || initialCapacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, initialCapacity)
	}
	// NB: written as negations so that NaN is rejected.
	if !(t.threshold > 0 && t.threshold <= 1) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLoadFactor, t.threshold)
	}
	if !(t.resizeFactor > 1) || math.IsInf(t.resizeFactor, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResizeFactor, t.resizeFactor)
	}

	if t.hash == nil {
		t.hash = xxhash.Sum64String
	}
	if t.rng == nil {
		t.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if t.allocator == nil {
		t.allocator = defaultAllocator{}
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}

	n := uintptr(initialCapacity)
	t.slots = t.allocSlots(n)
	t.offsets = makeOffsets(t.rng, n)

	t.checkInvariants()
	return t, nil
}

// MustNew is like New but panics if the options are invalid.
func MustNew(initialCapacity int, options ...option) *Table {
	t, err := New(initialCapacity, options...)
	if err != nil {
		panic(err)
	}
	return t
}

// Close closes the table, releasing its slots back to the configured
// allocator. It is unnecessary to close a table using the default allocator.
// A closed table has no slots: lookups miss and Insert returns false. Close
// itself is idempotent.
func (t *Table) Close() {
	if t.slots != nil {
		t.allocator.FreeSlots(t.slots)
	}
	t.slots = nil
	t.offsets = nil
	t.used = 0
}

// Capacity returns the number of slots in the table, full or not.
func (t *Table) Capacity() int {
	return len(t.slots)
}

// Len returns the number of entries in the table.
func (t *Table) Len() int {
	return t.used
}

// Alpha returns the load factor of the table: Len() / Capacity().
func (t *Table) Alpha() float64 {
	if len(t.slots) == 0 {
		return 0
	}
	return float64(t.used) / float64(len(t.slots))
}

// Keys returns the keys present in the table in slot order.
func (t *Table) Keys() []string {
	keys := make([]string, 0, t.used)
	for i := range t.slots {
		// Once used keys have been collected the remaining slots are all
		// empty or deleted.
		if len(keys) == t.used {
			break
		}
		if s := &t.slots[i]; s.state == slotFull {
			keys = append(keys, s.key)
		}
	}
	return keys
}

// All calls yield sequentially for each key and value present in the table,
// in slot order. If yield returns false, iteration stops. The table can be
// mutated during iteration, though there is no guarantee that the mutations
// will be visible to the iteration.
func (t *Table) All(yield func(key string, value uint64) bool) {
	// Snapshot the slots so that iteration remains valid if the table is
	// rebuilt during iteration.
	slots := t.slots
	for i := range slots {
		if s := slots[i]; s.state == slotFull {
			if !yield(s.key, s.value) {
				return
			}
		}
	}
}

// Get retrieves the value from the table for the specified key, returning
// ok=false if the key is not present.
func (t *Table) Get(key string) (value uint64, ok bool) {
	if s := t.find(key); s != nil {
		return s.value, true
	}
	return 0, false
}

// Contains returns true if the key is present in the table.
func (t *Table) Contains(key string) bool {
	return t.find(key) != nil
}

// Ref returns a pointer to the value stored for key, allowing it to be
// updated in place. The pointer is invalidated by the next insertion that
// rebuilds the table.
//
// If key is not present, Ref returns a pointer to a scratch value owned by
// the table. Writes through it are silently discarded, and its contents are
// whatever the last writer left there. Callers that need to distinguish the
// two cases must use Contains or Get first.
func (t *Table) Ref(key string) *uint64 {
	if s := t.find(key); s != nil {
		return &s.value
	}
	return &t.drain
}

// Insert adds key with the given value. It returns false, leaving the table
// unchanged, if key is already present. It also returns false if no slot on
// key's probe sequence is available, which cannot happen for a table whose
// load factor is kept below 1 by rebuilding.
func (t *Table) Insert(key string, value uint64) bool {
	if len(t.slots) == 0 {
		// Closed.
		return false
	}
	seq := makeProbeSeq(t.hash(key), t.offsets)
	if debug {
		t.logger.Debug("insert", zap.String("key", key), zap.Stringer("seq", seq))
	}

	// The first tombstone on the path is reused in preference to an empty
	// slot. Probing continues past tombstones so that a duplicate further
	// along the path is still detected.
	var reuse *Slot
	for ; !seq.done(); seq = seq.next() {
		i := seq.offset()
		s := &t.slots[i]
		switch s.state {
		case slotFull:
			if s.key == key {
				if debug {
					t.logger.Debug("insert(duplicate)", zap.String("key", key), zap.Uint64("index", uint64(i)))
				}
				return false
			}
		case slotDeleted:
			if reuse == nil {
				reuse = s
			}
		case slotEmpty:
			if reuse == nil {
				reuse = s
			}
			t.load(reuse, key, value)
			return true
		}
	}

	if reuse == nil {
		// Every slot on the path holds a different key.
		return false
	}
	t.load(reuse, key, value)
	return true
}

// Remove deletes the entry for key, returning false if it was not present.
// The slot becomes a tombstone until the table is next rebuilt.
func (t *Table) Remove(key string) bool {
	s := t.find(key)
	if s == nil {
		return false
	}
	s.state = slotDeleted
	t.used--
	if debug {
		t.logger.Debug("remove", zap.String("key", key), zap.Int("used", t.used))
	}
	t.checkInvariants()
	return true
}

// find returns the full slot holding key, or nil.
func (t *Table) find(key string) *Slot {
	if len(t.slots) == 0 {
		return nil
	}
	for seq := makeProbeSeq(t.hash(key), t.offsets); !seq.done(); seq = seq.next() {
		s := &t.slots[seq.offset()]
		switch s.state {
		case slotEmpty:
			// An insertion of key would have stopped here, so key cannot be
			// further along this path.
			return nil
		case slotFull:
			if s.key == key {
				return s
			}
		}
	}
	// The path contains no empty slots and key is not on it.
	return nil
}

// load fills s, which must be an empty or deleted slot of t.slots, and
// rebuilds the table if the load factor threshold has been reached.
func (t *Table) load(s *Slot, key string, value uint64) {
	*s = Slot{key: key, value: value, state: slotFull}
	t.used++
	if t.Alpha() >= t.threshold {
		t.rehash()
	}
	t.checkInvariants()
}

// rehash rebuilds the table at a larger capacity with a fresh probe offset
// permutation. The new slots are populated before they replace the old ones.
func (t *Table) rehash() {
	oldCapacity := uintptr(len(t.slots))
	grown := math.Round(float64(oldCapacity) * t.resizeFactor)
	if grown > MaxCapacity {
		panic(fmt.Sprintf("probetable: cannot grow %d slots by %v past MaxCapacity",
			oldCapacity, t.resizeFactor))
	}
	newCapacity := uintptr(grown)
	if newCapacity <= oldCapacity {
		newCapacity = oldCapacity + 1
	}

	slots := t.allocSlots(newCapacity)
	offsets := makeOffsets(t.rng, newCapacity)

	var moved int
	for i := range t.slots {
		// The remaining old slots cannot be full.
		if moved == t.used {
			break
		}
		s := &t.slots[i]
		if s.state != slotFull {
			continue
		}
		uncheckedPut(slots, offsets, t.hash(s.key), s.key, s.value)
		moved++
	}

	oldSlots := t.slots
	t.slots = slots
	t.offsets = offsets
	t.allocator.FreeSlots(oldSlots)

	t.logger.Debug("rehash",
		zap.Uint64("old-capacity", uint64(oldCapacity)),
		zap.Uint64("new-capacity", uint64(newCapacity)),
		zap.Int("used", t.used))
}

// uncheckedPut inserts an entry known not to be in slots into the first
// non-full slot on its probe sequence. It is only used while rebuilding,
// when slots has no tombstones and at least one empty slot.
func uncheckedPut(slots []Slot, offsets []uintptr, h uint64, key string, value uint64) {
	for seq := makeProbeSeq(h, offsets); !seq.done(); seq = seq.next() {
		if s := &slots[seq.offset()]; s.state != slotFull {
			*s = Slot{key: key, value: value, state: slotFull}
			return
		}
	}
	panic(fmt.Sprintf("probetable: no free slot for %q in %d slots", key, len(slots)))
}

func (t *Table) allocSlots(n uintptr) []Slot {
	slots := t.allocator.AllocSlots(int(n))
	// An allocator may hand back recycled memory.
	for i := range slots {
		slots[i] = Slot{}
	}
	return slots
}

// String returns one line per full slot, in slot order, of the form
// "Bucket <index>: <key, value>".
func (t *Table) String() string {
	var buf strings.Builder
	for i := range t.slots {
		if s := t.slots[i]; s.state == slotFull {
			fmt.Fprintf(&buf, "Bucket %d: %s\n", i, s)
		}
	}
	return buf.String()
}

func (t *Table) checkInvariants() {
	if invariants {
		if len(t.offsets) != len(t.slots) {
			panic(fmt.Sprintf("invariant failed: %d offsets for %d slots\n%s",
				len(t.offsets), len(t.slots), t.debugString()))
		}
		seen := make([]bool, len(t.offsets))
		for i, o := range t.offsets {
			if o >= uintptr(len(t.offsets)) || seen[o] {
				panic(fmt.Sprintf("invariant failed: offsets(%d)=%d is not part of a permutation\n%s",
					i, o, t.debugString()))
			}
			seen[o] = true
		}
		if len(t.offsets) > 0 && t.offsets[0] != 0 {
			panic(fmt.Sprintf("invariant failed: first offset is %d\n%s", t.offsets[0], t.debugString()))
		}

		// For every full slot, verify we find that slot using its key.
		var used int
		for i := range t.slots {
			s := &t.slots[i]
			if s.state != slotFull {
				continue
			}
			if f := t.find(s.key); f != s {
				panic(fmt.Sprintf("invariant failed: slot(%d): %q not found [h=%016x]\n%s",
					i, s.key, t.hash(s.key), t.debugString()))
			}
			used++
		}
		if used != t.used {
			panic(fmt.Sprintf("invariant failed: found %d used slots, but used count is %d\n%s",
				used, t.used, t.debugString()))
		}
		if len(t.slots) > 0 && t.used >= len(t.slots) {
			panic(fmt.Sprintf("invariant failed: no free slots\n%s", t.debugString()))
		}
	}
}

func (t *Table) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  threshold=%v  resize=%v\n",
		len(t.slots), t.used, t.threshold, t.resizeFactor)
	for i := range t.slots {
		switch s := t.slots[i]; s.state {
		case slotEmpty:
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		case slotDeleted:
			fmt.Fprintf(&buf, "  %4d: deleted %s\n", i, s)
		default:
			fmt.Fprintf(&buf, "  %4d: %s [h=%016x]\n", i, s, t.hash(s.key))
		}
	}
	fmt.Fprintf(&buf, "offsets=%v\n", t.offsets)
	return buf.String()
}
