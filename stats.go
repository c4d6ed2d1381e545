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

// Stats describes how the slots of a Table are being used.
type Stats struct {
	Size       int
	Capacity   int
	Tombstones int
	// NeverUsed counts slots that have not been filled since the table was
	// last rebuilt.
	NeverUsed int

	TombstonesCapacityRatio float32
	TombstonesSizeRatio     float32
}

// Stats walks every slot of the table. It is O(capacity).
func (t *Table) Stats() Stats {
	st := Stats{
		Size:     t.used,
		Capacity: len(t.slots),
	}
	for i := range t.slots {
		switch t.slots[i].state {
		case slotEmpty:
			st.NeverUsed++
		case slotDeleted:
			st.Tombstones++
		}
	}
	if st.Capacity > 0 {
		st.TombstonesCapacityRatio = float32(st.Tombstones) / float32(st.Capacity)
	}
	if st.Size > 0 {
		st.TombstonesSizeRatio = float32(st.Tombstones) / float32(st.Size)
	}
	return st
}
