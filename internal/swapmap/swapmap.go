// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package swapmap implements per-slot reference counting for a swap area.
//
// Every slot owns one byte. The low bits hold a saturating reference count,
// bit 0x40 marks that the swap cache holds the page, and bit 0x80 marks that
// the count overflowed into a continuation chain. Continuations are kept per
// block of ContinuationBlock slots as a list of digit pages, so the logical
// count of a slot is
//
//	primary + (MapMax+1) * (c1 + (ContMax+1) * (c2 + ...))
package swapmap

import (
	"errors"
	"fmt"
)

// Slot byte values and flags.
const (
	// MapMax is the maximum reference count kept in the primary byte.
	MapMax uint8 = 0x3e
	// MapBad marks a slot that must never be allocated.
	MapBad uint8 = 0x3f
	// HasCache is set when the swap cache holds the page of the slot.
	HasCache uint8 = 0x40
	// Continued is set when the count overflowed into a continuation chain.
	Continued uint8 = 0x80
	// MapShmem marks a slot owned by shared memory; it is never counted further.
	MapShmem uint8 = 0xbf
	// ContMax is the maximum digit held by a continuation page.
	ContMax uint8 = 0x7f
)

// ContinuationBlock is the number of slots sharing one continuation chain.
const ContinuationBlock = 4096

var (
	// ErrNotAllocated is returned when a reference is added to a free slot.
	ErrNotAllocated = errors.New("slot is not allocated")
	// ErrCacheExists is returned when the cache flag is already set.
	ErrCacheExists = errors.New("slot is already in the swap cache")
	// ErrBadSlot is returned when a reference is added to a bad slot.
	ErrBadSlot = errors.New("slot is marked bad")
	// ErrInvalidCount is returned on a corrupted counter value.
	ErrInvalidCount = errors.New("invalid slot count")
)

// Map is the slot map of a swap area.
//
// Map is not safe for concurrent use, callers serialize on the area lock.
type Map struct {
	slots  []uint8
	chains map[uint64][][]uint8
}

// New allocates a map of n free slots.
func New(n uint64) *Map {
	return &Map{
		slots:  make([]uint8, n),
		chains: map[uint64][][]uint8{},
	}
}

// Len returns the number of slots.
func (m *Map) Len() uint64 {
	return uint64(len(m.slots))
}

// Raw returns the slot byte.
func (m *Map) Raw(off uint64) uint8 {
	return m.slots[m.check(off)]
}

// IsFree reports whether the slot is free.
func (m *Map) IsFree(off uint64) bool {
	return m.Raw(off) == 0
}

// IsBad reports whether the slot is marked bad.
func (m *Map) IsBad(off uint64) bool {
	return m.Raw(off) == MapBad
}

// IsShared reports whether the slot is owned by shared memory.
func (m *Map) IsShared(off uint64) bool {
	return m.Raw(off)&^HasCache == MapShmem
}

// HasCache reports whether the swap cache flag is set.
func (m *Map) HasCache(off uint64) bool {
	v := m.Raw(off)

	return v != MapBad && v&HasCache != 0
}

// MarkBad marks a free slot as bad.
func (m *Map) MarkBad(off uint64) {
	m.slots[m.check(off)] = MapBad
}

// Take marks a free slot with the initial usage (1 or HasCache).
func (m *Map) Take(off uint64, usage uint8) {
	off = m.check(off)

	if m.slots[off] != 0 {
		panic(fmt.Sprintf("swapmap: taking occupied slot %d (0x%02x)", off, m.slots[off]))
	}

	m.slots[off] = usage
}

// Count returns the logical reference count of the slot, excluding the cache flag.
//
// Slots owned by shared memory count as a single reference.
func (m *Map) Count(off uint64) uint64 {
	v := m.Raw(off)
	if v == MapBad {
		return 0
	}

	count := v &^ HasCache

	switch {
	case count == MapShmem:
		return 1
	case count&Continued == 0:
		return uint64(count)
	}

	total := uint64(count &^ Continued)
	n := uint64(MapMax) + 1

	pages := m.chains[off/ContinuationBlock]
	idx := off % ContinuationBlock

	for _, page := range pages {
		digit := page[idx]
		total += uint64(digit&^Continued) * n
		n *= uint64(ContMax) + 1

		if digit&Continued == 0 {
			break
		}
	}

	return total
}

// Dup adds usage to the slot.
//
// usage is either 1 (one more reference), HasCache (the page entered the
// swap cache) or MapShmem (shared memory takes ownership of a fresh slot).
func (m *Map) Dup(off uint64, usage uint8) error {
	off = m.check(off)
	v := m.slots[off]

	if v == MapBad {
		return ErrBadSlot
	}

	hasCache := v & HasCache
	count := v &^ HasCache

	switch {
	case usage == HasCache:
		if hasCache != 0 {
			return ErrCacheExists
		}

		if count == 0 {
			return ErrNotAllocated
		}

		hasCache = HasCache
	case count == 0 && hasCache == 0:
		return ErrNotAllocated
	case count == MapShmem:
		// sticky
	case usage == MapShmem:
		if count != 0 {
			return ErrInvalidCount
		}

		count = MapShmem
	case count&^Continued < MapMax:
		count += usage
	case count&^Continued > MapMax:
		return ErrInvalidCount
	default:
		m.carry(off, count&Continued != 0)

		count = Continued
	}

	m.slots[off] = count | hasCache

	return nil
}

// Put drops usage from the slot and returns the remaining slot byte.
//
// A return value of zero means the slot became free. Dropping a reference
// that is not held is a contract violation and panics.
func (m *Map) Put(off uint64, usage uint8) uint8 {
	off = m.check(off)
	v := m.slots[off]

	if v == MapBad || v == 0 {
		panic(fmt.Sprintf("swapmap: freeing free slot %d (0x%02x)", off, v))
	}

	hasCache := v & HasCache
	count := v &^ HasCache

	switch {
	case usage == HasCache:
		if hasCache == 0 {
			panic(fmt.Sprintf("swapmap: slot %d is not in the swap cache", off))
		}

		hasCache = 0
	case count == MapShmem:
		count = 0
	case count == 0:
		panic(fmt.Sprintf("swapmap: slot %d has no references", off))
	case count == Continued:
		if m.borrow(off) {
			count = MapMax | Continued
		} else {
			count = MapMax
		}
	default:
		count--
	}

	v = count | hasCache
	m.slots[off] = v

	return v
}

// HasContinuations reports whether any continuation page is allocated.
func (m *Map) HasContinuations() bool {
	return len(m.chains) > 0
}

// Reset releases every continuation page.
func (m *Map) Reset() {
	clear(m.chains)
}

// NextInUse returns the next in-use slot after prev, wrapping around to the start.
//
// Bad slots and slot zero are never returned. ok is false when no slot is in use.
func (m *Map) NextInUse(prev uint64) (uint64, bool) {
	n := m.Len()

	for i := prev + 1; i < n; i++ {
		if v := m.slots[i]; v != 0 && v != MapBad {
			return i, true
		}
	}

	for i := uint64(1); i <= prev && i < n; i++ {
		if v := m.slots[i]; v != 0 && v != MapBad {
			return i, true
		}
	}

	return 0, false
}

func (m *Map) check(off uint64) uint64 {
	if off >= uint64(len(m.slots)) {
		panic(fmt.Sprintf("swapmap: offset %d past the end of the map (%d)", off, len(m.slots)))
	}

	return off
}
