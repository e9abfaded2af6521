// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package swap

import (
	"fmt"

	"github.com/siderolabs/go-swap/internal/swapmap"
)

// SectorSize is the unit returned by Registry.Sector.
const SectorSize = 512

// Duplicate adds a reference to an allocated slot.
func (r *Registry) Duplicate(id Identifier) error {
	return r.dup(id, 1)
}

// AddCache marks the slot as held by the swap cache.
//
// ErrCacheExists is returned when the cache already holds it, ErrNotAllocated
// when the slot has no references left.
func (r *Registry) AddCache(id Identifier) error {
	return r.dup(id, swapmap.HasCache)
}

// ShareSlot hands a freshly allocated slot over to shared memory.
//
// Shared slots count as a single reference until they are freed.
func (r *Registry) ShareSlot(id Identifier) error {
	return r.dup(id, swapmap.MapShmem)
}

// Free drops one reference to the slot.
//
// Freeing a slot without references panics.
func (r *Registry) Free(id Identifier) {
	r.mustLookup(id).put(id.Offset, 1)
}

// FreeCache drops the swap cache reference of the slot.
func (r *Registry) FreeCache(id Identifier) {
	r.mustLookup(id).put(id.Offset, swapmap.HasCache)
}

// FreeAndReclaim drops one reference and asks the swap cache to drop the page
// if the cache became the only holder.
func (r *Registry) FreeAndReclaim(id Identifier) {
	if r.mustLookup(id).put(id.Offset, 1) == swapmap.HasCache {
		r.cache.TryReclaim(id)
	}
}

// Count returns the number of references to the slot, not counting the swap cache.
func (r *Registry) Count(id Identifier) (uint64, error) {
	a, err := r.lookup(id)
	if err != nil {
		return 0, err
	}

	return a.count(id.Offset), nil
}

// HasCache reports whether the swap cache holds the slot.
func (r *Registry) HasCache(id Identifier) bool {
	a, err := r.lookup(id)
	if err != nil {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	return a.slots.HasCache(id.Offset)
}

// Sector translates the slot to a 512-byte sector on the backing.
func (r *Registry) Sector(id Identifier) (uint64, error) {
	a, err := r.lookup(id)
	if err != nil {
		return 0, err
	}

	block := a.extents.Translate(id.Offset)

	return block * a.pageSize / SectorSize, nil
}

func (r *Registry) dup(id Identifier, usage uint8) error {
	a, err := r.lookup(id)
	if err != nil {
		return err
	}

	if err = a.dup(id.Offset, usage); err != nil {
		return fmt.Errorf("slot %s: %w", id, err)
	}

	return nil
}

func (r *Registry) lookup(id Identifier) (*Area, error) {
	if id.Type < 0 || id.Type >= MaxAreas {
		return nil, fmt.Errorf("%w: slot %s", ErrNotFound, id)
	}

	a := r.areas[id.Type].Load()
	if a == nil || id.Offset == 0 || id.Offset >= a.max {
		return nil, fmt.Errorf("%w: slot %s", ErrNotFound, id)
	}

	return a, nil
}

func (r *Registry) mustLookup(id Identifier) *Area {
	a, err := r.lookup(id)
	if err != nil {
		panic(fmt.Sprintf("swap: bad swap entry: %v", err))
	}

	return a
}

func (a *Area) dup(offset uint64, usage uint8) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.slots.Dup(offset, usage); err != nil {
		return err
	}

	if a.flags&FlagContinued == 0 && a.slots.HasContinuations() {
		a.flags |= FlagContinued
	}

	return nil
}

// put drops usage from the slot and returns the remaining slot byte.
func (a *Area) put(offset uint64, usage uint8) uint8 {
	return a.drop(offset, usage, true)
}

// drop is put for a slot which may not be charged to the accounting hook.
func (a *Area) drop(offset uint64, usage uint8, charged bool) uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()

	v := a.slots.Put(offset, usage)
	if v == 0 {
		a.release(offset, charged)
	}

	return v
}

func (a *Area) count(offset uint64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.slots.Count(offset)
}

func (a *Area) inUse(offset uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return !a.slots.IsFree(offset)
}

func (a *Area) shared(offset uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.slots.IsShared(offset)
}
