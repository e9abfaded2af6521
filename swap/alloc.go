// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package swap

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/siderolabs/go-swap/backing"
	"github.com/siderolabs/go-swap/internal/swapmap"
)

const (
	// ClusterSize is the number of slots handed out sequentially before searching for a new free run.
	ClusterSize = 256

	// LatencyLimit is the number of slots scanned before the area lock is dropped.
	LatencyLimit = 256
)

// scanCursor walks [base, highestBit] and then wraps to [lowestBit, base).
type scanCursor struct {
	offset  uint64
	base    uint64
	wrapped bool
}

// allocate takes one free slot with the initial usage, returning 0 when the area is full.
//
// a.mu must be held, it is released while scanning.
func (a *Area) allocate(usage uint8) uint64 {
	a.scanners++

	var (
		cur        scanCursor
		last       uint64
		found      bool
		ownsWindow bool
	)

	defer func() {
		if ownsWindow && a.state == clusterScanning {
			a.window = false
			a.setIdle()
		}

		a.scanners--

		if a.scanners == 0 {
			a.cond.Broadcast()
		}
	}()

	switch {
	case a.clusterNr > 0:
		a.clusterNr--
		cur.offset = a.clusterNext
	case a.pages-a.inuse < ClusterSize:
		a.clusterNr = ClusterSize - 1
		cur.offset = a.clusterNext
	default:
		cur.offset, last, found = a.findCluster()
		ownsWindow = found && a.window
	}

	cur.base = cur.offset

	for {
		if !a.writable() || a.highestBit == 0 {
			return 0
		}

		if cur.offset > a.highestBit {
			cur = scanCursor{offset: a.lowestBit, base: a.lowestBit}
		}

		v := a.slots.Raw(cur.offset)

		switch {
		case v == swapmap.HasCache && a.registry.swapFull():
			if a.reclaim(cur.offset) {
				continue
			}
		case v == 0:
			a.take(cur.offset, usage, last, found)

			return cur.offset
		}

		if !a.scanNext(&cur) {
			return 0
		}
	}
}

// findCluster looks for ClusterSize free slots in a row.
//
// On success the cluster starts at the returned offset and ends at last.
// Only one goroutine scans for a cluster at a time, others wait for it and
// then consume the cluster it found.
func (a *Area) findCluster() (offset, last uint64, found bool) {
	for a.state != clusterIdle {
		a.cond.Wait()
	}

	if a.clusterNr > 0 {
		a.clusterNr--

		return a.clusterNext, 0, false
	}

	if a.flags&FlagDiscardable != 0 {
		a.window = true
		a.lowestAlloc, a.highestAlloc = a.max, 0
	}

	a.state = clusterScanning

	if a.flags&FlagSolidState != 0 {
		offset = a.clusterNext
	} else {
		offset = a.lowestBit
	}

	scanBase := offset
	latency := LatencyLimit

	last = offset + ClusterSize - 1

	for ; last <= a.highestBit; offset++ {
		if a.slots.Raw(offset) != 0 {
			last = offset + ClusterSize
		} else if offset == last {
			return a.clusterFound(offset, last)
		}

		a.yield(&latency)
	}

	offset = a.lowestBit
	last = offset + ClusterSize - 1

	for ; last < scanBase; offset++ {
		if a.slots.Raw(offset) != 0 {
			last = offset + ClusterSize
		} else if offset == last {
			return a.clusterFound(offset, last)
		}

		a.yield(&latency)
	}

	a.clusterNr = ClusterSize - 1
	a.window = false
	a.setIdle()

	return scanBase, 0, false
}

func (a *Area) clusterFound(end, last uint64) (uint64, uint64, bool) {
	offset := end - (ClusterSize - 1)

	a.clusterNext = offset
	a.clusterNr = ClusterSize - 1

	if !a.window {
		a.setIdle()
	}

	return offset, last, true
}

// scanNext advances the cursor to the next candidate slot.
func (a *Area) scanNext(cur *scanCursor) bool {
	latency := LatencyLimit

	candidate := func(offset uint64) bool {
		v := a.slots.Raw(offset)

		return v == 0 || (v == swapmap.HasCache && a.registry.swapFull())
	}

	if !cur.wrapped {
		for cur.offset++; cur.offset <= a.highestBit; cur.offset++ {
			if candidate(cur.offset) {
				return true
			}

			a.yield(&latency)
		}

		cur.wrapped = true
		cur.offset = a.lowestBit
	} else {
		cur.offset++
	}

	for ; cur.offset < cur.base && cur.offset < a.max; cur.offset++ {
		if candidate(cur.offset) {
			return true
		}

		a.yield(&latency)
	}

	return false
}

// take marks a free slot as allocated.
func (a *Area) take(offset uint64, usage uint8, last uint64, found bool) {
	if offset == a.lowestBit {
		a.lowestBit++
	}

	if offset == a.highestBit {
		a.highestBit--
	}

	a.inuse++

	if a.inuse == a.pages {
		a.lowestBit = a.max
		a.highestBit = 0
	}

	a.slots.Take(offset, usage)
	a.clusterNext = offset + 1

	switch {
	case found && a.window:
		// racing allocations already took [lowestAlloc, highestAlloc]
		if offset < a.highestAlloc && a.lowestAlloc <= last {
			last = a.lowestAlloc - 1
		}

		a.window = false

		if offset < last {
			a.state = clusterDiscarding
			a.discardLow, a.discardHigh = offset+1, last

			go a.discardCluster(offset+1, last-offset)
		} else {
			a.setIdle()
		}
	case a.window:
		a.lowestAlloc = min(a.lowestAlloc, offset)
		a.highestAlloc = max(a.highestAlloc, offset)
	}

	for a.state == clusterDiscarding && offset >= a.discardLow && offset <= a.discardHigh {
		a.cond.Wait()
	}
}

// discardCluster discards freshly found cluster slots before they get reused.
func (a *Area) discardCluster(start, count uint64) {
	if d, ok := a.backing.(backing.Discarder); ok {
		if err := a.extents.Discard(d, a.pageSize, start, count); err != nil {
			a.logger.Debug("cluster discard failed", zap.Uint64("offset", start), zap.Uint64("count", count), zap.Error(err))
		}
	}

	a.mu.Lock()
	a.setIdle()
	a.mu.Unlock()
}

// reclaim asks the swap cache to drop a cache-only slot, a.mu is released meanwhile.
func (a *Area) reclaim(offset uint64) bool {
	id := a.id(offset)

	a.mu.Unlock()
	freed := a.registry.cache.TryReclaim(id)
	a.mu.Lock()

	return freed
}

// release accounts for a slot which became free, a.mu must be held.
//
// Uncharged slots are not reported to the accounting hook.
func (a *Area) release(offset uint64, charged bool) {
	if offset < a.lowestBit {
		a.lowestBit = offset
	}

	if offset > a.highestBit {
		a.highestBit = offset
	}

	a.inuse--

	if a.registry != nil {
		a.registry.slotFreed(a)

		if charged {
			a.registry.acct.Uncharge(a.id(offset))
		}
	}

	if n, ok := a.backing.(backing.SlotFreeNotifier); ok {
		n.SlotFreed(offset)
	}
}

func (a *Area) setIdle() {
	a.state = clusterIdle
	a.cond.Broadcast()
}

func (a *Area) yield(latency *int) {
	if *latency--; *latency > 0 {
		return
	}

	*latency = LatencyLimit

	a.mu.Unlock()
	runtime.Gosched()
	a.mu.Lock()
}
