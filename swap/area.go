// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package swap

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/siderolabs/go-swap/backing"
	"github.com/siderolabs/go-swap/header"
	"github.com/siderolabs/go-swap/internal/extent"
	"github.com/siderolabs/go-swap/internal/swapmap"
)

// Flags of an area.
type Flags uint32

// Area flags.
const (
	// FlagWriteOK is set while the area accepts allocations.
	FlagWriteOK Flags = 1 << iota
	// FlagDiscardable is set when freed clusters are discarded.
	FlagDiscardable
	// FlagSolidState is set for non-rotating backings.
	FlagSolidState
	// FlagContinued is set once a count continuation was allocated.
	FlagContinued
)

func (f Flags) String() string {
	var names []string

	for _, flag := range []struct {
		f    Flags
		name string
	}{
		{FlagWriteOK, "writeok"},
		{FlagDiscardable, "discard"},
		{FlagSolidState, "ssd"},
		{FlagContinued, "continued"},
	} {
		if f&flag.f != 0 {
			names = append(names, flag.name)
		}
	}

	return strings.Join(names, ",")
}

// clusterState serializes cluster scans and discards on an area.
type clusterState int

const (
	clusterIdle clusterState = iota
	clusterScanning
	clusterDiscarding
)

// Area is one activated swap area.
//
// The slot map and everything the allocator touches are guarded by mu;
// cond is signalled whenever the cluster state returns to idle or the last
// scanner leaves.
type Area struct {
	mu   sync.Mutex
	cond *sync.Cond

	backing backing.Backing
	hdr     *header.Header
	logger  *zap.Logger

	registry *Registry
	slots    *swapmap.Map
	extents  *extent.Map

	typ          int
	priority     atomic.Int32
	autoPriority bool
	pageSize     uint64

	flags    Flags
	state    clusterState
	scanners int
	drain    drainState

	max   uint64
	pages uint64
	inuse uint64

	lowestBit   uint64
	highestBit  uint64
	clusterNext uint64
	clusterNr   uint64

	// discard deferral window, open while a cluster scan runs on a discardable area
	window       bool
	lowestAlloc  uint64
	highestAlloc uint64

	// slots [discardLow, discardHigh] are being discarded
	discardLow  uint64
	discardHigh uint64
}

// openArea validates the header of b and builds the slot map and the extents.
func openArea(b backing.Backing, pageSize int, discard bool, logger *zap.Logger) (*Area, error) {
	hdr, err := header.Read(b, pageSize)
	if err != nil {
		if errors.Is(err, header.ErrTooManyBadPages) {
			return nil, fmt.Errorf("%w: %w", ErrTooManyBadPages, err)
		}

		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}

	if hdr.ByteSwapped {
		logger.Info("swap header written with the opposite byte order", zap.String("path", b.Path()))
	}

	size, err := b.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to get backing size: %w", err)
	}

	ps := uint64(pageSize)
	maxPages := min(hdr.Pages(), MaxOffset+1)

	if backingPages := size / ps; maxPages > backingPages {
		return nil, fmt.Errorf("%w: swap area shorter than signature indicates (%d < %d pages)", ErrInvalidHeader, backingPages, maxPages)
	}

	if maxPages <= 1 {
		return nil, ErrEmptyArea
	}

	var extents *extent.Map

	if mapper, ok := b.(backing.BlockMapper); ok {
		if extents, err = extent.Build(mapper, ps, size, maxPages); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLayout, err)
		}

		maxPages = extents.Len()
	} else {
		extents = extent.NewLinear(maxPages)
	}

	if maxPages <= 1 {
		return nil, ErrEmptyArea
	}

	slots := swapmap.New(maxPages)
	slots.MarkBad(0)

	good := maxPages - 1

	for _, bad := range hdr.BadPages {
		if uint64(bad) < maxPages && !slots.IsBad(uint64(bad)) {
			slots.MarkBad(uint64(bad))

			good--
		}
	}

	if good == 0 {
		return nil, ErrEmptyArea
	}

	a := &Area{
		backing:     b,
		hdr:         hdr,
		logger:      logger.With(zap.String("path", b.Path())),
		slots:       slots,
		extents:     extents,
		pageSize:    ps,
		max:         maxPages,
		pages:       good,
		lowestBit:   1,
		highestBit:  maxPages - 1,
		clusterNext: 1,
	}

	a.cond = sync.NewCond(&a.mu)

	if s, ok := b.(backing.SolidStater); ok && s.SolidState() {
		a.flags |= FlagSolidState
		a.clusterNext = 1 + rand.Uint64N(a.highestBit)
	}

	if discard {
		a.discardAll()
	}

	return a, nil
}

// discardAll discards every slot on activation, the area becomes discardable on success.
func (a *Area) discardAll() {
	d, ok := a.backing.(backing.Discarder)
	if !ok {
		a.logger.Debug("backing doesn't support discard")

		return
	}

	if err := a.extents.DiscardAll(d, a.pageSize); err != nil {
		a.logger.Warn("failed to discard swap area", zap.Error(err))

		return
	}

	a.flags |= FlagDiscardable
}

// Type returns the swap type of the area.
func (a *Area) Type() int {
	return a.typ
}

// Path returns the path of the backing.
func (a *Area) Path() string {
	return a.backing.Path()
}

// Priority returns the current priority.
func (a *Area) Priority() int {
	return int(a.priority.Load())
}

// Header returns the decoded header of the area.
func (a *Area) Header() *header.Header {
	return a.hdr
}

// Flags returns the current flags.
func (a *Area) Flags() Flags {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.flags
}

// Counts returns the number of usable and used slots.
func (a *Area) Counts() (pages, inuse uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.pages, a.inuse
}

// NumExtents returns the number of extents the slots map to.
func (a *Area) NumExtents() int {
	return len(a.extents.Extents())
}

func (a *Area) id(offset uint64) Identifier {
	return Identifier{Type: a.typ, Offset: offset}
}

func (a *Area) writable() bool {
	return a.flags&FlagWriteOK != 0
}
