// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package swap

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set"
	"github.com/viney-shih/go-lock"
	"go.uber.org/zap"

	"github.com/siderolabs/go-swap/internal/swapmap"
)

// Registry is the set of active swap areas.
//
// Lock order is Registry.mu, then Area.mu. Lookups by swap type go through
// the atomic area table and never take Registry.mu.
type Registry struct {
	options Options
	logger  *zap.Logger
	cache   SwapCache
	walker  PageTableWalker
	acct    Accounting

	// lifecycle serializes Swapon and Swapoff.
	lifecycle *lock.CASMutex
	// active holds the identities of the active backings.
	active mapset.Set

	areas [MaxAreas]atomic.Pointer[Area]

	free  atomic.Int64
	total atomic.Int64
	// hint is the type of the highest priority area which had a slot freed, -1 if none.
	hint atomic.Int32

	mu            sync.Mutex
	order         []*Area
	cursor        *Area
	leastPriority int
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	options := applyOptions(opts...)

	r := &Registry{
		options:   options,
		logger:    options.Logger,
		cache:     options.Cache,
		walker:    options.Walker,
		acct:      options.Accounting,
		lifecycle: lock.NewCASMutex(),
		active:    mapset.NewSet(),
	}

	if r.cache == nil {
		r.cache = nopCache{r: r}
	}

	r.hint.Store(-1)

	return r
}

// GetSlot allocates a slot for a page entering the swap cache.
//
// Areas are tried in priority order, round-robin among areas of equal
// priority. The returned slot carries the cache flag.
func (r *Registry) GetSlot() (Identifier, error) {
	if r.free.Add(-1) < 0 {
		r.free.Add(1)

		return Identifier{}, ErrExhausted
	}

	r.mu.Lock()

	r.applyHint()

	pos := r.cursorIndex()

	for wrapped := 0; wrapped < 2 && len(r.order) > 0; {
		if pos >= len(r.order) {
			pos = 0
		}

		a := r.order[pos]

		next := pos + 1
		if next >= len(r.order) || (wrapped == 0 && r.order[next].Priority() != a.Priority()) {
			next = 0
			wrapped++
		}

		a.mu.Lock()

		if a.highestBit == 0 || !a.writable() {
			a.mu.Unlock()

			pos = next

			continue
		}

		r.cursor = r.order[next]
		r.mu.Unlock()

		offset := a.allocate(swapmap.HasCache)

		a.mu.Unlock()

		if offset != 0 {
			id := a.id(offset)

			if err := r.acct.Charge(id); err != nil {
				a.drop(offset, swapmap.HasCache, false)

				return Identifier{}, fmt.Errorf("failed to charge swap slot: %w", err)
			}

			return id, nil
		}

		r.mu.Lock()

		pos = r.cursorIndex()
	}

	r.mu.Unlock()
	r.free.Add(1)

	return Identifier{}, ErrExhausted
}

// GetSlotOf allocates a slot holding one reference from the area of the given type.
func (r *Registry) GetSlotOf(typ int) (Identifier, error) {
	if typ < 0 || typ >= MaxAreas {
		return Identifier{}, fmt.Errorf("%w: type %d", ErrNotFound, typ)
	}

	a := r.areas[typ].Load()
	if a == nil {
		return Identifier{}, fmt.Errorf("%w: type %d", ErrNotFound, typ)
	}

	a.mu.Lock()
	offset := a.allocate(1)
	a.mu.Unlock()

	if offset == 0 {
		return Identifier{}, ErrExhausted
	}

	r.free.Add(-1)

	id := a.id(offset)

	if err := r.acct.Charge(id); err != nil {
		a.drop(offset, 1, false)

		return Identifier{}, fmt.Errorf("failed to charge swap slot: %w", err)
	}

	return id, nil
}

// Info returns the number of free and total slots over the active areas.
func (r *Registry) Info() (free, total uint64) {
	return uint64(max(r.free.Load(), 0)), uint64(max(r.total.Load(), 0))
}

// Area returns the active area of the given type.
func (r *Registry) Area(typ int) (*Area, bool) {
	if typ < 0 || typ >= MaxAreas {
		return nil, false
	}

	a := r.areas[typ].Load()

	return a, a != nil
}

// swapFull reports whether more than half of the swap space is in use.
func (r *Registry) swapFull() bool {
	return r.free.Load()*2 < r.total.Load()
}

// cursorIndex returns the position of the round-robin cursor, r.mu must be held.
func (r *Registry) cursorIndex() int {
	if r.cursor == nil {
		return 0
	}

	if i := slices.Index(r.order, r.cursor); i >= 0 {
		return i
	}

	return 0
}

// applyHint moves the cursor to the hinted area if it has a higher priority, r.mu must be held.
func (r *Registry) applyHint() {
	hint := int(r.hint.Swap(-1))
	if hint < 0 || len(r.order) == 0 {
		return
	}

	h := r.areas[hint].Load()
	if h == nil || h == r.cursor {
		return
	}

	cur := r.cursor
	if cur == nil {
		cur = r.order[0]
	}

	if h.Priority() <= cur.Priority() || !slices.Contains(r.order, h) {
		return
	}

	r.cursor = h
}

// slotFreed returns a slot of a to the free counter and updates the hint.
//
// a.mu must be held. Slots of disabled areas are not counted.
func (r *Registry) slotFreed(a *Area) {
	if !a.writable() {
		return
	}

	r.free.Add(1)

	for {
		old := r.hint.Load()

		if old >= 0 {
			if h := r.areas[old].Load(); h != nil && h.Priority() >= a.Priority() {
				return
			}
		}

		if r.hint.CompareAndSwap(old, int32(a.typ)) {
			return
		}
	}
}

// insert adds a to the priority order ahead of areas with the same priority, r.mu must be held.
func (r *Registry) insert(a *Area) {
	prio := a.Priority()

	i := slices.IndexFunc(r.order, func(o *Area) bool {
		return o.Priority() <= prio
	})
	if i < 0 {
		i = len(r.order)
	}

	r.order = slices.Insert(r.order, i, a)
}

// enable makes a available for allocation, r.mu must be held.
func (r *Registry) enable(a *Area) {
	r.insert(a)

	a.mu.Lock()
	defer a.mu.Unlock()

	r.free.Add(int64(a.pages - a.inuse))
	r.total.Add(int64(a.pages))

	a.flags |= FlagWriteOK
}

// disable takes a out of allocation, r.mu must be held.
func (r *Registry) disable(a *Area) {
	if i := slices.Index(r.order, a); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}

	if r.cursor == a {
		r.cursor = nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	r.free.Add(-int64(a.pages - a.inuse))
	r.total.Add(-int64(a.pages))

	a.flags &^= FlagWriteOK
}

// freeType returns an unused swap type or -1, r.mu must be held.
func (r *Registry) freeType() int {
	for typ := range r.areas {
		if r.areas[typ].Load() == nil {
			return typ
		}
	}

	return -1
}
