// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package swaptest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/viney-shih/go-lock"

	"github.com/siderolabs/go-swap/swap"
)

// Mappings is a PageTableWalker over a table of address spaces holding swap entries.
type Mappings struct {
	mu       sync.Mutex
	entries  map[swap.Identifier][]swap.AddressSpace
	resident map[swap.AddressSpace][]swap.Identifier
	shared   map[swap.Identifier]bool

	// WalkErr is returned by ForEachMapping when set.
	WalkErr error
}

// NewMappings returns an empty table.
func NewMappings() *Mappings {
	return &Mappings{
		entries:  map[swap.Identifier][]swap.AddressSpace{},
		resident: map[swap.AddressSpace][]swap.Identifier{},
		shared:   map[swap.Identifier]bool{},
	}
}

// Map records that space holds a swap entry for id.
func (m *Mappings) Map(id swap.Identifier, space swap.AddressSpace) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[id] = append(m.entries[id], space)
}

// Share records that shared memory owns id.
func (m *Mappings) Share(id swap.Identifier) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shared[id] = true
}

// Entries returns the number of swap entries still referencing id.
func (m *Mappings) Entries(id swap.Identifier) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.entries[id])

	if m.shared[id] {
		n++
	}

	return n
}

// Resident returns the slots whose pages were mapped back into space.
func (m *Mappings) Resident(space swap.AddressSpace) []swap.Identifier {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.resident[space])
}

// ForEachMapping implements swap.PageTableWalker.
func (m *Mappings) ForEachMapping(ctx context.Context, id swap.Identifier, _ swap.Page, fn func(swap.AddressSpace) swap.WalkAction) error {
	m.mu.Lock()
	spaces, err := slices.Clone(m.entries[id]), m.WalkErr
	m.mu.Unlock()

	if err != nil {
		return err
	}

	for _, space := range spaces {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch fn(space) {
		case swap.WalkContinue:
		case swap.WalkReplace:
			m.mu.Lock()

			if i := slices.Index(m.entries[id], space); i >= 0 {
				m.entries[id] = slices.Delete(m.entries[id], i, i+1)
			}

			if len(m.entries[id]) == 0 {
				delete(m.entries, id)
			}

			m.resident[space] = append(m.resident[space], id)

			m.mu.Unlock()
		case swap.WalkStop:
			return nil
		}
	}

	return nil
}

// UnuseShared implements swap.SharedUnuser.
func (m *Mappings) UnuseShared(_ context.Context, id swap.Identifier, _ swap.Page) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.shared[id] {
		return false, nil
	}

	delete(m.shared, id)

	return true, nil
}

// Cache is a SwapCache keeping page objects for the slots it holds.
type Cache struct {
	r *swap.Registry

	mu    sync.Mutex
	pages map[swap.Identifier]*Page

	// ReadErr is returned by ReadPage when set.
	ReadErr error

	// OnRead is called by ReadPage before the lookup, its error is returned.
	OnRead func(swap.Identifier) error
}

// NewCache returns an empty cache, Bind must be called before use.
func NewCache() *Cache {
	return &Cache{
		pages: map[swap.Identifier]*Page{},
	}
}

// Bind attaches the cache to the registry holding its slots.
func (c *Cache) Bind(r *swap.Registry) {
	c.r = r
}

// Insert adds the page of a slot allocated with Registry.GetSlot, which already carries the cache flag.
func (c *Cache) Insert(id swap.Identifier) *Page {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.insert(id)
}

func (c *Cache) insert(id swap.Identifier) *Page {
	p := &Page{
		c:      c,
		id:     id,
		lock:   lock.NewCASMutex(),
		cached: true,
	}

	c.pages[id] = p

	return p
}

// Cached reports whether the cache holds a page for id.
func (c *Cache) Cached(id swap.Identifier) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.pages[id]

	return ok
}

// Page returns the cached page of id.
func (c *Cache) Page(id swap.Identifier) (*Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pages[id]

	return p, ok
}

// ReadPage implements swap.SwapCache.
func (c *Cache) ReadPage(_ context.Context, id swap.Identifier) (swap.Page, error) {
	if c.OnRead != nil {
		if err := c.OnRead(id); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ReadErr != nil {
		return nil, c.ReadErr
	}

	if p, ok := c.pages[id]; ok {
		return p, nil
	}

	if err := c.r.AddCache(id); err != nil && !errors.Is(err, swap.ErrCacheExists) {
		return nil, err
	}

	return c.insert(id), nil
}

// TryReclaim implements swap.SwapCache.
func (c *Cache) TryReclaim(id swap.Identifier) bool {
	c.mu.Lock()

	p, ok := c.pages[id]
	if !ok || !p.lock.TryLock() {
		c.mu.Unlock()

		return false
	}

	delete(c.pages, id)
	p.cached = false
	p.lock.Unlock()

	c.mu.Unlock()

	c.r.FreeCache(id)

	return true
}

// Delete implements swap.SwapCache.
func (c *Cache) Delete(page swap.Page) error {
	p := page.(*Page) //nolint:forcetypeassert

	c.mu.Lock()

	if !p.cached {
		c.mu.Unlock()

		return nil
	}

	delete(c.pages, p.id)
	p.cached = false

	c.mu.Unlock()

	c.r.FreeCache(p.id)

	return nil
}

// Page is a page in the Cache.
type Page struct {
	c      *Cache
	id     swap.Identifier
	lock   *lock.CASMutex
	cached bool

	waiters atomic.Int32
}

// Lock implements swap.Page.
func (p *Page) Lock(ctx context.Context) error {
	p.waiters.Add(1)
	defer p.waiters.Add(-1)

	if !p.lock.TryLockWithContext(ctx) {
		return ctx.Err()
	}

	return nil
}

// Waiters returns the number of goroutines blocked in Lock.
func (p *Page) Waiters() int {
	return int(p.waiters.Load())
}

// Unlock implements swap.Page.
func (p *Page) Unlock() {
	p.lock.Unlock()
}

// SwapIdentifier implements swap.Page.
func (p *Page) SwapIdentifier() (swap.Identifier, bool) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()

	return p.id, p.cached
}

// Release implements swap.Page.
func (p *Page) Release() {}

var (
	_ swap.PageTableWalker = (*Mappings)(nil)
	_ swap.SharedUnuser    = (*Mappings)(nil)
	_ swap.SwapCache       = (*Cache)(nil)
	_ swap.Page            = (*Page)(nil)
)
