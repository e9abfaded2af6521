// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package swap

import (
	"context"
	"errors"
)

// AddressSpace identifies the owner of a page table.
type AddressSpace uint64

// WalkAction tells the PageTableWalker what to do with a mapping.
type WalkAction int

// Walk actions.
const (
	// WalkContinue leaves the mapping alone and continues the walk.
	WalkContinue WalkAction = iota
	// WalkReplace installs the resident page in place of the swap entry and continues.
	WalkReplace
	// WalkStop ends the walk.
	WalkStop
)

// Page is a resident page read back from swap.
type Page interface {
	// Lock acquires the page lock.
	Lock(ctx context.Context) error
	// Unlock releases the page lock.
	Unlock()
	// SwapIdentifier returns the slot the page is cached for, ok is false once it left the swap cache.
	SwapIdentifier() (id Identifier, ok bool)
	// Release drops the reference returned by SwapCache.ReadPage.
	Release()
}

// SwapCache holds pages which are both resident and in swap.
//
// Implementations take the HasCache reference on a slot with Registry.AddCache
// when a page enters the cache and drop it with Registry.FreeCache when it leaves.
type SwapCache interface {
	// ReadPage returns the page for id, reading it from the backing if needed.
	ReadPage(ctx context.Context, id Identifier) (Page, error)
	// TryReclaim drops the cached page of id if nothing maps it, reporting whether it did.
	TryReclaim(id Identifier) bool
	// Delete removes a locked page from the swap cache.
	Delete(page Page) error
}

// PageTableWalker finds the page table entries referencing a slot.
type PageTableWalker interface {
	// ForEachMapping calls fn for every page table entry holding id.
	//
	// When fn returns WalkReplace, the walker maps page in place of the entry.
	ForEachMapping(ctx context.Context, id Identifier, page Page, fn func(space AddressSpace) WalkAction) error
}

// SharedUnuser is optionally implemented by a PageTableWalker to release slots owned by shared memory.
type SharedUnuser interface {
	UnuseShared(ctx context.Context, id Identifier, page Page) (bool, error)
}

// Accounting charges swap usage to its owner.
type Accounting interface {
	Charge(id Identifier) error
	Uncharge(id Identifier)
}

type nopWalker struct{}

func (nopWalker) ForEachMapping(context.Context, Identifier, Page, func(AddressSpace) WalkAction) error {
	return nil
}

type nopAccounting struct{}

func (nopAccounting) Charge(Identifier) error { return nil }
func (nopAccounting) Uncharge(Identifier)     {}

// nopCache keeps no pages: ReadPage only pins the slot with the cache flag.
type nopCache struct {
	r *Registry
}

type nopPage struct {
	r  *Registry
	id Identifier
}

func (c nopCache) ReadPage(_ context.Context, id Identifier) (Page, error) {
	if err := c.r.AddCache(id); err != nil && !errors.Is(err, ErrCacheExists) {
		return nil, err
	}

	return &nopPage{r: c.r, id: id}, nil
}

func (c nopCache) TryReclaim(Identifier) bool { return false }

func (c nopCache) Delete(page Page) error {
	id, ok := page.SwapIdentifier()
	if !ok {
		return nil
	}

	c.r.FreeCache(id)

	return nil
}

func (p *nopPage) Lock(context.Context) error { return nil }
func (p *nopPage) Unlock()                    {}
func (p *nopPage) Release()                   {}

func (p *nopPage) SwapIdentifier() (Identifier, bool) {
	return p.id, p.r.HasCache(p.id)
}
