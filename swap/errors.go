// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package swap

import (
	"errors"

	"github.com/siderolabs/go-swap/backing"
	"github.com/siderolabs/go-swap/internal/swapmap"
)

// Common errors.
var (
	// ErrInvalidHeader is returned when the swap header is missing, has the wrong version or doesn't fit the backing.
	ErrInvalidHeader = errors.New("invalid swap header")
	// ErrLayout is returned when a swap file has holes or can't be mapped.
	ErrLayout = errors.New("invalid swap file layout")
	// ErrTooManyBadPages is returned when the bad page list overflows the header.
	ErrTooManyBadPages = errors.New("too many bad pages")
	// ErrEmptyArea is returned when the area has no usable slots.
	ErrEmptyArea = errors.New("empty swap area")
	// ErrBusy is returned when the backing is already in use.
	ErrBusy = backing.ErrBusy
	// ErrOutOfMemory is returned by collaborators which fail to allocate a page.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrInterrupted is returned when an operation is cancelled.
	ErrInterrupted = errors.New("interrupted")
	// ErrExhausted is returned when no active area has a free slot.
	ErrExhausted = errors.New("swap space exhausted")
	// ErrNotFound is returned for unknown swap areas and slots.
	ErrNotFound = errors.New("swap area not found")
	// ErrTooManyAreas is returned when every swap type is taken.
	ErrTooManyAreas = errors.New("too many swap areas")
	// ErrDrainStalled is returned when draining makes no progress within the configured pass limit.
	ErrDrainStalled = errors.New("swap area drain stalled")
	// ErrInvalidPriority is returned for priorities outside of [0, MaxPriority].
	ErrInvalidPriority = errors.New("invalid swap priority")

	// ErrNotAllocated is returned when a reference is added to a free slot.
	ErrNotAllocated = swapmap.ErrNotAllocated
	// ErrCacheExists is returned when the page of the slot is already in the swap cache.
	ErrCacheExists = swapmap.ErrCacheExists
)
