// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package swap

import (
	"os"

	"go.uber.org/zap"
)

// MaxPriority is the highest priority which can be requested explicitly.
const MaxPriority = 0x7fff

// Options for the Registry.
type Options struct {
	Logger     *zap.Logger
	Walker     PageTableWalker
	Cache      SwapCache
	Accounting Accounting

	// PageSize is the slot size, defaults to the system page size.
	PageSize int

	// DrainPassLimit bounds the number of passes over an area without progress
	// before Swapoff gives up, zero means unlimited.
	DrainPassLimit int

	// PhysicalMapping maps swap files with FIBMAP.
	PhysicalMapping bool
}

// Option configures the Registry.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithPageTableWalker sets the walker used to drain areas on Swapoff.
func WithPageTableWalker(walker PageTableWalker) Option {
	return func(o *Options) {
		o.Walker = walker
	}
}

// WithSwapCache sets the swap cache.
func WithSwapCache(cache SwapCache) Option {
	return func(o *Options) {
		o.Cache = cache
	}
}

// WithAccounting sets the accounting hooks called on slot allocation and release.
func WithAccounting(acct Accounting) Option {
	return func(o *Options) {
		o.Accounting = acct
	}
}

// WithPageSize overrides the slot size.
func WithPageSize(size int) Option {
	return func(o *Options) {
		o.PageSize = size
	}
}

// WithDrainPassLimit sets the number of fruitless drain passes tolerated by Swapoff.
func WithDrainPassLimit(passes int) Option {
	return func(o *Options) {
		o.DrainPassLimit = passes
	}
}

// WithPhysicalMapping enables FIBMAP block mapping for swap files.
func WithPhysicalMapping(enable bool) Option {
	return func(o *Options) {
		o.PhysicalMapping = enable
	}
}

func applyOptions(opts ...Option) Options {
	o := Options{
		Logger:     zap.NewNop(),
		Walker:     nopWalker{},
		Accounting: nopAccounting{},
		PageSize:   os.Getpagesize(),
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// AreaOptions for activating a single area.
type AreaOptions struct {
	// Priority of the area, negative values assign the next automatic priority.
	Priority int

	// Discard the area on activation and free clusters while in use.
	Discard bool
}

// AreaOption configures an area.
type AreaOption func(*AreaOptions)

// WithPriority sets an explicit priority in [0, MaxPriority].
func WithPriority(priority int) AreaOption {
	return func(o *AreaOptions) {
		o.Priority = priority
	}
}

// WithDiscard enables discards.
func WithDiscard() AreaOption {
	return func(o *AreaOptions) {
		o.Discard = true
	}
}

func applyAreaOptions(opts ...AreaOption) AreaOptions {
	o := AreaOptions{
		Priority: -1,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}
