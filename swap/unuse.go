// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package swap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// drainState tracks the progress of unusing an area.
type drainState int

const (
	drainIdle drainState = iota
	drainScanning
	drainFaulting
	drainDraining
	drainDone
)

func (s drainState) String() string {
	switch s {
	case drainIdle:
		return "active"
	case drainScanning:
		return "scanning"
	case drainFaulting:
		return "faulting"
	case drainDraining:
		return "draining"
	case drainDone:
		return "done"
	default:
		return fmt.Sprintf("drainState(%d)", int(s))
	}
}

// unuse moves every page still in a back to memory.
//
// Slots are visited in offset order, wrapping around to the start until
// none is left in use. Slots whose references can't all be dropped are
// revisited on the next pass.
func (r *Registry) unuse(ctx context.Context, a *Area) error {
	var (
		prev       uint64
		progressed bool
		fruitless  int
	)

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrInterrupted, err)
		}

		a.setDrain(drainScanning)

		a.mu.Lock()
		offset, ok := a.slots.NextInUse(prev)
		a.mu.Unlock()

		if !ok {
			break
		}

		if offset <= prev {
			if !progressed {
				fruitless++

				a.logger.Debug("drain pass made no progress", zap.Int("passes", fruitless))

				if limit := r.options.DrainPassLimit; limit > 0 && fruitless >= limit {
					return fmt.Errorf("%w: %d passes without progress", ErrDrainStalled, fruitless)
				}
			}

			progressed = false
		}

		done, err := r.unuseSlot(ctx, a, offset)
		if err != nil {
			return err
		}

		if done {
			progressed = true
			fruitless = 0
		}

		prev = offset
	}

	a.setDrain(drainDone)

	return nil
}

// unuseSlot drops every reference to a slot, reporting whether any was dropped.
func (r *Registry) unuseSlot(ctx context.Context, a *Area, offset uint64) (bool, error) {
	id := a.id(offset)

	a.setDrain(drainFaulting)

	page, err := r.cache.ReadPage(ctx, id)
	if err != nil {
		switch {
		case !a.inUse(offset):
			// freed meanwhile
			return true, nil
		case ctx.Err() != nil:
			return false, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		case errors.Is(err, ErrNotAllocated):
			return false, nil
		default:
			return false, fmt.Errorf("failed to read slot %s: %w", id, err)
		}
	}

	defer page.Release()

	if err = page.Lock(ctx); err != nil {
		return false, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}

	defer page.Unlock()

	if !a.inUse(offset) {
		return true, nil
	}

	if cached, ok := page.SwapIdentifier(); !ok || cached != id {
		return false, nil
	}

	a.setDrain(drainDraining)

	progress := false

	if a.shared(offset) {
		su, ok := r.walker.(SharedUnuser)
		if !ok {
			return false, nil
		}

		done, err := su.UnuseShared(ctx, id, page)
		if err != nil {
			return false, r.walkError(ctx, id, err)
		}

		if !done {
			return false, nil
		}

		a.put(offset, 1)

		progress = true
	}

	for a.count(offset) > 0 {
		replaced := 0

		err = r.walker.ForEachMapping(ctx, id, page, func(AddressSpace) WalkAction {
			if a.count(offset) == 0 {
				return WalkStop
			}

			a.put(offset, 1)
			replaced++

			return WalkReplace
		})

		if replaced > 0 {
			progress = true
		}

		if err != nil {
			return progress, r.walkError(ctx, id, err)
		}

		if replaced == 0 {
			break
		}
	}

	if a.count(offset) > 0 {
		return progress, nil
	}

	if cached, ok := page.SwapIdentifier(); ok && cached == id {
		if err = r.cache.Delete(page); err != nil {
			return progress, fmt.Errorf("failed to delete slot %s from the swap cache: %w", id, err)
		}
	}

	a.logger.Debug("slot drained", zap.Stringer("slot", id))

	return true, nil
}

func (r *Registry) walkError(ctx context.Context, id Identifier, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}

	return fmt.Errorf("failed to unuse slot %s: %w", id, err)
}

func (a *Area) setDrain(s drainState) {
	a.mu.Lock()
	a.drain = s
	a.mu.Unlock()
}
