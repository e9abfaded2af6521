// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package swap

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/siderolabs/go-swap/backing"
)

// Activate validates the swap header on b and makes the area available for allocation.
//
// On success the registry owns b and closes it on deactivation.
func (r *Registry) Activate(ctx context.Context, b backing.Backing, opts ...AreaOption) (*Area, error) {
	if err := r.lockLifecycle(ctx); err != nil {
		return nil, err
	}

	defer r.lifecycle.Unlock()

	return r.activate(b, opts...)
}

// Deactivate drains the area and releases it.
//
// If draining fails, the area is put back exactly as it was and the error is returned.
func (r *Registry) Deactivate(ctx context.Context, a *Area) error {
	if err := r.lockLifecycle(ctx); err != nil {
		return err
	}

	defer r.lifecycle.Unlock()

	if r.areas[a.typ].Load() != a {
		return fmt.Errorf("%s: %w", a.Path(), ErrNotFound)
	}

	return r.deactivate(ctx, a)
}

// Shutdown deactivates every area.
func (r *Registry) Shutdown(ctx context.Context) error {
	if err := r.lockLifecycle(ctx); err != nil {
		return err
	}

	defer r.lifecycle.Unlock()

	var result *multierror.Error

	for typ := range r.areas {
		a := r.areas[typ].Load()
		if a == nil {
			continue
		}

		if err := r.deactivate(ctx, a); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", a.Path(), err))
		}
	}

	return result.ErrorOrNil()
}

func (r *Registry) lockLifecycle(ctx context.Context) error {
	if !r.lifecycle.TryLockWithContext(ctx) {
		return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}

	return nil
}

func (r *Registry) activate(b backing.Backing, opts ...AreaOption) (*Area, error) {
	options := applyAreaOptions(opts...)

	if options.Priority > MaxPriority {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, options.Priority)
	}

	identity := b.Identity()

	if r.active.Contains(identity) {
		return nil, fmt.Errorf("%s: %w", b.Path(), ErrBusy)
	}

	r.mu.Lock()
	typ := r.freeType()
	r.mu.Unlock()

	if typ < 0 {
		return nil, ErrTooManyAreas
	}

	a, err := openArea(b, r.options.PageSize, options.Discard, r.logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Path(), err)
	}

	a.typ = typ
	a.registry = r

	r.mu.Lock()

	if options.Priority >= 0 {
		a.priority.Store(int32(options.Priority))
	} else {
		r.leastPriority--
		a.priority.Store(int32(r.leastPriority))
		a.autoPriority = true
	}

	r.areas[typ].Store(a)
	r.enable(a)

	r.mu.Unlock()

	r.active.Add(identity)

	lowest, highest := a.extents.Span()

	a.logger.Info("swap area activated",
		zap.Int("type", typ),
		zap.Int("priority", a.Priority()),
		zap.Uint64("pages", a.pages),
		zap.Int("extents", a.NumExtents()),
		zap.Uint64("span", highest-lowest+1),
		zap.Stringer("flags", a.Flags()),
	)

	return a, nil
}

func (r *Registry) deactivate(ctx context.Context, a *Area) error {
	r.mu.Lock()
	r.disable(a)
	r.mu.Unlock()

	a.logger.Info("draining swap area", zap.Int("type", a.typ))

	if err := r.unuse(ctx, a); err != nil {
		a.setDrain(drainIdle)

		r.mu.Lock()
		r.enable(a)
		r.mu.Unlock()

		a.logger.Warn("failed to drain swap area", zap.Error(err))

		return err
	}

	a.mu.Lock()

	for a.scanners > 0 || a.state != clusterIdle {
		a.cond.Wait()
	}

	a.slots.Reset()

	a.mu.Unlock()

	r.mu.Lock()

	r.areas[a.typ].Store(nil)

	if a.autoPriority {
		for _, o := range r.order {
			if o.Priority() < a.Priority() {
				o.priority.Add(1)
			}
		}

		r.leastPriority++
	}

	r.mu.Unlock()

	r.active.Remove(a.backing.Identity())

	if err := a.backing.Close(); err != nil {
		return fmt.Errorf("failed to close backing: %w", err)
	}

	a.logger.Info("swap area deactivated", zap.Int("type", a.typ))

	return nil
}
