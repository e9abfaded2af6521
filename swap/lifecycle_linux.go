// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package swap

import (
	"context"
	"fmt"

	"github.com/siderolabs/go-swap/backing"
)

// Swapon activates the swap file or partition at path.
func (r *Registry) Swapon(ctx context.Context, path string, opts ...AreaOption) (*Area, error) {
	if err := r.lockLifecycle(ctx); err != nil {
		return nil, err
	}

	defer r.lifecycle.Unlock()

	b, err := backing.Open(path,
		backing.WithLogger(r.logger),
		backing.WithPhysicalMapping(r.options.PhysicalMapping),
	)
	if err != nil {
		return nil, err
	}

	a, err := r.activate(b, opts...)
	if err != nil {
		b.Close() //nolint:errcheck

		return nil, err
	}

	return a, nil
}

// Swapoff deactivates the swap area backed by path.
//
// path may name the backing through a different link than the one used on Swapon.
func (r *Registry) Swapoff(ctx context.Context, path string) error {
	if err := r.lockLifecycle(ctx); err != nil {
		return err
	}

	defer r.lifecycle.Unlock()

	identity, err := backing.IdentityOf(path)
	if err != nil {
		identity = ""
	}

	for typ := range r.areas {
		a := r.areas[typ].Load()
		if a == nil {
			continue
		}

		if a.Path() == path || (identity != "" && a.backing.Identity() == identity) {
			return r.deactivate(ctx, a)
		}
	}

	return fmt.Errorf("%s: %w", path, ErrNotFound)
}
