// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package swap_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/siderolabs/go-swap/backing"
	"github.com/siderolabs/go-swap/internal/swaptest"
	"github.com/siderolabs/go-swap/swap"
)

func newRegistry(t *testing.T, opts ...swap.Option) *swap.Registry {
	t.Helper()

	return swap.NewRegistry(append([]swap.Option{
		swap.WithLogger(zaptest.NewLogger(t)),
		swap.WithPageSize(swaptest.PageSize),
	}, opts...)...)
}

func activate(t *testing.T, r *swap.Registry, b backing.Backing, opts ...swap.AreaOption) *swap.Area {
	t.Helper()

	a, err := r.Activate(context.Background(), b, opts...)
	require.NoError(t, err)

	return a
}

func memoryArea(t *testing.T, r *swap.Registry, name string, pages int, opts ...swap.AreaOption) (*swap.Area, *swaptest.Memory) {
	t.Helper()

	b := swaptest.NewMemory(name, swaptest.Image(t, pages))

	return activate(t, r, b, opts...), b
}

// drainAll allocates from r until it is exhausted.
func drainAll(t *testing.T, r *swap.Registry) []swap.Identifier {
	t.Helper()

	var ids []swap.Identifier

	for {
		id, err := r.GetSlot()
		if err != nil {
			require.ErrorIs(t, err, swap.ErrExhausted)

			return ids
		}

		ids = append(ids, id)
	}
}

type accounting struct {
	charged map[swap.Identifier]int
	fail    error
}

func (a *accounting) Charge(id swap.Identifier) error {
	if a.fail != nil {
		return a.fail
	}

	a.charged[id]++

	return nil
}

// Uncharge keeps negative balances, so uncharging a slot which was never charged shows up.
func (a *accounting) Uncharge(id swap.Identifier) {
	a.charged[id]--

	if a.charged[id] == 0 {
		delete(a.charged, id)
	}
}

func name(i int) string {
	return fmt.Sprintf("area%d", i)
}
