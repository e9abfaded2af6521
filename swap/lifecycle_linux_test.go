// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package swap_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/freddierice/go-losetup/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-swap/internal/swaptest"
	"github.com/siderolabs/go-swap/swap"
)

func swapFile(t *testing.T, pages int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "swapfile")

	require.NoError(t, os.WriteFile(path, swaptest.Image(t, pages), 0o600))

	return path
}

func TestSwaponFile(t *testing.T) {
	ctx := context.Background()

	r := newRegistry(t)
	path := swapFile(t, 256)

	a, err := r.Swapon(ctx, path, swap.WithPriority(2))
	require.NoError(t, err)

	assert.Equal(t, path, a.Path())
	assert.Equal(t, 2, a.Priority())

	status := r.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "file", status[0].Kind)
	assert.EqualValues(t, 255, status[0].Size)
	assert.Equal(t, 1, status[0].Extents)

	_, err = r.Swapon(ctx, path)
	require.Error(t, err)
	assert.ErrorIs(t, err, swap.ErrBusy)

	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(path, link))

	_, err = r.Swapon(ctx, link)
	assert.ErrorIs(t, err, swap.ErrBusy)

	id, err := r.GetSlot()
	require.NoError(t, err)
	assert.Equal(t, a.Type(), id.Type)

	r.FreeCache(id)

	require.NoError(t, r.Swapoff(ctx, link))
	assert.Empty(t, r.Status())

	assert.ErrorIs(t, r.Swapoff(ctx, path), swap.ErrNotFound)

	// the lock is released
	a, err = r.Swapon(ctx, path)
	require.NoError(t, err)
	require.NoError(t, r.Swapoff(ctx, a.Path()))
}

func TestSwaponErrors(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	_, err := r.Swapon(ctx, filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "zeros")
	require.NoError(t, os.WriteFile(path, make([]byte, 16*swaptest.PageSize), 0o600))

	_, err = r.Swapon(ctx, path)
	assert.ErrorIs(t, err, swap.ErrInvalidHeader)

	// a failed activation leaves the file unlocked
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	sparse := filepath.Join(t.TempDir(), "sparse")

	f, err = os.Create(sparse)
	require.NoError(t, err)

	_, err = f.Write(swaptest.Image(t, 64)[:2*swaptest.PageSize])
	require.NoError(t, err)
	require.NoError(t, f.Truncate(64*swaptest.PageSize))
	require.NoError(t, f.Close())

	a, err := r.Swapon(ctx, sparse)
	if err == nil {
		require.NoError(t, r.Swapoff(ctx, sparse))

		t.Skipf("filesystem doesn't report holes, activated %s", a.Path())
	}

	assert.ErrorIs(t, err, swap.ErrLayout)
}

func TestSwaponPartition(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("skipping test; must be root")
	}

	ctx := context.Background()

	r := newRegistry(t)
	path := swapFile(t, 4096)

	loDev, err := losetup.Attach(path, 0, false)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, loDev.Detach())
	})

	a, err := r.Swapon(ctx, loDev.Path(), swap.WithDiscard())
	require.NoError(t, err)

	assert.Equal(t, "partition", a.Status().Kind)
	assert.Equal(t, 1, a.NumExtents())

	_, err = r.Swapon(ctx, loDev.Path())
	assert.ErrorIs(t, err, swap.ErrBusy)

	ids := drainAll(t, r)
	assert.Len(t, ids, 4095)

	for _, id := range ids {
		r.FreeCache(id)
	}

	require.NoError(t, r.Swapoff(ctx, loDev.Path()))
}
