// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package backing_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/freddierice/go-losetup/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/siderolabs/go-swap/backing"
)

const MiB = 1024 * 1024

func writeFile(t *testing.T, size int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "swapfile")

	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x5a}, size), 0o600))

	return path
}

func TestOpenFile(t *testing.T) {
	path := writeFile(t, 4*MiB)

	b, err := backing.Open(path, backing.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, b.Close())
	})

	assert.Equal(t, backing.KindFile, b.Kind())
	assert.Equal(t, "file", b.Kind().String())
	assert.Equal(t, path, b.Path())

	size, err := b.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 4*MiB, size)

	_, err = backing.Open(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, backing.ErrBusy)

	mapper, ok := b.(backing.BlockMapper)
	require.True(t, ok)

	_, ok = b.(backing.Discarder)
	assert.False(t, ok)

	blocks := 4 * MiB / mapper.BlockSize()

	for block := range blocks {
		phys, ok, err := mapper.MapBlock(block)
		require.NoError(t, err)
		require.True(t, ok, "block %d", block)
		require.Equal(t, block, phys)
	}
}

func TestIdentity(t *testing.T) {
	path := writeFile(t, MiB)

	b, err := backing.Open(path)
	require.NoError(t, err)

	id := b.Identity()
	require.NoError(t, b.Close())

	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(path, link))

	b, err = backing.Open(link)
	require.NoError(t, err)

	assert.Equal(t, id, b.Identity())
	require.NoError(t, b.Close())
}

func TestSparseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sparse")

	f, err := os.Create(path)
	require.NoError(t, err)

	_, err = f.Write(bytes.Repeat([]byte{1}, MiB))
	require.NoError(t, err)

	require.NoError(t, f.Truncate(8*MiB))
	require.NoError(t, f.Close())

	b, err := backing.Open(path)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, b.Close())
	})

	mapper := b.(backing.BlockMapper) //nolint:forcetypeassert

	_, ok, err := mapper.MapBlock(0)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = mapper.MapBlock(7 * MiB / mapper.BlockSize())
	require.NoError(t, err)

	if ok {
		t.Skip("filesystem doesn't report holes")
	}
}

func TestUnsupportedType(t *testing.T) {
	_, err := backing.Open(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, backing.ErrUnsupportedType)
}

func TestOpenPartition(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("skipping test; must be root")
	}

	rawImage := writeFile(t, 16*MiB)

	loDev, err := losetup.Attach(rawImage, 0, false)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, loDev.Detach())
	})

	b, err := backing.Open(loDev.Path(), backing.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, b.Close())
	})

	assert.Equal(t, backing.KindPartition, b.Kind())

	size, err := b.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 16*MiB, size)

	_, ok := b.(backing.BlockMapper)
	assert.False(t, ok)

	_, ok = b.(backing.SolidStater)
	assert.True(t, ok)

	_, err = backing.Open(loDev.Path())
	require.Error(t, err)
	assert.ErrorIs(t, err, backing.ErrBusy)

	buf := make([]byte, 4)

	_, err = b.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x5a, 0x5a, 0x5a, 0x5a}, buf)
}

func TestOpenReadOnlyPartition(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("skipping test; must be root")
	}

	loDev, err := losetup.Attach(writeFile(t, 16*MiB), 0, true)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, loDev.Detach())
	})

	_, err = backing.Open(loDev.Path())
	require.Error(t, err)
}

func TestIdentityOf(t *testing.T) {
	path := writeFile(t, MiB)

	b, err := backing.Open(path)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, b.Close())
	})

	id, err := backing.IdentityOf(path)
	require.NoError(t, err)
	assert.Equal(t, b.Identity(), id)

	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(path, link))

	id, err = backing.IdentityOf(link)
	require.NoError(t, err)
	assert.Equal(t, b.Identity(), id)

	other, err := backing.IdentityOf(writeFile(t, MiB))
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	_, err = backing.IdentityOf(t.TempDir())
	assert.ErrorIs(t, err, backing.ErrUnsupportedType)

	_, err = backing.IdentityOf(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
