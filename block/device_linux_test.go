// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package block_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/freddierice/go-losetup/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/siderolabs/go-swap/block"
)

const (
	MiB = 1024 * 1024
)

func attachImage(t *testing.T, size int64, readOnly bool) (string, string) {
	t.Helper()

	rawImage := filepath.Join(t.TempDir(), "image.raw")

	f, err := os.Create(rawImage)
	require.NoError(t, err)

	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())

	loDev, err := losetup.Attach(rawImage, 0, readOnly)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, loDev.Detach())
	})

	return loDev.Path(), rawImage
}

func TestDevice(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("skipping test; must be root")
	}

	devPath, rawImage := attachImage(t, 64*MiB, false)

	dev, err := block.NewFromPath(devPath, block.OpenForWrite())
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, dev.Close())
	})

	t.Run("size", func(t *testing.T) {
		size, err := dev.GetSize()
		require.NoError(t, err)

		assert.EqualValues(t, 64*MiB, size)
	})

	t.Run("sector size", func(t *testing.T) {
		assert.EqualValues(t, 512, dev.GetSectorSize())
	})

	t.Run("dev no", func(t *testing.T) {
		devNo, err := dev.GetDevNo()
		require.NoError(t, err)

		var st unix.Stat_t
		require.NoError(t, unix.Stat(devPath, &st))

		assert.Equal(t, st.Rdev, devNo)

		whole, err := dev.GetWholeDisk()
		require.NoError(t, err)

		wholeDevNo, err := whole.GetDevNo()
		require.NoError(t, err)
		assert.Equal(t, devNo, wholeDevNo)

		assert.NoError(t, whole.Close())
	})

	t.Run("rotational", func(t *testing.T) {
		// loop devices report either value depending on the kernel, only make sure the probe works
		t.Logf("rotational: %v", dev.IsRotational())
	})

	t.Run("read write", func(t *testing.T) {
		payload := bytes.Repeat([]byte{0xa5}, 4096)

		_, err := dev.WriteAt(payload, 8192)
		require.NoError(t, err)

		buf := make([]byte, 4096)

		_, err = dev.ReadAt(buf, 8192)
		require.NoError(t, err)

		assert.Equal(t, payload, buf)
	})

	t.Run("discard", func(t *testing.T) {
		if !dev.SupportsDiscard() {
			t.Skip("loop device doesn't support discard")
		}

		require.NoError(t, dev.Discard(MiB, MiB))
		require.NoError(t, dev.Discard(0, 0))

		assert.Error(t, dev.Discard(100, 512))

		f, err := os.Open(rawImage)
		require.NoError(t, err)

		defer f.Close() //nolint:errcheck

		buf := make([]byte, 4096)

		_, err = f.ReadAt(buf, MiB)
		require.NoError(t, err)

		assert.Equal(t, make([]byte, 4096), buf)
	})

	t.Run("exclusive", func(t *testing.T) {
		locked, err := block.NewFromPath(devPath, block.OpenExclusive())
		require.NoError(t, err)

		_, err = block.NewFromPath(devPath, block.OpenExclusive())
		require.Error(t, err)
		assert.ErrorIs(t, err, block.ErrLocked)

		require.NoError(t, locked.Close())

		relocked, err := block.NewFromPath(devPath, block.OpenExclusive())
		require.NoError(t, err)
		require.NoError(t, relocked.Close())
	})

	t.Run("lock try lock unlock", func(t *testing.T) {
		dev2, err := block.NewFromPath(devPath)
		require.NoError(t, err)

		t.Cleanup(func() {
			assert.NoError(t, dev2.Close())
		})

		require.NoError(t, dev.Lock(true))

		err = dev2.TryLock(false)
		require.Error(t, err)
		require.ErrorIs(t, err, unix.EWOULDBLOCK)

		require.NoError(t, dev.Unlock())

		require.NoError(t, dev2.TryLock(false))
		require.NoError(t, dev2.Unlock())
	})
}

func TestDeviceReadOnly(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("skipping test; must be root")
	}

	devPath, _ := attachImage(t, 16*MiB, true)

	dev, err := block.NewFromPath(devPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, dev.Close())
	})

	readOnly, err := dev.IsReadOnly()
	require.NoError(t, err)
	assert.True(t, readOnly)
}
