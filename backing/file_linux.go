// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package backing

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Hardcoded here to avoid CGo dependency.
const (
	ioctlFIBMAP   = 1
	ioctlFIGETBSZ = 2
)

// File is a swap area in a regular file.
type File struct {
	f    *os.File
	path string

	dev, ino  uint64
	blockSize uint64
	physical  bool

	// last data region found by SEEK_DATA/SEEK_HOLE, in bytes
	mu                 sync.Mutex
	dataStart, dataEnd int64
}

func openFile(path string, physical bool) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}

	if err = flockExclusive(f); err != nil {
		f.Close() //nolint:errcheck

		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", path, ErrBusy)
		}

		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	var st unix.Stat_t

	if err = unix.Fstat(int(f.Fd()), &st); err != nil {
		f.Close() //nolint:errcheck

		return nil, fmt.Errorf("failed to stat: %w", err)
	}

	b := &File{
		f:         f,
		path:      path,
		dev:       st.Dev,
		ino:       st.Ino,
		blockSize: uint64(st.Blksize),
		physical:  physical,
		dataStart: -1,
	}

	if physical {
		var bsz int32

		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), ioctlFIGETBSZ, uintptr(unsafe.Pointer(&bsz))); errno != 0 {
			f.Close() //nolint:errcheck

			return nil, fmt.Errorf("failed to get filesystem block size: %w", errno)
		}

		b.blockSize = uint64(bsz)
	}

	return b, nil
}

func flockExclusive(f *os.File) error {
	for {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

// ReadAt implements io.ReaderAt.
func (b *File) ReadAt(p []byte, off int64) (int, error) {
	return b.f.ReadAt(p, off)
}

// WriteAt implements io.WriterAt.
func (b *File) WriteAt(p []byte, off int64) (int, error) {
	return b.f.WriteAt(p, off)
}

// Path implements Backing.
func (b *File) Path() string {
	return b.path
}

// Kind implements Backing.
func (b *File) Kind() Kind {
	return KindFile
}

// Size implements Backing.
func (b *File) Size() (uint64, error) {
	st, err := b.f.Stat()
	if err != nil {
		return 0, err
	}

	return uint64(st.Size()), nil
}

// Identity implements Backing.
func (b *File) Identity() string {
	return fileIdentity(b.dev, b.ino)
}

func fileIdentity(dev, ino uint64) string {
	return fmt.Sprintf("file:%d:%d:%d", unix.Major(dev), unix.Minor(dev), ino)
}

// BlockSize implements BlockMapper.
func (b *File) BlockSize() uint64 {
	return b.blockSize
}

// MapBlock implements BlockMapper.
//
// With physical mapping the filesystem reports the device block (0 is a hole),
// otherwise the block maps onto itself as long as it holds data.
func (b *File) MapBlock(block uint64) (uint64, bool, error) {
	if b.physical {
		blk := int32(block)

		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, b.f.Fd(), ioctlFIBMAP, uintptr(unsafe.Pointer(&blk))); errno != 0 {
			return 0, false, fmt.Errorf("FIBMAP failed: %w", errno)
		}

		return uint64(blk), blk != 0, nil
	}

	off := int64(block * b.blockSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if off >= b.dataStart && off+int64(b.blockSize) <= b.dataEnd {
		return block, true, nil
	}

	data, err := unix.Seek(int(b.f.Fd()), off, unix.SEEK_DATA)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return 0, false, nil
		}

		return 0, false, fmt.Errorf("SEEK_DATA failed: %w", err)
	}

	if data != off {
		return 0, false, nil
	}

	hole, err := unix.Seek(int(b.f.Fd()), off, unix.SEEK_HOLE)
	if err != nil {
		return 0, false, fmt.Errorf("SEEK_HOLE failed: %w", err)
	}

	b.dataStart, b.dataEnd = data, hole

	return block, hole >= off+int64(b.blockSize), nil
}

// Close implements Backing.
func (b *File) Close() error {
	return b.f.Close()
}
