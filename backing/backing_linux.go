// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package backing

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Open opens the swap file or swap partition at path for exclusive use.
//
// The backing is locked with an exclusive flock, so a second Open of the same
// file or device fails with ErrBusy until the first one is closed.
func Open(path string, opts ...Option) (Backing, error) {
	options := applyOptions(opts...)

	var st unix.Stat_t

	if err := unix.Stat(path, &st); err != nil {
		return nil, fmt.Errorf("failed to stat: %w", err)
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFBLK:
		b, err := openPartition(path)
		if err != nil {
			return nil, err
		}

		options.Logger.Debug("opened swap partition", zap.String("path", path), zap.Bool("solid_state", b.solidState), zap.Bool("discard", b.discard))

		return b, nil
	case unix.S_IFREG:
		b, err := openFile(path, options.PhysicalMapping)
		if err != nil {
			return nil, err
		}

		options.Logger.Debug("opened swap file", zap.String("path", path), zap.Uint64("block_size", b.blockSize), zap.Bool("physical", b.physical))

		return b, nil
	default:
		return nil, fmt.Errorf("%s: %w (mode %o)", path, ErrUnsupportedType, st.Mode&unix.S_IFMT)
	}
}

// IdentityOf returns the identity the backing at path would have once opened.
func IdentityOf(path string) (string, error) {
	var st unix.Stat_t

	if err := unix.Stat(path, &st); err != nil {
		return "", fmt.Errorf("failed to stat: %w", err)
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFBLK:
		return partitionIdentity(st.Rdev), nil
	case unix.S_IFREG:
		return fileIdentity(st.Dev, st.Ino), nil
	default:
		return "", fmt.Errorf("%s: %w (mode %o)", path, ErrUnsupportedType, st.Mode&unix.S_IFMT)
	}
}
