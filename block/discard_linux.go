// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package block

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrDiscardNotSupported is returned when the device doesn't accept discards.
var ErrDiscardNotSupported = errors.New("discard is not supported")

// SupportsDiscard returns true if the device advertises discard support.
func (d *Device) SupportsDiscard() bool {
	v, err := d.queueAttribute("discard_max_bytes")

	return err == nil && v > 0
}

// Discard the device range [start, start+length).
//
// start and length are in bytes and must be aligned to the sector size.
func (d *Device) Discard(start, length uint64) error {
	if length == 0 {
		return nil
	}

	sector := uint64(d.GetSectorSize())
	if start%sector != 0 || length%sector != 0 {
		return fmt.Errorf("discard range %d+%d is not aligned to sector size %d", start, length, sector)
	}

	r := [2]uint64{start, length}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), unix.BLKDISCARD, uintptr(unsafe.Pointer(&r[0])))
	runtime.KeepAlive(d)

	switch {
	case errno == 0:
		return nil
	case errno == unix.EOPNOTSUPP || errno == unix.ENOTTY:
		return ErrDiscardNotSupported
	default:
		return errno
	}
}
