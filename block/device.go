// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package block provides the block device operations used by swap partitions.
package block

import "os"

// Device wraps blockdevice operations.
type Device struct {
	f *os.File

	ownedFile bool
	devNo     uint64
}

// File returns the underlying file.
func (d *Device) File() *os.File {
	return d.f
}

// ReadAt implements io.ReaderAt.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	return d.f.ReadAt(p, off)
}

// WriteAt implements io.WriterAt.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	return d.f.WriteAt(p, off)
}

// Close the device, if it was opened by NewFromPath.
func (d *Device) Close() error {
	if !d.ownedFile {
		return nil
	}

	return d.f.Close()
}

// DefaultBlockSize is the default block size in bytes.
const DefaultBlockSize = 512
