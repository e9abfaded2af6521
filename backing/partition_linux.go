// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package backing

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/siderolabs/go-swap/block"
)

// Partition is a swap area on a block device.
type Partition struct {
	dev  *block.Device
	path string

	devNo      uint64
	solidState bool
	discard    bool
}

func openPartition(path string) (*Partition, error) {
	dev, err := block.NewFromPath(path, block.OpenForWrite(), block.OpenExclusive())
	if err != nil {
		if errors.Is(err, block.ErrLocked) {
			return nil, fmt.Errorf("%w: %w", ErrBusy, err)
		}

		return nil, err
	}

	devNo, err := dev.GetDevNo()
	if err != nil {
		dev.Close() //nolint:errcheck

		return nil, fmt.Errorf("failed to get device number: %w", err)
	}

	readOnly, err := dev.IsReadOnly()
	if err == nil && readOnly {
		err = fmt.Errorf("%s: %w", path, ErrReadOnly)
	}

	if err != nil {
		dev.Close() //nolint:errcheck

		return nil, err
	}

	return &Partition{
		dev:        dev,
		path:       path,
		devNo:      devNo,
		solidState: !dev.IsRotational(),
		discard:    dev.SupportsDiscard(),
	}, nil
}

// ReadAt implements io.ReaderAt.
func (p *Partition) ReadAt(b []byte, off int64) (int, error) {
	return p.dev.ReadAt(b, off)
}

// WriteAt implements io.WriterAt.
func (p *Partition) WriteAt(b []byte, off int64) (int, error) {
	return p.dev.WriteAt(b, off)
}

// Path implements Backing.
func (p *Partition) Path() string {
	return p.path
}

// Kind implements Backing.
func (p *Partition) Kind() Kind {
	return KindPartition
}

// Size implements Backing.
func (p *Partition) Size() (uint64, error) {
	return p.dev.GetSize()
}

// Identity implements Backing.
func (p *Partition) Identity() string {
	return partitionIdentity(p.devNo)
}

func partitionIdentity(devNo uint64) string {
	return fmt.Sprintf("blk:%d:%d", unix.Major(devNo), unix.Minor(devNo))
}

// SolidState implements SolidStater.
func (p *Partition) SolidState() bool {
	return p.solidState
}

// Discard implements Discarder.
func (p *Partition) Discard(offset, length uint64) error {
	if !p.discard {
		return block.ErrDiscardNotSupported
	}

	return p.dev.Discard(offset, length)
}

// Close implements Backing.
func (p *Partition) Close() error {
	return p.dev.Close()
}
