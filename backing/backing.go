// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package backing provides the stores swap areas live on: swap files and swap partitions.
package backing

import (
	"errors"
	"io"

	"go.uber.org/zap"
)

// Common errors.
var (
	// ErrBusy is returned when the backing is already used by someone else.
	ErrBusy = errors.New("backing is busy")
	// ErrUnsupportedType is returned for paths which are neither regular files nor block devices.
	ErrUnsupportedType = errors.New("unsupported backing type")
	// ErrReadOnly is returned for block devices which can't be written.
	ErrReadOnly = errors.New("block device is read-only")
)

// Kind of the backing store.
type Kind int

// Backing kinds.
const (
	KindFile Kind = iota
	KindPartition
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindPartition:
		return "partition"
	default:
		return "unknown"
	}
}

// Backing is a store for swap slots.
type Backing interface {
	io.ReaderAt
	io.WriterAt

	// Path the backing was opened from.
	Path() string
	// Kind of the backing.
	Kind() Kind
	// Size of the backing in bytes.
	Size() (uint64, error)
	// Identity uniquely identifies the underlying inode or device.
	Identity() string
	// Close releases the backing and its lock.
	Close() error
}

// BlockMapper is implemented by backings which need an extent map (swap files).
type BlockMapper interface {
	// BlockSize returns the size of a mapping block in bytes.
	BlockSize() uint64
	// MapBlock returns the backing block of the logical block, ok is false for a hole.
	MapBlock(block uint64) (phys uint64, ok bool, err error)
}

// Discarder is implemented by backings which can discard ranges.
type Discarder interface {
	// Discard the byte range [offset, offset+length) of the backing.
	Discard(offset, length uint64) error
}

// SlotFreeNotifier is implemented by backings which want to learn about freed slots.
type SlotFreeNotifier interface {
	SlotFreed(offset uint64)
}

// SolidStater is implemented by backings which know if they are backed by non-rotating media.
type SolidStater interface {
	SolidState() bool
}

// Options for Open.
type Options struct {
	// Logger to use for logging.
	Logger *zap.Logger

	// PhysicalMapping maps swap file blocks to device blocks with FIBMAP.
	//
	// It requires CAP_SYS_RAWIO, otherwise blocks are mapped to file offsets.
	PhysicalMapping bool
}

// Option configures Open.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithPhysicalMapping enables FIBMAP block mapping for swap files.
func WithPhysicalMapping(enable bool) Option {
	return func(o *Options) {
		o.PhysicalMapping = enable
	}
}

func applyOptions(opts ...Option) Options {
	o := Options{
		Logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}
