// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package header reads and writes the on-disk header of a Linux swap area.
//
// The header occupies the first page of the area:
//
//	0x000  boot bits (1024 bytes)
//	0x400  version      uint32
//	0x404  last_page    uint32
//	0x408  nr_badpages  uint32
//	0x40c  uuid         [16]byte
//	0x41c  volume label [16]byte
//	0x42c  padding      [117]uint32
//	0x600  badpages     [nr_badpages]uint32
//
// and the magic "SWAPSPACE2" is located in the last 10 bytes of the page.
// Integers are stored in the byte order of the machine that wrote the header.
package header

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
)

// Magic values.
const (
	Magic       = "SWAPSPACE2"
	LegacyMagic = "SWAP-SPACE"
)

// Version is the only supported header version.
const Version = 1

// LabelSize is the maximum length of the volume label.
const LabelSize = 16

const (
	versionOffset  = 0x400
	lastPageOffset = 0x404
	nrBadOffset    = 0x408
	uuidOffset     = 0x40c
	labelOffset    = 0x41c
	badPagesOffset = 0x600
	magicLen       = len(Magic)
)

var (
	// ErrNoSignature is returned when the swap magic is not found.
	ErrNoSignature = errors.New("unable to find swap-space signature")
	// ErrUnsupportedVersion is returned for any header version but 1.
	ErrUnsupportedVersion = errors.New("unsupported swap header version")
	// ErrTooManyBadPages is returned when the bad page list overflows the header page.
	ErrTooManyBadPages = errors.New("too many bad pages")
	// ErrBadPageRange is returned when a bad page is outside of the area.
	ErrBadPageRange = errors.New("bad page out of range")
	// ErrPageSize is returned for page sizes which can't hold a header.
	ErrPageSize = errors.New("invalid page size")
)

// Header is the decoded swap area header.
type Header struct {
	// Label is the volume label, nil if not set.
	Label *string

	// BadPages lists pages which must not be used.
	BadPages []uint32

	// PageSize is the size of the header page and of every slot.
	PageSize int

	// Version is the header version.
	Version uint32

	// LastPage is the index of the last page of the area.
	LastPage uint32

	UUID uuid.UUID

	// ByteSwapped is set when the header was written with the opposite byte order.
	ByteSwapped bool
}

// Pages returns the number of pages (header page included) declared by the header.
func (h *Header) Pages() uint64 {
	return uint64(h.LastPage) + 1
}

// MaxBadPages returns the capacity of the bad page list for a page size.
func MaxBadPages(pageSize int) int {
	return (pageSize - magicLen - badPagesOffset) / 4
}

func validPageSize(pageSize int) bool {
	return pageSize >= 4096 && pageSize&(pageSize-1) == 0
}

func swappedOrder() binary.ByteOrder {
	var probe [2]byte

	binary.NativeEndian.PutUint16(probe[:], 1)

	if probe[0] == 1 {
		return binary.BigEndian
	}

	return binary.LittleEndian
}
