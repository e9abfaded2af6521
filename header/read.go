// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package header

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
	"unicode"

	"github.com/google/uuid"
	"github.com/siderolabs/go-pointer"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"github.com/siderolabs/go-swap/internal/ioutil"
	"github.com/siderolabs/go-swap/internal/magic"
)

// signatures lists the magic locations for the supported page sizes (4K to 64K).
var signatures = func() []*magic.Magic {
	var res []*magic.Magic

	for pageSize := 0x1000; pageSize <= 0x10000; pageSize <<= 1 {
		for _, value := range []string{Magic, LegacyMagic} {
			res = append(res, &magic.Magic{
				Offset: pageSize - magicLen,
				Value:  []byte(value),
			})
		}
	}

	return res
}()

// DetectPageSize finds the page size the header at the start of r was written with.
func DetectPageSize(r io.ReaderAt) (int, error) {
	m, ok, err := magic.Search(r, signatures)
	if err != nil {
		return 0, fmt.Errorf("failed to read swap header: %w", err)
	}

	if !ok {
		return 0, ErrNoSignature
	}

	return m.BlockSize(), nil
}

// Read reads and decodes the header page of pageSize bytes at the start of r.
//
// If pageSize is zero, it is detected from the magic location.
func Read(r io.ReaderAt, pageSize int) (*Header, error) {
	if pageSize == 0 {
		var err error

		if pageSize, err = DetectPageSize(r); err != nil {
			return nil, err
		}
	}

	if !validPageSize(pageSize) {
		return nil, fmt.Errorf("%w: %d", ErrPageSize, pageSize)
	}

	buf := make([]byte, pageSize)

	if err := ioutil.ReadFullAt(r, buf, 0); err != nil {
		return nil, fmt.Errorf("failed to read swap header: %w", err)
	}

	return Parse(buf)
}

// Parse decodes a header page, the page size is the length of the buffer.
func Parse(page []byte) (*Header, error) {
	pageSize := len(page)

	if !validPageSize(pageSize) {
		return nil, fmt.Errorf("%w: %d", ErrPageSize, pageSize)
	}

	switch string(page[pageSize-magicLen:]) {
	case Magic:
	case LegacyMagic:
		return nil, fmt.Errorf("%w: version 0 swap is no longer supported", ErrUnsupportedVersion)
	default:
		return nil, ErrNoSignature
	}

	var order binary.ByteOrder = binary.NativeEndian

	h := &Header{
		PageSize: pageSize,
		Version:  order.Uint32(page[versionOffset:]),
	}

	if h.Version != Version && bits.ReverseBytes32(h.Version) == Version {
		order = swappedOrder()
		h.Version = Version
		h.ByteSwapped = true
	}

	if h.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}

	h.LastPage = order.Uint32(page[lastPageOffset:])

	nrBad := order.Uint32(page[nrBadOffset:])
	if nrBad > uint32(MaxBadPages(pageSize)) {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyBadPages, nrBad, MaxBadPages(pageSize))
	}

	if nrBad > 0 {
		h.BadPages = make([]uint32, nrBad)
	}

	for i := range h.BadPages {
		v := order.Uint32(page[badPagesOffset+4*i:])

		if v == 0 || v > h.LastPage {
			return nil, fmt.Errorf("%w: %d (last page %d)", ErrBadPageRange, v, h.LastPage)
		}

		h.BadPages[i] = v
	}

	h.UUID, _ = uuid.FromBytes(page[uuidOffset : uuidOffset+16]) //nolint:errcheck

	if lbl := decodeLabel(page[labelOffset : labelOffset+LabelSize]); lbl != "" {
		h.Label = pointer.To(lbl)
	}

	return h, nil
}

var labelSanitizer = runes.Remove(runes.In(unicode.Cc))

func decodeLabel(raw []byte) string {
	if idx := bytes.IndexByte(raw, 0); idx != -1 {
		raw = raw[:idx]
	}

	lbl, _, err := transform.Bytes(labelSanitizer, raw)
	if err != nil {
		return ""
	}

	return string(bytes.TrimSpace(lbl))
}
