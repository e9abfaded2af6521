// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package header

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
)

// Marshal encodes the header into a page of h.PageSize bytes in native byte order.
func (h *Header) Marshal() ([]byte, error) {
	if !validPageSize(h.PageSize) {
		return nil, fmt.Errorf("%w: %d", ErrPageSize, h.PageSize)
	}

	if len(h.BadPages) > MaxBadPages(h.PageSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyBadPages, len(h.BadPages), MaxBadPages(h.PageSize))
	}

	if h.LastPage == 0 {
		return nil, errors.New("swap area needs at least two pages")
	}

	page := make([]byte, h.PageSize)
	order := binary.NativeEndian

	version := h.Version
	if version == 0 {
		version = Version
	}

	order.PutUint32(page[versionOffset:], version)
	order.PutUint32(page[lastPageOffset:], h.LastPage)
	order.PutUint32(page[nrBadOffset:], uint32(len(h.BadPages)))

	copy(page[uuidOffset:], h.UUID[:])

	if h.Label != nil {
		if len(*h.Label) > LabelSize {
			return nil, fmt.Errorf("label %q is longer than %d bytes", *h.Label, LabelSize)
		}

		copy(page[labelOffset:], *h.Label)
	}

	badPages := slices.Clone(h.BadPages)
	slices.Sort(badPages)

	for i, v := range badPages {
		if v == 0 || v > h.LastPage {
			return nil, fmt.Errorf("%w: %d (last page %d)", ErrBadPageRange, v, h.LastPage)
		}

		order.PutUint32(page[badPagesOffset+4*i:], v)
	}

	copy(page[h.PageSize-magicLen:], Magic)

	return page, nil
}

// Write writes the header page at the start of w.
//
// Only the header page is written, the rest of the area is left untouched.
func Write(w io.WriterAt, h *Header) error {
	page, err := h.Marshal()
	if err != nil {
		return err
	}

	if _, err = w.WriteAt(page, 0); err != nil {
		return fmt.Errorf("failed to write swap header: %w", err)
	}

	return nil
}

// Format returns a reader producing a complete swap area of h.Pages() pages:
// the header page followed by zeroed slots.
func Format(h *Header) (io.Reader, error) {
	page, err := h.Marshal()
	if err != nil {
		return nil, err
	}

	rest := int64(h.LastPage) * int64(h.PageSize)

	return io.MultiReader(
		bytes.NewReader(page),
		io.LimitReader(zeroReader{}, rest),
	), nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)

	return len(p), nil
}
