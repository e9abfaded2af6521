// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package magic implements signature lookup at fixed offsets.
package magic

import (
	"bytes"
	"errors"
	"io"
)

// Magic defines a signature value located at a fixed offset.
type Magic struct {
	// Value to search for.
	Value []byte

	// Offset in the file where the magic value is located.
	Offset int
}

// Matches returns true if the magic value is found at the specified offset in the buffer.
func (magic *Magic) Matches(buf []byte) bool {
	if len(buf) < magic.Offset+len(magic.Value) {
		return false
	}

	return bytes.Equal(buf[magic.Offset:magic.Offset+len(magic.Value)], magic.Value)
}

// BlockSize returns the size of the buffer that needs to be read from the disk to detect the magic value.
func (magic *Magic) BlockSize() int {
	return magic.Offset + len(magic.Value)
}

// Search reads just enough of r to check every magic and returns the first one that matches.
//
// Magics beyond the end of r are ignored, so a short source only fails when nothing matches.
func Search(r io.ReaderAt, magics []*Magic) (*Magic, bool, error) {
	size := 0

	for _, m := range magics {
		size = max(size, m.BlockSize())
	}

	buf := make([]byte, size)

	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}

	buf = buf[:n]

	for _, m := range magics {
		if m.Matches(buf) {
			return m, true, nil
		}
	}

	return nil, false, nil
}
