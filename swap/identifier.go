// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package swap

import "fmt"

// MaxAreas is the number of swap types.
const MaxAreas = 32

const (
	typeBits   = 5
	offsetBits = 64 - typeBits

	// MaxOffset is the largest slot offset an Identifier can carry.
	MaxOffset = 1<<offsetBits - 1
)

// Identifier names one slot of one swap area.
type Identifier struct {
	Type   int
	Offset uint64
}

// Encode packs the identifier into a single word, the type in the top bits.
func (id Identifier) Encode() uint64 {
	return uint64(id.Type)<<offsetBits | id.Offset&MaxOffset
}

// DecodeIdentifier unpacks a word produced by Encode.
func DecodeIdentifier(v uint64) Identifier {
	return Identifier{
		Type:   int(v >> offsetBits),
		Offset: v & MaxOffset,
	}
}

func (id Identifier) String() string {
	return fmt.Sprintf("%d:%d", id.Type, id.Offset)
}
