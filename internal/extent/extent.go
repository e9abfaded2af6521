// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package extent maps swap slots to blocks of the backing store.
package extent

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
)

// ErrHoles is returned when the backing file is not fully allocated.
var ErrHoles = errors.New("swapfile has holes")

// Extent maps a run of slots to contiguous pages of the backing store.
type Extent struct {
	StartPage  uint64
	NrPages    uint64
	StartBlock uint64
}

// End returns the first slot past the extent.
func (e Extent) End() uint64 {
	return e.StartPage + e.NrPages
}

// Run is a physically contiguous range of backing pages.
type Run struct {
	Block uint64
	Pages uint64
}

// BlockMapper translates logical file blocks into backing blocks.
type BlockMapper interface {
	// BlockSize returns the size of a mapping block in bytes.
	BlockSize() uint64
	// MapBlock returns the backing block of the logical block, ok is false for a hole.
	MapBlock(block uint64) (phys uint64, ok bool, err error)
}

// Map is an ordered set of extents covering the usable slots of an area.
//
// Map is immutable after construction except for the lookup cursor,
// so it is safe to use from multiple goroutines.
type Map struct {
	extents []Extent
	cursor  atomic.Int64
}

// NewLinear returns a single extent covering pages slots starting at backing page 0.
func NewLinear(pages uint64) *Map {
	return &Map{
		extents: []Extent{{StartPage: 0, NrPages: pages, StartBlock: 0}},
	}
}

// Build probes mapper page by page for a swap file of fileSize bytes,
// mapping at most maxPages pages.
//
// Pages which are not aligned to pageSize in the backing or not
// contiguous inside the page are skipped, so the resulting map might cover
// fewer pages than requested: Len returns the covered page count.
func Build(mapper BlockMapper, pageSize, fileSize, maxPages uint64) (*Map, error) {
	blockSize := mapper.BlockSize()
	if blockSize == 0 || blockSize > pageSize || pageSize%blockSize != 0 {
		return nil, fmt.Errorf("unsupported block size %d for page size %d", blockSize, pageSize)
	}

	blocksPerPage := pageSize / blockSize

	m := &Map{}

	var (
		probeBlock uint64
		pageNo     uint64
	)

	lastBlock := fileSize / blockSize

	for probeBlock+blocksPerPage <= lastBlock && pageNo < maxPages {
		first, ok, err := mapper.MapBlock(probeBlock)
		if err != nil {
			return nil, fmt.Errorf("failed to map block %d: %w", probeBlock, err)
		}

		if !ok {
			return nil, fmt.Errorf("block %d: %w", probeBlock, ErrHoles)
		}

		if first%blocksPerPage != 0 {
			probeBlock++

			continue
		}

		contiguous := true

		for i := uint64(1); i < blocksPerPage; i++ {
			phys, ok, err := mapper.MapBlock(probeBlock + i)
			if err != nil {
				return nil, fmt.Errorf("failed to map block %d: %w", probeBlock+i, err)
			}

			if !ok {
				return nil, fmt.Errorf("block %d: %w", probeBlock+i, ErrHoles)
			}

			if phys != first+i {
				contiguous = false

				break
			}
		}

		if !contiguous {
			probeBlock++

			continue
		}

		m.add(pageNo, first/blocksPerPage)

		pageNo++
		probeBlock += blocksPerPage
	}

	return m, nil
}

// add appends one page, coalescing with the last extent where possible.
func (m *Map) add(page, block uint64) {
	if n := len(m.extents); n > 0 {
		last := &m.extents[n-1]

		if last.End() == page && last.StartBlock+last.NrPages == block {
			last.NrPages++

			return
		}
	}

	m.extents = append(m.extents, Extent{StartPage: page, NrPages: 1, StartBlock: block})
}

// Len returns the number of pages covered by the map.
func (m *Map) Len() uint64 {
	if len(m.extents) == 0 {
		return 0
	}

	return m.extents[len(m.extents)-1].End()
}

// Extents returns a copy of the extents.
func (m *Map) Extents() []Extent {
	return append([]Extent(nil), m.extents...)
}

// Span returns the lowest and highest backing page used by slots 1 and up.
func (m *Map) Span() (lowest, highest uint64) {
	lowest = ^uint64(0)

	for _, e := range m.extents {
		start, n := e.StartBlock, e.NrPages

		if e.StartPage == 0 {
			if n == 1 {
				continue
			}

			start++
			n--
		}

		lowest = min(lowest, start)
		highest = max(highest, start+n-1)
	}

	if lowest == ^uint64(0) {
		return 0, 0
	}

	return lowest, highest
}

// Translate returns the backing page for a slot.
//
// Sequential lookups hit the cached cursor or the extent right after it.
func (m *Map) Translate(offset uint64) uint64 {
	i := m.lookup(offset)
	e := m.extents[i]

	return e.StartBlock + offset - e.StartPage
}

func (m *Map) lookup(offset uint64) int {
	if offset >= m.Len() {
		panic(fmt.Sprintf("extent: offset %d past the end of the map (%d)", offset, m.Len()))
	}

	cur := int(m.cursor.Load())

	for _, i := range []int{cur, cur + 1} {
		if i < len(m.extents) && m.extents[i].StartPage <= offset && offset < m.extents[i].End() {
			m.cursor.Store(int64(i))

			return i
		}
	}

	i := sort.Search(len(m.extents), func(i int) bool {
		return m.extents[i].End() > offset
	})

	m.cursor.Store(int64(i))

	return i
}

// Runs splits the slots [offset, offset+count) into contiguous backing runs.
func (m *Map) Runs(offset, count uint64) []Run {
	var runs []Run

	for count > 0 {
		e := m.extents[m.lookup(offset)]

		n := min(count, e.End()-offset)
		runs = append(runs, Run{Block: e.StartBlock + offset - e.StartPage, Pages: n})

		offset += n
		count -= n
	}

	return runs
}

// Discarder discards a byte range of the backing store.
type Discarder interface {
	Discard(offset, length uint64) error
}

// Discard issues one discard per backing run of [offset, offset+count).
func (m *Map) Discard(d Discarder, pageSize, offset, count uint64) error {
	for _, r := range m.Runs(offset, count) {
		if err := d.Discard(r.Block*pageSize, r.Pages*pageSize); err != nil {
			return err
		}
	}

	return nil
}

// DiscardAll discards every page except the header page.
func (m *Map) DiscardAll(d Discarder, pageSize uint64) error {
	if m.Len() <= 1 {
		return nil
	}

	return m.Discard(d, pageSize, 1, m.Len()-1)
}
