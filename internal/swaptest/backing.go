// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package swaptest provides in-memory backings and collaborators for testing swap areas.
package swaptest

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/siderolabs/go-pointer"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-swap/backing"
	"github.com/siderolabs/go-swap/header"
)

// PageSize is the page size of the images built by Image.
const PageSize = 4096

// Image returns a formatted swap area of the given number of pages.
func Image(t testing.TB, pages int, badPages ...uint32) []byte {
	t.Helper()

	r, err := header.Format(&header.Header{
		PageSize: PageSize,
		Version:  header.Version,
		LastPage: uint32(pages - 1),
		BadPages: badPages,
		UUID:     uuid.New(),
		Label:    pointer.To("swaptest"),
	})
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)

	return data
}

// Memory is a swap file kept in memory.
type Memory struct {
	mu     sync.Mutex
	data   []byte
	path   string
	freed  []uint64
	closed bool
}

// NewMemory wraps data as a backing.
func NewMemory(path string, data []byte) *Memory {
	return &Memory{
		path: path,
		data: data,
	}
}

// ReadAt implements io.ReaderAt.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return bytes.NewReader(m.data).ReadAt(p, off)
}

// WriteAt implements io.WriterAt.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("write past the end of the backing: %d+%d", off, len(p))
	}

	return copy(m.data[off:], p), nil
}

// Path implements backing.Backing.
func (m *Memory) Path() string {
	return m.path
}

// Kind implements backing.Backing.
func (m *Memory) Kind() backing.Kind {
	return backing.KindFile
}

// Size implements backing.Backing.
func (m *Memory) Size() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return uint64(len(m.data)), nil
}

// Identity implements backing.Backing.
func (m *Memory) Identity() string {
	return "mem:" + m.path
}

// Close implements backing.Backing.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}

// Closed reports whether Close was called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

// SlotFreed implements backing.SlotFreeNotifier.
func (m *Memory) SlotFreed(offset uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.freed = append(m.freed, offset)
}

// Freed returns the slots reported free so far.
func (m *Memory) Freed() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.freed)
}

// Range is a discarded byte range.
type Range struct {
	Offset, Length uint64
}

// SolidState is a non-rotating Memory backing supporting discards.
type SolidState struct {
	*Memory

	discardMu sync.Mutex
	discards  []Range
}

// NewSolidState wraps data as a solid state backing.
func NewSolidState(path string, data []byte) *SolidState {
	return &SolidState{
		Memory: NewMemory(path, data),
	}
}

// SolidState implements backing.SolidStater.
func (s *SolidState) SolidState() bool {
	return true
}

// Discard implements backing.Discarder.
func (s *SolidState) Discard(offset, length uint64) error {
	s.discardMu.Lock()
	defer s.discardMu.Unlock()

	s.discards = append(s.discards, Range{Offset: offset, Length: length})

	return nil
}

// Discards returns the discarded ranges so far.
func (s *SolidState) Discards() []Range {
	s.discardMu.Lock()
	defer s.discardMu.Unlock()

	return slices.Clone(s.discards)
}

// Mapped is a Memory backing whose blocks map to physical blocks through a table.
type Mapped struct {
	*Memory

	blockSize uint64
	blocks    map[uint64]uint64
}

// NewMapped wraps data as a backing laid out on disk per blocks, missing blocks are holes.
func NewMapped(path string, data []byte, blockSize uint64, blocks map[uint64]uint64) *Mapped {
	return &Mapped{
		Memory:    NewMemory(path, data),
		blockSize: blockSize,
		blocks:    blocks,
	}
}

// BlockSize implements backing.BlockMapper.
func (m *Mapped) BlockSize() uint64 {
	return m.blockSize
}

// MapBlock implements backing.BlockMapper.
func (m *Mapped) MapBlock(block uint64) (uint64, bool, error) {
	phys, ok := m.blocks[block]

	return phys, ok, nil
}

var (
	_ backing.Backing          = (*Memory)(nil)
	_ backing.SlotFreeNotifier = (*Memory)(nil)
	_ backing.Discarder        = (*SolidState)(nil)
	_ backing.SolidStater      = (*SolidState)(nil)
	_ backing.BlockMapper      = (*Mapped)(nil)
)
