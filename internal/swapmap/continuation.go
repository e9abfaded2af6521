// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package swapmap

// carry adds one to the continuation chain of off.
//
// continued is false on the first overflow of the primary count, in which
// case the chain starts at digit 1.
func (m *Map) carry(off uint64, continued bool) {
	block, idx := off/ContinuationBlock, off%ContinuationBlock
	pages := m.chains[block]

	if !continued {
		if len(pages) == 0 {
			pages = append(pages, make([]uint8, ContinuationBlock))
		}

		pages[0][idx] = 1
		m.chains[block] = pages

		return
	}

	i := 0
	for pages[i][idx] == ContMax|Continued {
		i++
	}

	if pages[i][idx] == ContMax {
		i++

		if i == len(pages) {
			pages = append(pages, make([]uint8, ContinuationBlock))
		}

		pages[i][idx] = 0
	}

	pages[i][idx]++

	for j := range i {
		pages[j][idx] = Continued
	}

	m.chains[block] = pages
}

// borrow subtracts one from the continuation chain of off.
//
// It reports whether the chain still holds a non-zero value afterwards.
func (m *Map) borrow(off uint64) bool {
	block, idx := off/ContinuationBlock, off%ContinuationBlock
	pages := m.chains[block]

	i := 0
	for pages[i][idx] == Continued {
		i++
	}

	pages[i][idx]--

	flag := Continued
	if pages[i][idx] == 0 {
		flag = 0
	}

	for j := i - 1; j >= 0; j-- {
		pages[j][idx] = ContMax | flag
		flag = Continued
	}

	m.trim(block)

	return flag == Continued
}

// trim drops empty trailing pages of a chain.
func (m *Map) trim(block uint64) {
	pages := m.chains[block]

	for len(pages) > 0 && isZero(pages[len(pages)-1]) {
		pages = pages[:len(pages)-1]
	}

	if len(pages) == 0 {
		delete(m.chains, block)

		return
	}

	m.chains[block] = pages
}

func isZero(page []uint8) bool {
	for _, b := range page {
		if b != 0 {
			return false
		}
	}

	return true
}
