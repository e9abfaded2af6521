// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package block

import "os"

// Options for NewFromPath.
type Options struct {
	Flag int

	// ExclusiveLock takes an exclusive non-blocking flock on open.
	ExclusiveLock bool
}

// Option configures NewFromPath.
type Option func(*Options)

// OpenForWrite opens the device for reading and writing.
func OpenForWrite() Option {
	return func(o *Options) {
		o.Flag |= os.O_RDWR
	}
}

// OpenExclusive locks the device exclusively after opening it.
//
// Opening fails with ErrLocked if another handle holds a lock.
func OpenExclusive() Option {
	return func(o *Options) {
		o.ExclusiveLock = true
	}
}
