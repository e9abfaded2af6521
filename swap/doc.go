// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package swap manages swap areas: slot allocation, per-slot reference
// counts and the activation and deactivation of swap files and partitions.
//
// A Registry holds up to MaxAreas active areas ordered by priority. Slots are
// handed out from the highest priority area with free space, areas of equal
// priority are used round-robin. Deactivating an area drains every slot in
// use back into memory through the PageTableWalker and SwapCache
// collaborators before the backing is released.
package swap
