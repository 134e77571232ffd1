/*
 * TokenStore
 *
 * Copyright 2020 The TokenStore Authors. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package tokens

import (
	"encoding/binary"
	"fmt"

	"devt.de/krotik/common/sortutil"
	"github.com/wasser224/tokenstore/tokens/util"
)

/*
IDAllocator hands out unique record ids. Freed ids are reused before the
high-water mark is advanced. The allocator state can be encoded into a
string for checkpointing in the main database and restored after a
restart.
*/
type IDAllocator struct {
	highID uint64          // High-water mark - always greater than the largest issued id
	free   map[uint64]bool // Set of freed ids available for reuse
}

/*
NewIDAllocator creates a new id allocator.
*/
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{0, make(map[uint64]bool)}
}

/*
NewIDAllocatorFromState creates a new id allocator from a checkpointed
state string.
*/
func NewIDAllocatorFromState(state string) (*IDAllocator, error) {
	data := []byte(state)

	if len(data) < 8 || len(data)%8 != 0 {
		return nil, &util.TokenError{Type: util.ErrOpening,
			Detail: fmt.Sprintf("Invalid allocator state of %v bytes", len(data))}
	}

	alloc := NewIDAllocator()
	alloc.highID = binary.LittleEndian.Uint64(data)

	for pos := 8; pos < len(data); pos += 8 {
		id := binary.LittleEndian.Uint64(data[pos:])

		if id >= alloc.highID {
			return nil, &util.TokenError{Type: util.ErrOpening,
				Detail: fmt.Sprintf("Free id %v is beyond the high-water mark %v",
					id, alloc.highID)}
		}

		alloc.free[id] = true
	}

	return alloc, nil
}

/*
Allocate returns a new record id. Freed ids are reused first, otherwise the
high-water mark is returned and advanced.
*/
func (a *IDAllocator) Allocate() uint64 {

	if len(a.free) > 0 {

		// Reuse the smallest freed id to keep the id space dense

		var min uint64
		first := true

		for id := range a.free {
			if first || id < min {
				min = id
				first = false
			}
		}

		delete(a.free, min)

		return min
	}

	id := a.highID
	a.highID++

	return id
}

/*
Free releases a previously allocated id for reuse.
*/
func (a *IDAllocator) Free(id uint64) error {

	if id >= a.highID {
		return &util.TokenError{Type: util.ErrDoubleFree,
			Detail: fmt.Sprintf("Id %v was never allocated", id)}
	}

	if a.free[id] {
		return &util.TokenError{Type: util.ErrDoubleFree,
			Detail: fmt.Sprintf("Id %v", id)}
	}

	a.free[id] = true

	return nil
}

/*
HighID returns the current high-water mark.
*/
func (a *IDAllocator) HighID() uint64 {
	return a.highID
}

/*
FreeCount returns the number of ids which are available for reuse.
*/
func (a *IDAllocator) FreeCount() int {
	return len(a.free)
}

/*
EnsureHigh raises the high-water mark to a given value. The mark is never
lowered. This is used to correct a stale checkpointed state with the
result of a store scan.
*/
func (a *IDAllocator) EnsureHigh(high uint64) {
	if high > a.highID {
		a.highID = high
	}
}

/*
State encodes the allocator state into a string for checkpointing.
*/
func (a *IDAllocator) State() string {
	data := make([]byte, 8+8*len(a.free))

	binary.LittleEndian.PutUint64(data, a.highID)

	var ids []uint64
	for id := range a.free {
		ids = append(ids, id)
	}
	sortutil.UInt64s(ids)

	for i, id := range ids {
		binary.LittleEndian.PutUint64(data[8+8*i:], id)
	}

	return string(data)
}

/*
String returns a string representation of the allocator.
*/
func (a *IDAllocator) String() string {
	return fmt.Sprintf("IDAllocator (high id:%v free:%v)", a.highID, len(a.free))
}
