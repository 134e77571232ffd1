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
	"testing"

	"github.com/wasser224/tokenstore/tokens/util"
)

func TestIDAllocator(t *testing.T) {
	a := NewIDAllocator()

	if id := a.Allocate(); id != 0 {
		t.Error("Unexpected id:", id)
		return
	}

	if id := a.Allocate(); id != 1 {
		t.Error("Unexpected id:", id)
		return
	}

	if id := a.Allocate(); id != 2 {
		t.Error("Unexpected id:", id)
		return
	}

	if a.HighID() != 3 {
		t.Error("Unexpected high id:", a.HighID())
		return
	}

	// Freed ids are reused smallest first

	if err := a.Free(2); err != nil {
		t.Error(err)
		return
	}

	if err := a.Free(0); err != nil {
		t.Error(err)
		return
	}

	if a.FreeCount() != 2 {
		t.Error("Unexpected free count:", a.FreeCount())
		return
	}

	if id := a.Allocate(); id != 0 {
		t.Error("Unexpected id:", id)
		return
	}

	if id := a.Allocate(); id != 2 {
		t.Error("Unexpected id:", id)
		return
	}

	if id := a.Allocate(); id != 3 {
		t.Error("Unexpected id:", id)
		return
	}
}

func TestIDAllocatorFreeErrors(t *testing.T) {
	a := NewIDAllocator()

	a.Allocate()

	// Freeing an id which was never allocated must fail

	err := a.Free(5)

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrDoubleFree {
		t.Error("Unexpected free result:", err)
		return
	}

	// Freeing an id twice must fail

	if err := a.Free(0); err != nil {
		t.Error(err)
		return
	}

	err = a.Free(0)

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrDoubleFree {
		t.Error("Unexpected free result:", err)
		return
	}
}

func TestIDAllocatorState(t *testing.T) {
	a := NewIDAllocator()

	for i := 0; i < 5; i++ {
		a.Allocate()
	}

	a.Free(1)
	a.Free(3)

	// Encode the state and restore it into a new allocator

	a2, err := NewIDAllocatorFromState(a.State())
	if err != nil {
		t.Error(err)
		return
	}

	if a2.HighID() != 5 {
		t.Error("Unexpected high id:", a2.HighID())
		return
	}

	if a2.FreeCount() != 2 {
		t.Error("Unexpected free count:", a2.FreeCount())
		return
	}

	if id := a2.Allocate(); id != 1 {
		t.Error("Unexpected id:", id)
		return
	}

	if id := a2.Allocate(); id != 3 {
		t.Error("Unexpected id:", id)
		return
	}

	if id := a2.Allocate(); id != 5 {
		t.Error("Unexpected id:", id)
		return
	}

	if a2.String() != "IDAllocator (high id:6 free:0)" {
		t.Error("Unexpected string representation:", a2.String())
		return
	}
}

func TestIDAllocatorStateErrors(t *testing.T) {

	// A state string must be a multiple of 8 bytes

	_, err := NewIDAllocatorFromState("abc")

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrOpening {
		t.Error("Unexpected state result:", err)
		return
	}

	_, err = NewIDAllocatorFromState("")

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrOpening {
		t.Error("Unexpected state result:", err)
		return
	}

	// A free id beyond the high-water mark indicates a corrupt state

	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data, 2)
	binary.LittleEndian.PutUint64(data[8:], 7)

	_, err = NewIDAllocatorFromState(string(data))

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrOpening {
		t.Error("Unexpected state result:", err)
		return
	}
}

func TestIDAllocatorEnsureHigh(t *testing.T) {
	a := NewIDAllocator()

	a.EnsureHigh(10)

	if a.HighID() != 10 {
		t.Error("Unexpected high id:", a.HighID())
		return
	}

	// The high-water mark is never lowered

	a.EnsureHigh(5)

	if a.HighID() != 10 {
		t.Error("Unexpected high id:", a.HighID())
		return
	}

	if id := a.Allocate(); id != 10 {
		t.Error("Unexpected id:", id)
		return
	}
}
