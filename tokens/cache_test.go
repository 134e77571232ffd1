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
	"fmt"
	"testing"

	"github.com/wasser224/tokenstore/storage"
	"github.com/wasser224/tokenstore/tokens/util"
)

func TestCacheLookup(t *testing.T) {
	c := NewCache()

	if c.Count() != 0 {
		t.Error("Unexpected count:", c.Count())
		return
	}

	if err := c.Insert(0, "age"); err != nil {
		t.Error(err)
		return
	}

	if err := c.Insert(1, "name"); err != nil {
		t.Error(err)
		return
	}

	if id, ok := c.LookupName("age"); !ok || id != 0 {
		t.Error("Unexpected lookup result:", id, ok)
		return
	}

	if name, ok := c.LookupID(1); !ok || name != "name" {
		t.Error("Unexpected lookup result:", name, ok)
		return
	}

	if _, ok := c.LookupName("unknown"); ok {
		t.Error("Unknown name should not be found")
		return
	}

	if _, ok := c.LookupID(99); ok {
		t.Error("Unknown id should not be found")
		return
	}

	if c.Count() != 2 {
		t.Error("Unexpected count:", c.Count())
		return
	}

	// Inserting the same binding again is fine

	if err := c.Insert(0, "age"); err != nil {
		t.Error(err)
		return
	}

	if c.Count() != 2 {
		t.Error("Unexpected count:", c.Count())
		return
	}
}

func TestCacheConflicts(t *testing.T) {
	c := NewCache()

	if err := c.Insert(0, "age"); err != nil {
		t.Error(err)
		return
	}

	// A name must never be bound to a second id

	err := c.Insert(1, "age")

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrConflict {
		t.Error("Unexpected insert result:", err)
		return
	}

	// An id must never be bound to a second name

	err = c.Insert(0, "name")

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrConflict {
		t.Error("Unexpected insert result:", err)
		return
	}
}

func TestCacheTokens(t *testing.T) {
	c := NewCache()

	c.Insert(2, "c")
	c.Insert(0, "a")
	c.Insert(1, "b")

	// Tokens are returned in ascending id order

	if res := fmt.Sprint(c.Tokens()); res != "[{0 a} {1 b} {2 c}]" {
		t.Error("Unexpected tokens:", res)
		return
	}
}

func TestCacheRebuild(t *testing.T) {
	ms := storage.NewMemoryStorage("cachetest")

	rs, err := openRecordStore(ms, testMaxNameLength)
	if err != nil {
		t.Error(err)
		return
	}

	for _, name := range []string{"age", "name", "email"} {
		if _, err := rs.AllocateAndWrite(name); err != nil {
			t.Error(err)
			return
		}
	}

	c := NewCache()

	// Stale entries are dropped by the rebuild

	c.Insert(77, "stale")

	if err := c.Rebuild(rs); err != nil {
		t.Error(err)
		return
	}

	if res := fmt.Sprint(c.Tokens()); res != "[{0 age} {1 name} {2 email}]" {
		t.Error("Unexpected tokens:", res)
		return
	}
}
