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
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"testing"

	"devt.de/krotik/common/fileutil"
	"github.com/wasser224/tokenstore/storage"
	"github.com/wasser224/tokenstore/tokens/util"
)

const DBDir = "tokenstest"

const testMaxNameLength = 16384

func TestMain(m *testing.M) {
	flag.Parse()

	// Setup
	if res, _ := fileutil.PathExists(DBDir); res {
		os.RemoveAll(DBDir)
	}

	err := os.Mkdir(DBDir, 0770)
	if err != nil {
		fmt.Print("Could not create test directory:", err.Error())
		os.Exit(1)
	}

	// Run the tests
	res := m.Run()

	// Teardown
	err = os.RemoveAll(DBDir)
	if err != nil {
		fmt.Print("Could not remove test directory:", err.Error())
	}

	os.Exit(res)
}

func TestRecordStoreOpen(t *testing.T) {
	ms := storage.NewMemoryStorage("rstest")

	rs, err := openRecordStore(ms, testMaxNameLength)
	if err != nil {
		t.Error(err)
		return
	}

	// The version is written on first open

	if ms.MainDB()[MainDBVersion] != "1" {
		t.Error("Unexpected version entry:", ms.MainDB())
		return
	}

	if err := rs.Close(); err != nil {
		t.Error(err)
		return
	}

	// Opening a store with a newer version must fail

	ms.MainDB()[MainDBVersion] = "42"

	_, err = openRecordStore(ms, testMaxNameLength)

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrOpening {
		t.Error("Unexpected open result:", err)
		return
	}
}

func TestRecordStoreInlineNames(t *testing.T) {
	ms := storage.NewMemoryStorage("rstest2")

	rs, err := openRecordStore(ms, testMaxNameLength)
	if err != nil {
		t.Error(err)
		return
	}

	id, err := rs.AllocateAndWrite("age")
	if err != nil {
		t.Error(err)
		return
	}

	if id != 0 {
		t.Error("Unexpected id:", id)
		return
	}

	id, err = rs.AllocateAndWrite("name")
	if err != nil {
		t.Error(err)
		return
	}

	if id != 1 {
		t.Error("Unexpected id:", id)
		return
	}

	if name, err := rs.ReadName(0); err != nil || name != "age" {
		t.Error("Unexpected read result:", name, err)
		return
	}

	if name, err := rs.ReadName(1); err != nil || name != "name" {
		t.Error("Unexpected read result:", name, err)
		return
	}

	// Short names must not use any dynamic records

	if rs.dynamicAlloc.HighID() != 0 {
		t.Error("Unexpected dynamic high id:", rs.dynamicAlloc.HighID())
		return
	}

	// Reading a record which is not in use must fail

	_, err = rs.ReadName(5)

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrNotFound {
		t.Error("Unexpected read result:", err)
		return
	}
}

func TestRecordStoreDynamicNames(t *testing.T) {
	ms := storage.NewMemoryStorage("rstest3")

	rs, err := openRecordStore(ms, testMaxNameLength)
	if err != nil {
		t.Error(err)
		return
	}

	// A name which does not fit inline is stored in a chain of
	// dynamic records

	longName := strings.Repeat("n", DynamicPayloadSize*2+10)

	id, err := rs.AllocateAndWrite(longName)
	if err != nil {
		t.Error(err)
		return
	}

	if name, err := rs.ReadName(id); err != nil || name != longName {
		t.Error("Unexpected read result:", err)
		return
	}

	if rs.dynamicAlloc.HighID() != 3 {
		t.Error("Unexpected dynamic high id:", rs.dynamicAlloc.HighID())
		return
	}

	// A name of exactly inline size is still stored inline

	inlineName := strings.Repeat("i", InlineNameSize)

	id, err = rs.AllocateAndWrite(inlineName)
	if err != nil {
		t.Error(err)
		return
	}

	if name, err := rs.ReadName(id); err != nil || name != inlineName {
		t.Error("Unexpected read result:", err)
		return
	}

	if rs.dynamicAlloc.HighID() != 3 {
		t.Error("Unexpected dynamic high id:", rs.dynamicAlloc.HighID())
		return
	}

	// One byte more and the name moves to a dynamic chain

	id, err = rs.AllocateAndWrite(inlineName + "i")
	if err != nil {
		t.Error(err)
		return
	}

	if name, err := rs.ReadName(id); err != nil || name != inlineName+"i" {
		t.Error("Unexpected read result:", err)
		return
	}

	if rs.dynamicAlloc.HighID() != 5 {
		t.Error("Unexpected dynamic high id:", rs.dynamicAlloc.HighID())
		return
	}
}

func TestRecordStoreScan(t *testing.T) {
	ms := storage.NewMemoryStorage("rstest4")

	rs, err := openRecordStore(ms, testMaxNameLength)
	if err != nil {
		t.Error(err)
		return
	}

	names := []string{"age", strings.Repeat("l", 200), "name"}

	for _, name := range names {
		if _, err := rs.AllocateAndWrite(name); err != nil {
			t.Error(err)
			return
		}
	}

	var scanned []string

	err = rs.Scan(func(id uint64, name string) error {
		scanned = append(scanned, fmt.Sprintf("%v:%v", id, name))
		return nil
	})

	if err != nil {
		t.Error(err)
		return
	}

	if fmt.Sprint(scanned) != fmt.Sprintf("[0:age 1:%v 2:name]", names[1]) {
		t.Error("Unexpected scan result:", scanned)
		return
	}

	// Errors of the visit function abort the scan

	testErr := errors.New("testerror")

	err = rs.Scan(func(id uint64, name string) error {
		return testErr
	})

	if err != testErr {
		t.Error("Unexpected scan result:", err)
		return
	}
}

func TestRecordStoreScanReconciliation(t *testing.T) {
	ms := storage.NewMemoryStorage("rstest5")

	rs, err := openRecordStore(ms, testMaxNameLength)
	if err != nil {
		t.Error(err)
		return
	}

	longName := strings.Repeat("r", 200)

	for _, name := range []string{"age", "name", longName} {
		if _, err := rs.AllocateAndWrite(name); err != nil {
			t.Error(err)
			return
		}
	}

	if err := rs.Close(); err != nil {
		t.Error(err)
		return
	}

	// Remove the checkpointed allocator states - this simulates a crash
	// before the checkpoint was written

	delete(ms.MainDB(), MainDBTokenAlloc)
	delete(ms.MainDB(), MainDBNameAlloc)

	rs, err = openRecordStore(ms, testMaxNameLength)
	if err != nil {
		t.Error(err)
		return
	}

	// The freshly opened store has no idea about the allocated ids yet

	if rs.primaryAlloc.HighID() != 0 {
		t.Error("Unexpected primary high id:", rs.primaryAlloc.HighID())
		return
	}

	// The scan must reconcile the allocators with the actual records

	count := 0

	err = rs.Scan(func(id uint64, name string) error {
		count++
		return nil
	})

	if err != nil {
		t.Error(err)
		return
	}

	if count != 3 {
		t.Error("Unexpected number of scanned records:", count)
		return
	}

	if rs.primaryAlloc.HighID() != 3 {
		t.Error("Unexpected primary high id:", rs.primaryAlloc.HighID())
		return
	}

	if rs.dynamicAlloc.HighID() != 4 {
		t.Error("Unexpected dynamic high id:", rs.dynamicAlloc.HighID())
		return
	}

	// A new name must not collide with any existing record

	id, err := rs.AllocateAndWrite("newname")
	if err != nil {
		t.Error(err)
		return
	}

	if id != 3 {
		t.Error("Unexpected id:", id)
		return
	}

	for i, expected := range []string{"age", "name", longName, "newname"} {
		if name, err := rs.ReadName(uint64(i)); err != nil || name != expected {
			t.Error("Unexpected read result:", name, err)
			return
		}
	}
}

func TestRecordStoreWriteErrors(t *testing.T) {
	ms := storage.NewMemoryStorage("rstest6")

	rs, err := openRecordStore(ms, testMaxNameLength)
	if err != nil {
		t.Error(err)
		return
	}

	if _, err := rs.AllocateAndWrite("age"); err != nil {
		t.Error(err)
		return
	}

	// Simulate a failing record access for the next primary id

	msp := ms.MemSpaceObj(SpaceNameTokens)

	msp.AccessMap[1] = storage.AccessGetError

	_, err = rs.AllocateAndWrite("fail")

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrIO {
		t.Error("Unexpected write result:", err)
		return
	}

	delete(msp.AccessMap, 1)

	// The failed write leaves a permanent gap in the id space

	id, err := rs.AllocateAndWrite("name")
	if err != nil {
		t.Error(err)
		return
	}

	if id != 2 {
		t.Error("Unexpected id:", id)
		return
	}

	// Simulate a failing flush

	testErr := errors.New("testerror")

	msp.RetFlush = testErr

	_, err = rs.AllocateAndWrite("fail2")

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrIO {
		t.Error("Unexpected write result:", err)
		return
	}

	msp.RetFlush = nil

	// The record of the failed attempt was discarded - the retry gets a
	// fresh id and the abandoned id must never surface as an in-use record

	id, err = rs.AllocateAndWrite("fail2")
	if err != nil {
		t.Error(err)
		return
	}

	if id != 4 {
		t.Error("Unexpected id:", id)
		return
	}

	var scanned []string

	err = rs.Scan(func(id uint64, name string) error {
		scanned = append(scanned, fmt.Sprintf("%v:%v", id, name))
		return nil
	})

	if err != nil {
		t.Error(err)
		return
	}

	if fmt.Sprint(scanned) != "[0:age 2:name 4:fail2]" {
		t.Error("Unexpected scan result:", scanned)
		return
	}

	// The store must reopen cleanly with the gaps intact

	if err := rs.Close(); err != nil {
		t.Error(err)
		return
	}

	rs, err = openRecordStore(ms, testMaxNameLength)
	if err != nil {
		t.Error(err)
		return
	}

	if name, err := rs.ReadName(4); err != nil || name != "fail2" {
		t.Error("Unexpected read result:", name, err)
		return
	}

	_, err = rs.ReadName(3)

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrNotFound {
		t.Error("Unexpected read result:", err)
		return
	}
}

func TestRecordStoreChainWriteErrors(t *testing.T) {
	ms := storage.NewMemoryStorage("rstest7")

	rs, err := openRecordStore(ms, testMaxNameLength)
	if err != nil {
		t.Error(err)
		return
	}

	longName := strings.Repeat("c", 200)

	// Simulate a failing record access for the first chain record

	msp := ms.MemSpaceObj(SpaceNameNames)

	msp.AccessMap[0] = storage.AccessGetError

	_, err = rs.AllocateAndWrite(longName)

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrIO {
		t.Error("Unexpected write result:", err)
		return
	}

	delete(msp.AccessMap, 0)

	// The retry gets fresh ids for the primary record and the chain

	id, err := rs.AllocateAndWrite(longName)
	if err != nil {
		t.Error(err)
		return
	}

	if id != 1 {
		t.Error("Unexpected id:", id)
		return
	}

	if name, err := rs.ReadName(id); err != nil || name != longName {
		t.Error("Unexpected read result:", name, err)
		return
	}

	// A failing release of a chain record discards the partially
	// written chain

	msp.AccessMap[8] = storage.AccessReleaseError

	_, err = rs.AllocateAndWrite(longName + "x")

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrIO {
		t.Error("Unexpected write result:", err)
		return
	}

	delete(msp.AccessMap, 8)

	id, err = rs.AllocateAndWrite(longName + "x")
	if err != nil {
		t.Error(err)
		return
	}

	if id != 3 {
		t.Error("Unexpected id:", id)
		return
	}

	if name, err := rs.ReadName(id); err != nil || name != longName+"x" {
		t.Error("Unexpected read result:", name, err)
		return
	}

	// Nothing of the failed attempts was written

	count := 0

	if err := rs.Scan(func(id uint64, name string) error {
		count++
		return nil
	}); err != nil {
		t.Error(err)
		return
	}

	if count != 2 {
		t.Error("Unexpected number of scanned records:", count)
		return
	}
}

func TestRecordStoreReleaseErrors(t *testing.T) {
	ms := storage.NewMemoryStorage("rstest8")

	rs, err := openRecordStore(ms, testMaxNameLength)
	if err != nil {
		t.Error(err)
		return
	}

	if _, err := rs.AllocateAndWrite("age"); err != nil {
		t.Error(err)
		return
	}

	// A failing release during a direct read is reported

	ms.MemSpaceObj(SpaceNameTokens).AccessMap[0] = storage.AccessReleaseError

	_, err = rs.ReadName(0)

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrIO {
		t.Error("Unexpected read result:", err)
		return
	}

	// A failing release during a scan is reported

	ms = storage.NewMemoryStorage("rstest9")

	rs, err = openRecordStore(ms, testMaxNameLength)
	if err != nil {
		t.Error(err)
		return
	}

	if _, err := rs.AllocateAndWrite("age"); err != nil {
		t.Error(err)
		return
	}

	ms.MemSpaceObj(SpaceNameTokens).AccessMap[0] = storage.AccessReleaseError

	err = rs.Scan(func(id uint64, name string) error {
		return nil
	})

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrIO {
		t.Error("Unexpected scan result:", err)
		return
	}

	// A failing release of a chain record during a read is reported

	ms = storage.NewMemoryStorage("rstest10")

	rs, err = openRecordStore(ms, testMaxNameLength)
	if err != nil {
		t.Error(err)
		return
	}

	id, err := rs.AllocateAndWrite(strings.Repeat("d", 200))
	if err != nil {
		t.Error(err)
		return
	}

	ms.MemSpaceObj(SpaceNameNames).AccessMap[0] = storage.AccessReleaseError

	_, err = rs.ReadName(id)

	if te, ok := err.(*util.TokenError); !ok || te.Type != util.ErrIO {
		t.Error("Unexpected read result:", err)
		return
	}
}
