/*
 * TokenStore
 *
 * Copyright 2020 The TokenStore Authors. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package storage

import (
	"bytes"
	"fmt"

	"github.com/wasser224/tokenstore/storage/file"
)

/*
AccessGetError indicates that Get calls for an address should fail
*/
const AccessGetError = 1

/*
AccessReleaseError indicates that ReleaseID calls for an address should fail
*/
const AccessReleaseError = 2

/*
MemoryStorage data structure
*/
type MemoryStorage struct {
	name   string               // Name of the storage
	mainDB map[string]string    // Database storing meta data
	spaces map[string]*MemSpace // Map of record spaces

	RetFlushMain error // Return value for FlushMain calls
}

/*
NewMemoryStorage creates a new MemoryStorage instance. Space data is kept
when a space or the storage is closed which makes it possible to simulate
a restart of a disk-backed store in tests.
*/
func NewMemoryStorage(name string) *MemoryStorage {
	return &MemoryStorage{name, make(map[string]string), make(map[string]*MemSpace), nil}
}

/*
Name returns the name of the MemoryStorage instance.
*/
func (ms *MemoryStorage) Name() string {
	return fmt.Sprint("MemoryStorage:", ms.name)
}

/*
MainDB returns the main database.
*/
func (ms *MemoryStorage) MainDB() map[string]string {
	return ms.mainDB
}

/*
FlushMain writes the main database to the storage.
*/
func (ms *MemoryStorage) FlushMain() error {
	return ms.RetFlushMain
}

/*
Space returns a record space with a certain name. A non-existing space is
created automatically if the create flag is set to true.
*/
func (ms *MemoryStorage) Space(name string, recordSize uint32, create bool) (Space, error) {

	sp, ok := ms.spaces[name]

	if !ok {
		if !create {
			return nil, nil
		}

		sp = NewMemSpace(ms.name+"/"+name, recordSize)
		ms.spaces[name] = sp
	}

	return sp, nil
}

/*
MemSpaceObj returns the raw MemSpace object of a given space. This can be
used by tests to simulate access errors.
*/
func (ms *MemoryStorage) MemSpaceObj(name string) *MemSpace {
	return ms.spaces[name]
}

/*
FlushAll writes all pending changes to the storage.
*/
func (ms *MemoryStorage) FlushAll() error {
	for _, sp := range ms.spaces {
		if err := sp.Flush(); err != nil {
			return err
		}
	}
	return nil
}

/*
Close closes the storage. All space data is kept so the storage can be
reopened.
*/
func (ms *MemoryStorage) Close() error {
	for _, sp := range ms.spaces {
		if err := sp.Close(); err != nil {
			return err
		}
	}
	return nil
}

/*
MemSpace is a memory-only implementation of a record space which provides
several error simulation facilities.
*/
type MemSpace struct {
	name       string                  // Name of the space
	recordSize uint32                  // Size of a record
	data       map[uint64][]byte       // "Durable" record data
	inUse      map[uint64]*file.Record // Records which are currently being modified
	dirty      map[uint64]*file.Record // Modified records waiting to be flushed

	AccessMap map[uint64]int // Special map to simulate access issues
	RetFlush  error          // Return value for Flush calls
	RetSync   error          // Return value for Sync calls
	RetClose  error          // Return value for Close calls
}

/*
NewMemSpace creates a new memory-only record space.
*/
func NewMemSpace(name string, recordSize uint32) *MemSpace {
	return &MemSpace{name, recordSize, make(map[uint64][]byte),
		make(map[uint64]*file.Record), make(map[uint64]*file.Record),
		make(map[uint64]int), nil, nil, nil}
}

/*
Name returns the name of the Space.
*/
func (msp *MemSpace) Name() string {
	return msp.name
}

/*
RecordSize returns the size of records which can be stored or retrieved.
*/
func (msp *MemSpace) RecordSize() uint32 {
	return msp.recordSize
}

/*
NumRecords returns the number of record slots which exist in durable storage.
*/
func (msp *MemSpace) NumRecords() (uint64, error) {
	var max uint64

	for id := range msp.data {
		if id+1 > max {
			max = id + 1
		}
	}

	return max, nil
}

/*
Get returns a record from the space.
*/
func (msp *MemSpace) Get(id uint64) (*file.Record, error) {

	if msp.AccessMap[id] == AccessGetError {
		return nil, NewStorageError(ErrOpening, fmt.Sprint("Record ", id), msp.name)
	}

	if record, ok := msp.dirty[id]; ok {
		delete(msp.dirty, id)
		msp.inUse[id] = record
		return record, nil
	}

	if _, ok := msp.inUse[id]; ok {
		return nil, fmt.Errorf("Record %v is already in-use (%v)", id, msp.name)
	}

	record := file.NewRecord(id, make([]byte, msp.recordSize, msp.recordSize))

	if stored, ok := msp.data[id]; ok {
		copy(record.Data(), stored)
	}

	msp.inUse[id] = record

	return record, nil
}

/*
ReleaseID releases a record given by its id from the in-use map.
*/
func (msp *MemSpace) ReleaseID(id uint64, dirty bool) error {
	record, ok := msp.inUse[id]

	if !ok {
		return fmt.Errorf("Record %v was not in-use (%v)", id, msp.name)
	}

	if msp.AccessMap[id] == AccessReleaseError {
		return NewStorageError(ErrFlushing, fmt.Sprint("Record ", id), msp.name)
	}

	delete(msp.inUse, id)

	if dirty || record.Dirty() {
		msp.dirty[id] = record
	}

	return nil
}

/*
Discard removes a record given by its id without writing it back.
*/
func (msp *MemSpace) Discard(id uint64) {
	delete(msp.inUse, id)
	delete(msp.dirty, id)
}

/*
Flush writes all dirty records to durable storage.
*/
func (msp *MemSpace) Flush() error {

	if msp.RetFlush != nil {
		return msp.RetFlush
	}

	for id, record := range msp.dirty {
		stored := make([]byte, msp.recordSize, msp.recordSize)
		copy(stored, record.Data())
		msp.data[id] = stored
		record.ClearDirty()
		delete(msp.dirty, id)
	}

	return nil
}

/*
Sync ensures all written records have reached durable storage.
*/
func (msp *MemSpace) Sync() error {
	return msp.RetSync
}

/*
Close flushes and closes the space. The durable data is kept.
*/
func (msp *MemSpace) Close() error {

	if msp.RetClose != nil {
		return msp.RetClose
	}

	if err := msp.Flush(); err != nil {
		return err
	}

	msp.inUse = make(map[uint64]*file.Record)

	return nil
}

/*
String returns a string representation of the MemSpace.
*/
func (msp *MemSpace) String() string {
	buf := new(bytes.Buffer)

	buf.WriteString(fmt.Sprintf("MemSpace %v (recordSize:%v)\n", msp.name, msp.recordSize))

	for id, data := range msp.data {
		buf.WriteString(fmt.Sprintf("%v - %v\n", id, data))
	}

	return buf.String()
}
