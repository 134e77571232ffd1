/*
 * TokenStore
 *
 * Copyright 2020 The TokenStore Authors. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package storage contains the storage backend abstraction for the token store.

There are two main storage objects: DiskStorage which provides disk storage
and MemoryStorage which provides memory-only storage.

A Storage hands out Space objects. A Space is a logical table of fixed size
records which can be read, modified and durably flushed. Higher level
components are implemented purely in terms of these two interfaces which
makes it possible to run them against a fast in-memory fake in tests and a
real disk representation in production.
*/
package storage

import "github.com/wasser224/tokenstore/storage/file"

/*
Space models a logical table of fixed size records.
*/
type Space interface {

	/*
	   Name returns the name of the Space.
	*/
	Name() string

	/*
	   RecordSize returns the size of records which can be stored or retrieved.
	*/
	RecordSize() uint32

	/*
		NumRecords returns the number of record slots which exist in
		durable storage.
	*/
	NumRecords() (uint64, error)

	/*
		Get returns a record from the space. The record is flagged as
		in-use until it is released.
	*/
	Get(id uint64) (*file.Record, error)

	/*
		ReleaseID releases a record given by its id from the in-use map.
		The client code may indicate if the record is not dirty.
	*/
	ReleaseID(id uint64, dirty bool) error

	/*
		Discard removes a record given by its id without writing it back.
		Pending changes of the record are lost.
	*/
	Discard(id uint64)

	/*
	   Flush writes all dirty records to durable storage.
	*/
	Flush() error

	/*
	   Sync ensures all written records have reached durable storage.
	*/
	Sync() error

	/*
	   Close flushes and closes the space.
	*/
	Close() error
}

/*
Storage interface models the storage backend for a token registry.
*/
type Storage interface {

	/*
	   Name returns the name of the Storage instance.
	*/
	Name() string

	/*
		MainDB returns the main database. The main database is a quick
		lookup map for meta data which is always kept in memory.
	*/
	MainDB() map[string]string

	/*
	   FlushMain writes the main database to the storage.
	*/
	FlushMain() error

	/*
		Space returns a record space with a certain name. A non-existing
		space is created automatically if the create flag is set to true.
	*/
	Space(name string, recordSize uint32, create bool) (Space, error)

	/*
	   FlushAll writes all pending changes to the storage.
	*/
	FlushAll() error

	/*
		Close closes the storage.
	*/
	Close() error
}
