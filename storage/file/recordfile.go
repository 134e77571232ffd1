/*
 * TokenStore
 *
 * Copyright 2020 The TokenStore Authors. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package file

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"devt.de/krotik/common/sortutil"
)

/*
Common record file related errors. Having these global definitions
makes the error comparison easier but has potential race-conditions.
If two RecordFile objects throw an error at the same time both errors
will appear to come from the same instance.
*/
var (
	ErrAlreadyInUse = newRecordFileError("Record is already in-use")
	ErrNotInUse     = newRecordFileError("Record was not in-use")
	ErrInUse        = newRecordFileError("Records are still in-use")
	ErrNilData      = newRecordFileError("Record has nil data")
)

/*
DefaultRecordSize is the default size of a record in bytes
*/
const DefaultRecordSize = 64

/*
DefaultFileSize is the default size of a physical file (10GB)
*/
const DefaultFileSize = 0x2540BE401 // 10000000001 Bytes

/*
RecordFile data structure
*/
type RecordFile struct {
	name        string // Name of the record file
	recordSize  uint32 // Size of a record
	maxFileSize uint64 // Max size of a physical file on disk

	free  map[uint64]*Record // Records which are in memory and not in use
	inUse map[uint64]*Record // Records which are currently being modified
	dirty map[uint64]*Record // Modified records waiting to be written

	files []*os.File // List of physical files
}

/*
NewDefaultRecordFile creates a new record file with default record size and
returns a reference to it.
*/
func NewDefaultRecordFile(name string) (*RecordFile, error) {
	return NewRecordFile(name, DefaultRecordSize)
}

/*
NewRecordFile creates a new record file and returns a reference to it.
*/
func NewRecordFile(name string, recordSize uint32) (*RecordFile, error) {
	maxFileSize := DefaultFileSize - DefaultFileSize%uint64(recordSize)

	ret := &RecordFile{name, recordSize, maxFileSize, make(map[uint64]*Record),
		make(map[uint64]*Record), make(map[uint64]*Record), make([]*os.File, 0)}

	_, err := ret.getFile(0)

	if err != nil {
		return nil, err
	}

	return ret, nil
}

/*
Name returns the name of this record file.
*/
func (rf *RecordFile) Name() string {
	return rf.name
}

/*
RecordSize returns the size of records which can be stored or retrieved.
*/
func (rf *RecordFile) RecordSize() uint32 {
	return rf.recordSize
}

/*
NumRecords returns the number of record slots which exist in durable
storage. The count is always derived from the physical file sizes and
never from in-memory state.
*/
func (rf *RecordFile) NumRecords() (uint64, error) {
	var total uint64

	for i := 0; ; i++ {
		fi, err := os.Stat(fmt.Sprintf("%s.%d", rf.name, i))

		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			return 0, err
		}

		total += uint64(fi.Size()) / uint64(rf.recordSize)
	}

	return total, nil
}

/*
Get returns a record from the file. Other components can write to this record.
Any write operation should set the dirty flag on the record. Dirty records will
be written back to disk when the file is flushed after which the dirty flag is
cleared. Get returns an error if a record is requested which is still in-use.
*/
func (rf *RecordFile) Get(id uint64) (*Record, error) {
	var record *Record

	// Check if the record is in one of the caches

	if record, ok := rf.dirty[id]; ok {
		delete(rf.dirty, id)
		rf.inUse[id] = record
		return record, nil
	}

	if record, ok := rf.free[id]; ok {
		delete(rf.free, id)
		rf.inUse[id] = record
		return record, nil
	}

	// Error if a record which is in-use is requested again before it is released

	if _, ok := rf.inUse[id]; ok {
		return nil, ErrAlreadyInUse.fireError(rf, fmt.Sprintf("Record %v", id))
	}

	// Read the record in from file

	record = rf.createRecord(id)
	err := rf.readRecord(record)

	if err != nil {
		return nil, err
	}

	rf.inUse[id] = record

	return record, nil
}

/*
getFile gets a physical file for a specific offset.
*/
func (rf *RecordFile) getFile(offset uint64) (*os.File, error) {

	filenumber := int(offset / rf.maxFileSize)

	// Make sure the index exists which we want to use.
	// Fill all previous positions up with nil pointers if they don't exist.

	for i := len(rf.files); i <= filenumber; i++ {
		rf.files = append(rf.files, nil)
	}

	var ret *os.File

	if len(rf.files) > filenumber {
		ret = rf.files[filenumber]
	}

	if ret == nil {

		// Important not to have os.O_APPEND since we really want
		// to have random access to the file.

		filename := fmt.Sprintf("%s.%d", rf.name, filenumber)

		file, err := os.OpenFile(filename, os.O_CREATE|os.O_RDWR, 0660)
		if err != nil {
			return nil, err
		}

		rf.files[filenumber] = file
		ret = file
	}

	return ret, nil
}

/*
createRecord creates a new record - either from the free cache or newly created.
*/
func (rf *RecordFile) createRecord(id uint64) *Record {
	var record *Record

	if len(rf.free) != 0 {
		var rkey uint64

		for rkey, record = range rf.free {
			break
		}
		delete(rf.free, rkey)

		// NOTE At this point the free record contains
		// still old data. It is expected that the following
		// readRecord operation will overwrite the data.
	}

	if record == nil {
		record = NewRecord(id, make([]byte, rf.recordSize, rf.recordSize))
	}

	record.SetID(id)
	record.ClearDirty()

	return record
}

/*
writeRecord writes a record to disk.
*/
func (rf *RecordFile) writeRecord(record *Record) error {
	data := record.Data()

	if data == nil {
		return ErrNilData.fireError(rf, fmt.Sprintf("Record %v", record.ID()))
	}

	offset := record.ID() * uint64(rf.recordSize)

	file, err := rf.getFile(offset)
	if err != nil {
		return err
	}

	_, err = file.WriteAt(data, int64(offset%rf.maxFileSize))

	return err
}

/*
readRecord fills a given record object with data.
*/
func (rf *RecordFile) readRecord(record *Record) error {

	if record.Data() == nil {
		return ErrNilData.fireError(rf, fmt.Sprintf("Record %v", record.ID()))
	}

	offset := record.ID() * uint64(rf.recordSize)

	file, err := rf.getFile(offset)
	if err != nil {
		return err
	}

	n, err := file.ReadAt(record.Data(), int64(offset%rf.maxFileSize))

	if n > 0 && uint32(n) != rf.recordSize {
		panic(fmt.Sprintf("File on disk returned unexpected length of data: %v "+
			"expected length was: %v", n, rf.recordSize))
	} else if n == 0 {
		// We just allocate a new array here which seems to be the
		// quickest way to get an empty array.
		record.ClearData()
	}

	if err == io.EOF {
		return nil
	}

	return err
}

/*
Discard removes a given record from all caches without writing it back.
A subsequent Get for the id reads from disk again.
*/
func (rf *RecordFile) Discard(id uint64) {
	delete(rf.inUse, id)
	delete(rf.dirty, id)
	delete(rf.free, id)
}

/*
ReleaseID releases a record given by its id from the in-use map. The
client code may indicate if the record is not dirty.
*/
func (rf *RecordFile) ReleaseID(id uint64, dirty bool) error {
	record, ok := rf.inUse[id]

	if !ok {
		return ErrNotInUse.fireError(rf, fmt.Sprintf("Record %v", id))
	}

	if !record.Dirty() && dirty {
		record.SetDirty()
	}

	rf.Release(record)

	return nil
}

/*
Release releases a record from the in-use map. Release panics if
the record was not in use.
*/
func (rf *RecordFile) Release(record *Record) {
	if record == nil {
		return
	}

	id := record.ID()

	// Panic if a record which is released was not in-use

	if _, ok := rf.inUse[id]; !ok {
		panic(fmt.Sprintf("Released record %d was not in-use", id))
	}
	delete(rf.inUse, id)

	if record.Dirty() {
		rf.dirty[id] = record
	} else {
		rf.free[id] = record
	}
}

/*
Flush writes all dirty records to disk.
*/
func (rf *RecordFile) Flush() error {
	if len(rf.inUse) > 0 {
		return ErrInUse.fireError(rf, fmt.Sprintf("Records %v", len(rf.inUse)))
	}

	if len(rf.dirty) == 0 {
		return nil
	}

	for id, record := range rf.dirty {
		err := rf.writeRecord(record)
		if err != nil {
			return err
		}
		record.ClearDirty()
		delete(rf.dirty, id)
		rf.free[id] = record
	}

	return nil
}

/*
Sync syncs all physical files.
*/
func (rf *RecordFile) Sync() error {
	for _, file := range rf.files {
		if file != nil {
			if err := file.Sync(); err != nil {
				return err
			}
		}
	}

	return nil
}

/*
Close writes all pending data and closes all physical files.
*/
func (rf *RecordFile) Close() error {

	if len(rf.dirty) > 0 {
		if err := rf.Flush(); err != nil {
			return err
		}
	}

	if len(rf.inUse) > 0 {
		return ErrInUse.fireError(rf, fmt.Sprintf("Records %v", len(rf.inUse)))
	}

	for _, file := range rf.files {
		if file != nil {
			file.Close()
		}
	}

	rf.free = make(map[uint64]*Record)
	rf.files = make([]*os.File, 0)

	return nil
}

/*
String returns a string representation of a RecordFile.
*/
func (rf *RecordFile) String() string {
	buf := new(bytes.Buffer)

	buf.WriteString(fmt.Sprintf("Record File: %v (recordSize:%v maxFileSize:%v)\n",
		rf.name, rf.recordSize, rf.maxFileSize))

	buf.WriteString("====\n")

	printRecordIDMap(buf, &rf.free, "Free")
	buf.WriteString("\n")
	printRecordIDMap(buf, &rf.inUse, "InUse")
	buf.WriteString("\n")
	printRecordIDMap(buf, &rf.dirty, "Dirty")
	buf.WriteString("\n")

	buf.WriteString("Open files: ")
	l := len(rf.files)
	for i, file := range rf.files {
		if file != nil {
			buf.WriteString(file.Name())
			buf.WriteString(fmt.Sprintf(" (%v)", i))
			if i < l-1 {
				buf.WriteString(", ")
			}
		}
	}
	buf.WriteString("\n")

	buf.WriteString("====\n")

	return buf.String()
}

/*
printRecordIDMap appends the ids of a record map to a given buffer.
*/
func printRecordIDMap(buf *bytes.Buffer, recordMap *map[uint64]*Record, name string) {
	buf.WriteString(name)
	buf.WriteString(" Records: ")

	var keys []uint64
	for k := range *recordMap {
		keys = append(keys, k)
	}
	sortutil.UInt64s(keys)

	l := len(*recordMap)

	for _, id := range keys {
		buf.WriteString(fmt.Sprintf("%v", id))
		if l--; l > 0 {
			buf.WriteString(", ")
		}
	}
}

/*
newRecordFileError returns a new RecordFile specific error.
*/
func newRecordFileError(text string) *recordfileError {
	return &recordfileError{text, "?", ""}
}

/*
RecordFile specific error datastructure
*/
type recordfileError struct {
	msg      string
	filename string
	info     string
}

/*
fireError returns the error instance from a specific RecordFile instance.
*/
func (e *recordfileError) fireError(rf *RecordFile, info string) error {
	e.filename = rf.name
	e.info = info
	return e
}

/*
Error returns a string representation of the error.
*/
func (e *recordfileError) Error() string {
	return fmt.Sprintf("%s (%s - %s)", e.msg, e.filename, e.info)
}
