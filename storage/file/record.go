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
Package file deals with low level storage of fixed size records.

RecordFile

RecordFile models a logical storage file which stores fixed size records on
disk. Each record has a unique record id. Records are addressed by
id * record size which means no separate index is required to locate them.
On disk this logical storage file might be split into several smaller files.

Record

A record is a byte slice of a RecordFile. It is a wrapper data structure for
a byte array which provides read and write methods for several data types.
*/
package file

import (
	"fmt"

	"devt.de/krotik/common/bitutil"
)

/*
Size constants for a record
*/
const (
	SizeByte          = 1
	SizeUnsignedShort = 2
	SizeUnsignedInt   = 4
	SizeLong          = 8
)

/*
Record data structure
*/
type Record struct {
	id    uint64 // 64-bit record id
	data  []byte // Slice of the whole data byte array
	dirty bool   // Dirty flag to indicate change
}

/*
NewRecord creates a new Record and returns a pointer to it.
*/
func NewRecord(id uint64, data []byte) *Record {
	return &Record{id, data, false}
}

/*
ID returns the id of a Record.
*/
func (r *Record) ID() uint64 {
	return r.id
}

/*
SetID changes the id of a Record.
*/
func (r *Record) SetID(id uint64) {
	r.id = id
}

/*
Data returns the raw data of a Record.
*/
func (r *Record) Data() []byte {
	return r.data
}

/*
Dirty returns the dirty flag of a Record.
*/
func (r *Record) Dirty() bool {
	return r.dirty
}

/*
SetDirty sets the dirty flag of a Record.
*/
func (r *Record) SetDirty() {
	r.dirty = true
}

/*
ClearDirty clears the dirty flag of a Record.
*/
func (r *Record) ClearDirty() {
	r.dirty = false
}

/*
ClearData removes all stored data from a Record.
*/
func (r *Record) ClearData() {
	var ccap, clen int

	if r.data != nil {
		ccap = cap(r.data)
		clen = len(r.data)
	} else {
		clen = DefaultRecordSize
		ccap = DefaultRecordSize
	}

	r.data = make([]byte, clen, ccap)
	r.ClearDirty()
}

// Read and Write functions
// ========================

/*
ReadByte reads a byte from a Record.
*/
func (r *Record) ReadByte(pos int) byte {
	return r.data[pos]
}

/*
WriteByte writes a byte to a Record.
*/
func (r *Record) WriteByte(pos int, value byte) {
	r.data[pos] = value
	r.SetDirty()
}

/*
ReadUInt16 reads a 16-bit unsigned integer from a Record.
*/
func (r *Record) ReadUInt16(pos int) uint16 {
	return (uint16(r.data[pos+0]) << 8) |
		(uint16(r.data[pos+1]) << 0)
}

/*
WriteUInt16 writes a 16-bit unsigned integer to a Record.
*/
func (r *Record) WriteUInt16(pos int, value uint16) {
	r.data[pos+0] = byte(value >> 8)
	r.data[pos+1] = byte(value >> 0)
	r.SetDirty()
}

/*
ReadUInt32 reads a 32-bit unsigned integer from a Record.
*/
func (r *Record) ReadUInt32(pos int) uint32 {
	return (uint32(r.data[pos+0]) << 24) |
		(uint32(r.data[pos+1]) << 16) |
		(uint32(r.data[pos+2]) << 8) |
		(uint32(r.data[pos+3]) << 0)
}

/*
WriteUInt32 writes a 32-bit unsigned integer to a Record.
*/
func (r *Record) WriteUInt32(pos int, value uint32) {
	r.data[pos+0] = byte(value >> 24)
	r.data[pos+1] = byte(value >> 16)
	r.data[pos+2] = byte(value >> 8)
	r.data[pos+3] = byte(value >> 0)
	r.SetDirty()
}

/*
ReadUInt64 reads a 64-bit unsigned integer from a Record.
*/
func (r *Record) ReadUInt64(pos int) uint64 {
	return (uint64(r.data[pos+0]) << 56) |
		(uint64(r.data[pos+1]) << 48) |
		(uint64(r.data[pos+2]) << 40) |
		(uint64(r.data[pos+3]) << 32) |
		(uint64(r.data[pos+4]) << 24) |
		(uint64(r.data[pos+5]) << 16) |
		(uint64(r.data[pos+6]) << 8) |
		(uint64(r.data[pos+7]) << 0)
}

/*
WriteUInt64 writes a 64-bit unsigned integer to a Record.
*/
func (r *Record) WriteUInt64(pos int, value uint64) {
	r.data[pos+0] = byte(value >> 56)
	r.data[pos+1] = byte(value >> 48)
	r.data[pos+2] = byte(value >> 40)
	r.data[pos+3] = byte(value >> 32)
	r.data[pos+4] = byte(value >> 24)
	r.data[pos+5] = byte(value >> 16)
	r.data[pos+6] = byte(value >> 8)
	r.data[pos+7] = byte(value >> 0)
	r.SetDirty()
}

/*
ReadBytes reads a byte slice from a Record.
*/
func (r *Record) ReadBytes(pos int, size int) []byte {
	ret := make([]byte, size)
	copy(ret, r.data[pos:pos+size])
	return ret
}

/*
WriteBytes writes a byte slice to a Record.
*/
func (r *Record) WriteBytes(pos int, value []byte) {
	copy(r.data[pos:], value)
	r.SetDirty()
}

/*
String prints a string representation of a Record.
*/
func (r *Record) String() string {
	return fmt.Sprintf("Record: %v (dirty:%v len:%v cap:%v)\n%s",
		r.id, r.dirty, len(r.data), cap(r.data), bitutil.HexDump(r.data))
}
