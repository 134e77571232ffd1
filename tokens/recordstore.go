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
	"strconv"

	"github.com/wasser224/tokenstore/storage"
	"github.com/wasser224/tokenstore/storage/file"
	"github.com/wasser224/tokenstore/tokens/util"
)

/*
Record layout constants. Both record kinds have a fixed size which means
records can be addressed directly by id * record size.
*/
const (
	PrimaryRecordSize = 64 // Size of a primary token record
	DynamicRecordSize = 64 // Size of a dynamic name record

	primOffsetFlags     = 0  // Offset of the flag byte in a primary record
	primOffsetDynHead   = 1  // Offset of the dynamic chain head id
	primOffsetInlineLen = 9  // Offset of the inline name length
	primOffsetInline    = 10 // Offset of the inline name bytes

	dynOffsetFlags   = 0  // Offset of the flag byte in a dynamic record
	dynOffsetUsed    = 1  // Offset of the used bytes count
	dynOffsetNext    = 2  // Offset of the next record reference
	dynOffsetPayload = 10 // Offset of the payload bytes

	// InlineNameSize is the maximum number of name bytes which fit into
	// the primary record itself

	InlineNameSize = PrimaryRecordSize - primOffsetInline

	// DynamicPayloadSize is the number of name bytes which fit into a
	// single dynamic record

	DynamicPayloadSize = DynamicRecordSize - dynOffsetPayload
)

/*
Record flags
*/
const (
	FlagInUse       = 0x01 // Record holds a live entry
	FlagDynamicName = 0x02 // Name is stored in a dynamic record chain
)

/*
EndOfChain marks the end of a dynamic record chain.
*/
const EndOfChain = 0xFFFFFFFFFFFFFFFF

/*
RecordStore is the on-disk table of the token store. It owns the primary
and the dynamic record space and an id allocator for each of them.
*/
type RecordStore struct {
	st            storage.Storage // Storage backend
	primary       storage.Space   // Space for primary records
	dynamic       storage.Space   // Space for dynamic name records
	primaryAlloc  *IDAllocator    // Allocator for primary record ids
	dynamicAlloc  *IDAllocator    // Allocator for dynamic record ids
	maxNameLength int             // Maximum length of an encoded name in bytes
}

/*
openRecordStore opens the record store on a given storage backend.
*/
func openRecordStore(st storage.Storage, maxNameLength int) (*RecordStore, error) {

	mdb := st.MainDB()

	// Check version

	if version, ok := mdb[MainDBVersion]; !ok {

		mdb[MainDBVersion] = strconv.Itoa(VERSION)

		if err := st.FlushMain(); err != nil {
			return nil, &util.TokenError{Type: util.ErrOpening, Detail: err.Error()}
		}

	} else if v, _ := strconv.Atoi(version); v > VERSION {

		return nil, &util.TokenError{Type: util.ErrOpening,
			Detail: fmt.Sprintf("Unsupported version of store files: %v "+
				"- supported version: %v", version, VERSION)}
	}

	primary, err := st.Space(SpaceNameTokens, PrimaryRecordSize, true)
	if err != nil {
		return nil, &util.TokenError{Type: util.ErrOpening, Detail: err.Error()}
	}

	dynamic, err := st.Space(SpaceNameNames, DynamicRecordSize, true)
	if err != nil {
		return nil, &util.TokenError{Type: util.ErrOpening, Detail: err.Error()}
	}

	// Restore the checkpointed allocator states. A missing or corrupt
	// checkpoint (e.g. after a crash during a partial write) starts with
	// an empty allocator - the following store scan raises the high-water
	// marks to the correct values.

	restoreAlloc := func(key string) *IDAllocator {
		if state, ok := mdb[key]; ok {
			if alloc, err := NewIDAllocatorFromState(state); err == nil {
				return alloc
			}
		}
		return NewIDAllocator()
	}

	return &RecordStore{st, primary, dynamic, restoreAlloc(MainDBTokenAlloc),
		restoreAlloc(MainDBNameAlloc), maxNameLength}, nil
}

/*
Scan reads all in-use token records in ascending id order and calls the
given visit function for each of them. The scan always re-reads from
durable storage. As a side effect the id allocators are reconciled with
the records which were actually found - the scan result takes precedence
over a stale checkpointed high-water mark.
*/
func (rs *RecordStore) Scan(visit func(id uint64, name string) error) error {

	limit := rs.primaryAlloc.HighID()

	numRecords, err := rs.primary.NumRecords()
	if err != nil {
		return &util.TokenError{Type: util.ErrIO, Detail: err.Error()}
	}

	if numRecords > limit {
		limit = numRecords
	}

	var maxDynamic uint64

	for id := uint64(0); id < limit; id++ {

		rec, err := rs.primary.Get(id)
		if err != nil {
			return &util.TokenError{Type: util.ErrIO, Detail: err.Error()}
		}

		flags := rec.ReadByte(primOffsetFlags)

		if flags&FlagInUse == 0 {
			if err := rs.primary.ReleaseID(id, false); err != nil {
				return &util.TokenError{Type: util.ErrIO, Detail: err.Error()}
			}
			continue
		}

		name, chainMax, err := rs.readNameFromRecord(rec)

		if rerr := rs.primary.ReleaseID(id, false); rerr != nil && err == nil {
			err = &util.TokenError{Type: util.ErrIO, Detail: rerr.Error()}
		}

		if err != nil {
			return err
		}

		if flags&FlagDynamicName != 0 && chainMax+1 > maxDynamic {
			maxDynamic = chainMax + 1
		}

		// The id was in use so the high-water mark must be beyond it

		rs.primaryAlloc.EnsureHigh(id + 1)
		rs.dynamicAlloc.EnsureHigh(maxDynamic)

		if err := visit(id, name); err != nil {
			return err
		}
	}

	return nil
}

/*
AllocateAndWrite persists a new token record for a given name and returns
its id. The name is written inline if it fits into the primary record,
otherwise it is encoded into a chain of dynamic records. All changes are
durably flushed before the id is returned. If the write fails the records
of the attempt are discarded so they can never reach durable storage and
the allocated ids are not reused - they are left as a permanently skipped
gap which is simpler and safer than attempting a partial rollback.
*/
func (rs *RecordStore) AllocateAndWrite(name string) (uint64, error) {

	fragments, err := EncodeName(name, rs.maxNameLength)
	if err != nil {
		return 0, err
	}

	id := rs.primaryAlloc.Allocate()

	rec, err := rs.primary.Get(id)
	if err != nil {
		return 0, &util.TokenError{Type: util.ErrIO, Detail: err.Error()}
	}

	rec.ClearData()

	var chain []uint64

	if len(fragments) == 1 && len(fragments[0]) <= InlineNameSize {

		// Name fits into the primary record

		rec.WriteByte(primOffsetInlineLen, byte(len(fragments[0])))
		rec.WriteBytes(primOffsetInline, fragments[0])
		rec.WriteByte(primOffsetFlags, FlagInUse)

	} else {

		chain, err = rs.writeNameChain(fragments)

		if err != nil {
			rs.discardAttempt(id, chain)
			return 0, err
		}

		rec.WriteUInt64(primOffsetDynHead, chain[0])
		rec.WriteByte(primOffsetFlags, FlagInUse|FlagDynamicName)
	}

	if err := rs.primary.ReleaseID(id, true); err != nil {
		rs.discardAttempt(id, chain)
		return 0, &util.TokenError{Type: util.ErrIO, Detail: err.Error()}
	}

	// Durably flush before the id is handed out

	if err := rs.flushSpaces(); err != nil {
		rs.discardAttempt(id, chain)
		return 0, err
	}

	// The record is durable at this point - a failed checkpoint only
	// leaves a stale allocator state behind which the scan on the next
	// open corrects

	rs.checkpointAllocators()

	return id, nil
}

/*
discardAttempt removes the records of a failed write attempt so they are
never flushed as in-use records. The allocated ids stay allocated and
remain as a permanently skipped gap.
*/
func (rs *RecordStore) discardAttempt(id uint64, chain []uint64) {

	rs.primary.Discard(id)

	for _, cid := range chain {
		rs.dynamic.Discard(cid)
	}
}

/*
ReadName reads the name of a given token id directly from durable storage.
This is used for administrative re-verification - normal lookups are
served from the cache.
*/
func (rs *RecordStore) ReadName(id uint64) (string, error) {

	rec, err := rs.primary.Get(id)
	if err != nil {
		return "", &util.TokenError{Type: util.ErrIO, Detail: err.Error()}
	}

	var name string

	if rec.ReadByte(primOffsetFlags)&FlagInUse == 0 {
		err = &util.TokenError{Type: util.ErrNotFound,
			Detail: fmt.Sprintf("Record %v is not in use", id)}
	} else {
		name, _, err = rs.readNameFromRecord(rec)
	}

	if rerr := rs.primary.ReleaseID(id, false); rerr != nil && err == nil {
		err = &util.TokenError{Type: util.ErrIO, Detail: rerr.Error()}
	}

	if err != nil {
		return "", err
	}

	return name, nil
}

/*
Close checkpoints the allocators and flushes all pending changes.
*/
func (rs *RecordStore) Close() error {

	if err := rs.checkpointAllocators(); err != nil {
		return err
	}

	if err := rs.st.FlushAll(); err != nil {
		return &util.TokenError{Type: util.ErrClosing, Detail: err.Error()}
	}

	return nil
}

/*
String returns a diagnostic string representation of the record store.
*/
func (rs *RecordStore) String() string {
	return fmt.Sprintf("RecordStore %v (primary high id:%v dynamic high id:%v)",
		rs.st.Name(), rs.primaryAlloc.HighID(), rs.dynamicAlloc.HighID())
}

/*
readNameFromRecord decodes the name of an in-use primary record. The
second return value is the highest dynamic record id which was used by
the name chain.
*/
func (rs *RecordStore) readNameFromRecord(rec *file.Record) (string, uint64, error) {

	flags := rec.ReadByte(primOffsetFlags)

	if flags&FlagDynamicName == 0 {
		inlineLen := int(rec.ReadByte(primOffsetInlineLen))
		return string(rec.ReadBytes(primOffsetInline, inlineLen)), 0, nil
	}

	return rs.readNameChain(rec.ReadUInt64(primOffsetDynHead))
}

/*
readNameChain follows a dynamic record chain and decodes the stored name.
*/
func (rs *RecordStore) readNameChain(head uint64) (string, uint64, error) {
	var fragments [][]byte
	var maxID uint64

	// A chain can never be longer than the number of records needed for
	// a name of maximum length

	maxHops := (rs.maxNameLength + DynamicPayloadSize - 1) / DynamicPayloadSize

	next := head

	for hops := 0; next != EndOfChain; hops++ {

		if hops >= maxHops {
			return "", 0, &util.TokenError{Type: util.ErrIO,
				Detail: fmt.Sprintf("Name chain starting at %v does not terminate", head)}
		}

		rec, err := rs.dynamic.Get(next)
		if err != nil {
			return "", 0, &util.TokenError{Type: util.ErrIO, Detail: err.Error()}
		}

		used := int(rec.ReadByte(dynOffsetUsed))
		fragments = append(fragments, rec.ReadBytes(dynOffsetPayload, used))

		if next > maxID {
			maxID = next
		}

		id := next
		next = rec.ReadUInt64(dynOffsetNext)

		if err := rs.dynamic.ReleaseID(id, false); err != nil {
			return "", 0, &util.TokenError{Type: util.ErrIO, Detail: err.Error()}
		}
	}

	return DecodeName(fragments), maxID, nil
}

/*
writeNameChain writes the fragments of an encoded name into a chain of
dynamic records and returns the ids of the chain in order. On failure the
allocated ids are returned together with the error so the caller can
discard the partially written chain.
*/
func (rs *RecordStore) writeNameChain(fragments [][]byte) ([]uint64, error) {

	ids := make([]uint64, len(fragments))
	for i := range fragments {
		ids[i] = rs.dynamicAlloc.Allocate()
	}

	for i, fragment := range fragments {

		rec, err := rs.dynamic.Get(ids[i])
		if err != nil {
			return ids, &util.TokenError{Type: util.ErrIO, Detail: err.Error()}
		}

		rec.ClearData()

		rec.WriteByte(dynOffsetFlags, FlagInUse)
		rec.WriteByte(dynOffsetUsed, byte(len(fragment)))

		if i < len(fragments)-1 {
			rec.WriteUInt64(dynOffsetNext, ids[i+1])
		} else {
			rec.WriteUInt64(dynOffsetNext, EndOfChain)
		}

		rec.WriteBytes(dynOffsetPayload, fragment)

		if err := rs.dynamic.ReleaseID(ids[i], true); err != nil {
			return ids, &util.TokenError{Type: util.ErrIO, Detail: err.Error()}
		}
	}

	return ids, nil
}

/*
flushSpaces durably flushes both record spaces. The dynamic space is
flushed first - a name chain must be durable before the primary record
which references it.
*/
func (rs *RecordStore) flushSpaces() error {

	if err := rs.dynamic.Flush(); err != nil {
		return &util.TokenError{Type: util.ErrIO, Detail: err.Error()}
	}

	if err := rs.dynamic.Sync(); err != nil {
		return &util.TokenError{Type: util.ErrIO, Detail: err.Error()}
	}

	if err := rs.primary.Flush(); err != nil {
		return &util.TokenError{Type: util.ErrIO, Detail: err.Error()}
	}

	if err := rs.primary.Sync(); err != nil {
		return &util.TokenError{Type: util.ErrIO, Detail: err.Error()}
	}

	return nil
}

/*
checkpointAllocators writes the allocator states to the main database.
*/
func (rs *RecordStore) checkpointAllocators() error {

	mdb := rs.st.MainDB()

	mdb[MainDBTokenAlloc] = rs.primaryAlloc.State()
	mdb[MainDBNameAlloc] = rs.dynamicAlloc.State()

	if err := rs.st.FlushMain(); err != nil {
		return &util.TokenError{Type: util.ErrFlushing, Detail: err.Error()}
	}

	return nil
}
