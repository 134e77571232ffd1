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
Package tokens contains the main API of the token store.

A token registry maps human-readable names (property keys, labels,
relationship types) to small dense integer ids. The mapping is persisted
in fixed size records, survives restarts without loss or duplication and
converges concurrent transactions which request the same name onto
exactly one id.

Token records
=============
Each token is stored in a fixed size primary record:

flags(1) dynHead(8) inlineLen(1) inlineName(54)

Short names are stored inline. Names which do not fit the inline fragment
are encoded into a chain of fixed size dynamic records:

flags(1) usedBytes(1) next(8) payload(54)

Id allocation
=============
Record ids are handed out by id allocators which reuse freed ids and
persist their high-water mark and free list in the main database of the
storage backend. After a restart the store scan takes precedence over the
persisted high-water mark - the records on disk are the single source
of truth.
*/
package tokens

/*
VERSION of the token store
*/
const VERSION = 1

/*
MainDBVersion is the main database key for the version of the token store
*/
const MainDBVersion = "tokenstore.version"

/*
MainDBTokenAlloc is the main database key for the primary record allocator state
*/
const MainDBTokenAlloc = "tokenstore.alloc.tokens"

/*
MainDBNameAlloc is the main database key for the dynamic record allocator state
*/
const MainDBNameAlloc = "tokenstore.alloc.names"

/*
SpaceNameTokens is the name of the record space holding primary records
*/
const SpaceNameTokens = "tokens"

/*
SpaceNameNames is the name of the record space holding dynamic name records
*/
const SpaceNameNames = "names"

/*
Token models a single name to id binding.
*/
type Token struct {
	ID   uint64 `json:"id"`   // Dense integer id of the token
	Name string `json:"name"` // Name of the token
}
