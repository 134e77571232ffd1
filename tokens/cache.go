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
	"sync"

	"devt.de/krotik/common/sortutil"
	"github.com/wasser224/tokenstore/tokens/util"
)

/*
Cache is the in-memory name to id mapping of the token store. It holds two
mappings - name to id and id to name - which are always kept mutually
consistent. All read lookups are served from the cache without touching
durable storage. Reads never block on the registry's creation lock.
*/
type Cache struct {
	mutex *sync.RWMutex     // Mutex to protect map operations
	names map[string]uint64 // Mapping from name to id
	ids   map[uint64]string // Mapping from id to name
}

/*
NewCache creates a new token cache.
*/
func NewCache() *Cache {
	return &Cache{&sync.RWMutex{}, make(map[string]uint64), make(map[uint64]string)}
}

/*
LookupName looks up the id of a given name.
*/
func (c *Cache) LookupName(name string) (uint64, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	id, ok := c.names[name]
	return id, ok
}

/*
LookupID looks up the name of a given id.
*/
func (c *Cache) LookupID(id uint64) (string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	name, ok := c.ids[id]
	return name, ok
}

/*
Insert adds a new token binding to the cache. Inserting a name or id which
is already present with a different counterpart is an invariant violation
and fails with ErrConflict - this never happens as long as all writes go
through the registry.
*/
func (c *Cache) Insert(id uint64, name string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if eid, ok := c.names[name]; ok && eid != id {
		return &util.TokenError{Type: util.ErrConflict,
			Detail: fmt.Sprintf("Name %v is already bound to id %v", name, eid)}
	}

	if ename, ok := c.ids[id]; ok && ename != name {
		return &util.TokenError{Type: util.ErrConflict,
			Detail: fmt.Sprintf("Id %v is already bound to name %v", id, ename)}
	}

	c.names[name] = id
	c.ids[id] = name

	return nil
}

/*
Count returns the number of cached tokens.
*/
func (c *Cache) Count() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.ids)
}

/*
Tokens returns all cached tokens in ascending id order.
*/
func (c *Cache) Tokens() []Token {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var ids []uint64
	for id := range c.ids {
		ids = append(ids, id)
	}
	sortutil.UInt64s(ids)

	ret := make([]Token, 0, len(ids))
	for _, id := range ids {
		ret = append(ret, Token{id, c.ids[id]})
	}

	return ret
}

/*
Rebuild clears the cache and repopulates it by scanning a given record
store.
*/
func (c *Cache) Rebuild(rs *RecordStore) error {
	c.mutex.Lock()
	c.names = make(map[string]uint64)
	c.ids = make(map[uint64]string)
	c.mutex.Unlock()

	return rs.Scan(func(id uint64, name string) error {
		return c.Insert(id, name)
	})
}
