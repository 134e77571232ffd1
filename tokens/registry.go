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
	"bytes"
	"fmt"
	"io"
	"sync"

	"devt.de/krotik/common/errorutil"
	"devt.de/krotik/common/stringutil"
	"github.com/wasser224/tokenstore/config"
	"github.com/wasser224/tokenstore/storage"
	"github.com/wasser224/tokenstore/tokens/util"
)

/*
Lifecycle states of a Registry
*/
const (
	StateClosed  = 0 // Registry is closed
	StateLoading = 1 // Registry is scanning records into the cache
	StateReady   = 2 // Registry is serving requests
)

/*
EventChannelBufferSize is the buffer size of token event channels
*/
const EventChannelBufferSize = 100

/*
Registry is the public facing component of the token store. It owns the
record store and the in-memory cache exclusively - no other component may
bypass it to write records directly. Get-or-create requests for new names
are serialized through a single creation lock so that concurrent callers
requesting the same name converge on exactly one id.
*/
type Registry struct {
	st          storage.Storage // Storage backend
	store       *RecordStore    // On-disk table of token records
	cache       *Cache          // In-memory name to id mapping
	state       int             // Lifecycle state of the registry
	mutex       *sync.RWMutex   // Mutex to protect state and subscribers
	creation    *sync.Mutex     // Lock serializing all token creations
	subscribers []chan Token    // Subscribers for token creation events
}

/*
OpenRegistry opens a token registry on a given storage backend. The
record store is scanned and the in-memory cache is rebuilt before any
request is served.
*/
func OpenRegistry(st storage.Storage) (*Registry, error) {

	if config.Config == nil {
		config.LoadDefaultConfig()
	}

	r := &Registry{st, nil, NewCache(), StateLoading, &sync.RWMutex{},
		&sync.Mutex{}, nil}

	store, err := openRecordStore(st, int(config.Int(config.MaxNameLength)))
	if err != nil {
		return nil, err
	}

	r.store = store

	if err := r.cache.Rebuild(store); err != nil {
		return nil, err
	}

	r.mutex.Lock()
	r.state = StateReady
	r.mutex.Unlock()

	return r, nil
}

/*
GetOrCreateID returns the id of a given token name. The name is created if
it does not exist yet. Concurrent callers requesting the same name are
guaranteed to receive the same id.
*/
func (r *Registry) GetOrCreateID(name string) (uint64, error) {

	if err := r.ready(); err != nil {
		return 0, err
	}

	// Fast path - no locking beyond the cache's own read consistency

	if id, ok := r.cache.LookupName(name); ok {
		return id, nil
	}

	// Slow path - serialize all creations through the creation lock

	r.creation.Lock()
	defer r.creation.Unlock()

	// Re-check the cache - another caller may have created the name
	// while this caller was waiting for the lock

	if id, ok := r.cache.LookupName(name); ok {
		return id, nil
	}

	id, err := r.store.AllocateAndWrite(name)
	if err != nil {
		return 0, err
	}

	// Publish to the cache - a conflict here would be an invariant
	// violation since this caller holds the creation lock

	errorutil.AssertOk(r.cache.Insert(id, name))

	r.notify(Token{id, name})

	return id, nil
}

/*
IDOf looks up the id of a given name. The lookup is served from the cache.
*/
func (r *Registry) IDOf(name string) (uint64, bool) {

	if r.ready() != nil {
		return 0, false
	}

	return r.cache.LookupName(name)
}

/*
NameOf looks up the name of a given id. The lookup is served from the cache.
*/
func (r *Registry) NameOf(id uint64) (string, bool) {

	if r.ready() != nil {
		return "", false
	}

	return r.cache.LookupID(id)
}

/*
Count returns the number of known tokens.
*/
func (r *Registry) Count() int {

	if r.ready() != nil {
		return 0
	}

	return r.cache.Count()
}

/*
Tokens returns all known tokens in ascending id order from the cache.
*/
func (r *Registry) Tokens() []Token {

	if r.ready() != nil {
		return nil
	}

	return r.cache.Tokens()
}

/*
ReadAll reads all tokens in ascending id order directly from durable
storage. This bypasses the cache and can be used for administrative
re-verification.
*/
func (r *Registry) ReadAll() ([]Token, error) {

	if err := r.ready(); err != nil {
		return nil, err
	}

	// Take the creation lock so the scan sees no in-flight write

	r.creation.Lock()
	defer r.creation.Unlock()

	var ret []Token

	err := r.store.Scan(func(id uint64, name string) error {
		ret = append(ret, Token{id, name})
		return nil
	})

	if err != nil {
		return nil, err
	}

	return ret, nil
}

/*
Subscribe returns a channel on which all future token creations are
published. Subscribers are strictly read-only consumers.
*/
func (r *Registry) Subscribe() chan Token {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ch := make(chan Token, EventChannelBufferSize)
	r.subscribers = append(r.subscribers, ch)

	return ch
}

/*
Unsubscribe removes a subscription channel and closes it.
*/
func (r *Registry) Unsubscribe(ch chan Token) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, sub := range r.subscribers {
		if sub == ch {
			r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

/*
WriteDiagnostics writes a diagnostic report of the registry to a given
writer.
*/
func (r *Registry) WriteDiagnostics(w io.Writer) error {

	count := r.cache.Count()

	_, err := fmt.Fprintf(w, "Token registry %v\n%v token%s\n%v\n",
		r.st.Name(), count, stringutil.Plural(count), r.store)

	return err
}

/*
String returns a diagnostic string representation of the registry.
*/
func (r *Registry) String() string {
	buf := new(bytes.Buffer)

	r.WriteDiagnostics(buf)

	return buf.String()
}

/*
Close closes the registry and its storage backend. Pending changes are
flushed. No request is served after Close returns.
*/
func (r *Registry) Close() error {

	r.mutex.Lock()

	r.state = StateClosed

	for _, sub := range r.subscribers {
		close(sub)
	}
	r.subscribers = nil

	r.mutex.Unlock()

	ce := errorutil.NewCompositeError()

	if err := r.store.Close(); err != nil {
		ce.Add(err)
	}

	if err := r.st.Close(); err != nil {
		ce.Add(err)
	}

	if ce.HasErrors() {
		return &util.TokenError{Type: util.ErrClosing, Detail: ce.Error()}
	}

	return nil
}

/*
ready returns an error unless the registry is serving requests.
*/
func (r *Registry) ready() error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.state != StateReady {
		return &util.TokenError{Type: util.ErrNotReady,
			Detail: fmt.Sprintf("Registry state: %v", r.state)}
	}

	return nil
}

/*
notify publishes a token creation event to all subscribers.
*/
func (r *Registry) notify(tok Token) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, sub := range r.subscribers {

		// Slow consumers do not block token creation - the event
		// is dropped if the channel buffer is full

		select {
		case sub <- tok:
		default:
		}
	}
}
