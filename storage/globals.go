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
	"errors"
	"fmt"
)

/*
Common storage backend related error types.
*/
var (
	ErrOpening  = errors.New("Failed to open storage")
	ErrFlushing = errors.New("Failed to flush storage")
	ErrClosing  = errors.New("Failed to close storage")
)

/*
Error is a storage backend related error.
*/
type Error struct {
	Type        error  // Error type (to be used for equal checks)
	Detail      string // Details of this error
	Storagename string // Name of the storage which produced the error
}

/*
NewStorageError returns a new storage backend specific error.
*/
func NewStorageError(seType error, seDetail string, seStoragename string) *Error {
	return &Error{seType, seDetail, seStoragename}
}

/*
Error returns a string representation of the error.
*/
func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s - %s)", e.Type.Error(), e.Storagename, e.Detail)
}
