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
Package util contains utility classes for the token store.

TokenError

Models a token store related error. Low-level errors should be wrapped in a
TokenError before they are returned to a client.
*/
package util

import (
	"errors"
	"fmt"
)

/*
TokenError is a token store related error
*/
type TokenError struct {
	Type   error  // Error type (to be used for equal checks)
	Detail string // Details of this error
}

/*
Error returns a human-readable string representation of this error.
*/
func (te *TokenError) Error() string {
	if te.Detail != "" {
		return fmt.Sprintf("TokenError: %v (%v)", te.Type, te.Detail)
	}

	return fmt.Sprintf("TokenError: %v", te.Type)
}

/*
Token store related error types. ErrDoubleFree and ErrConflict indicate
the violation of an internal invariant - they are never expected during
correct operation.
*/
var (
	ErrInvalidName = errors.New("Invalid token name")
	ErrIO          = errors.New("Failed to access token records")
	ErrDoubleFree  = errors.New("Id was already freed")
	ErrConflict    = errors.New("Conflicting token binding")
	ErrNotReady    = errors.New("Token registry is not ready")
	ErrNotFound    = errors.New("Token not found")
	ErrOpening     = errors.New("Failed to open token store")
	ErrFlushing    = errors.New("Failed to flush token store")
	ErrClosing     = errors.New("Failed to close token store")
)
