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

	"github.com/wasser224/tokenstore/tokens/util"
)

/*
EncodeName encodes a given token name into an ordered sequence of byte
fragments. Each fragment fits into the payload of a single dynamic record.
Encoding is pure byte-slicing of the name - no compression, no escaping.
*/
func EncodeName(name string, maxNameLength int) ([][]byte, error) {
	data := []byte(name)

	if len(data) == 0 {
		return nil, &util.TokenError{Type: util.ErrInvalidName,
			Detail: "Name must not be empty"}
	}

	if len(data) > maxNameLength {
		return nil, &util.TokenError{Type: util.ErrInvalidName,
			Detail: fmt.Sprintf("Name exceeds maximum length of %v bytes",
				maxNameLength)}
	}

	var fragments [][]byte

	for len(data) > DynamicPayloadSize {
		fragments = append(fragments, data[:DynamicPayloadSize])
		data = data[DynamicPayloadSize:]
	}

	fragments = append(fragments, data)

	return fragments, nil
}

/*
DecodeName decodes an ordered sequence of byte fragments back into the
original token name.
*/
func DecodeName(fragments [][]byte) string {
	buf := new(bytes.Buffer)

	for _, fragment := range fragments {
		buf.Write(fragment)
	}

	return buf.String()
}
