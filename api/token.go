/*
 * TokenStore
 *
 * Copyright 2020 The TokenStore Authors. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/wasser224/tokenstore/tokens"
)

/*
EndpointToken is the token endpoint URL (rooted). Handles everything
under token/...
*/
const EndpointToken = APIRoot + APIv1 + "/token/"

/*
V1EndpointMap contains all v1 endpoints
*/
var V1EndpointMap = map[string]RestEndpointInst{
	EndpointToken: TokenEndpointInst,
}

/*
TokenEndpointInst creates a new endpoint handler.
*/
func TokenEndpointInst() RestEndpointHandler {
	return &tokenEndpoint{}
}

/*
Handler object for token queries.
*/
type tokenEndpoint struct {
	*DefaultEndpointHandler
}

/*
HandleGET handles a token query REST call.
*/
func (te *tokenEndpoint) HandleGET(w http.ResponseWriter, r *http.Request, resources []string) {

	if TR == nil {
		http.Error(w, "Resource was not found", http.StatusNotFound)
		return
	}

	data := make(map[string]interface{})

	if len(resources) > 0 {

		// A single token is requested either by id or by name

		var tok *tokens.Token

		if id, err := strconv.ParseUint(resources[0], 10, 64); err == nil {
			if name, ok := TR.NameOf(id); ok {
				tok = &tokens.Token{ID: id, Name: name}
			}
		}

		if tok == nil {
			if id, ok := TR.IDOf(resources[0]); ok {
				tok = &tokens.Token{ID: id, Name: resources[0]}
			}
		}

		if tok == nil {
			http.Error(w, fmt.Sprint("Unknown token ", resources[0]),
				http.StatusNotFound)
			return
		}

		data["id"] = tok.ID
		data["name"] = tok.Name

	} else {

		// General token information is requested

		data["token_count"] = TR.Count()
		data["tokens"] = TR.Tokens()
	}

	// Write data

	w.Header().Set("content-type", "application/json; charset=utf-8")

	ret := json.NewEncoder(w)
	ret.Encode(data)
}
