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
	"net/http"

	"devt.de/krotik/common/logutil"
	"github.com/gorilla/websocket"
)

/*
EndpointTokenSock is the websocket endpoint URL (rooted) for token creation
events. Handles everything under sock/token/...
*/
const EndpointTokenSock = APIRoot + "/sock/token/"

/*
SockEndpointMap contains all websocket endpoints
*/
var SockEndpointMap = map[string]RestEndpointInst{
	EndpointTokenSock: TokenSockEndpointInst,
}

/*
sockUpgrader can upgrade normal requests to websocket communications
*/
var sockUpgrader = websocket.Upgrader{
	Subprotocols:    []string{"token-sock"},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

/*
sockLogger logs websocket related errors
*/
var sockLogger = logutil.GetLogger("api.sock")

/*
TokenSockEndpointInst creates a new endpoint handler.
*/
func TokenSockEndpointInst() RestEndpointHandler {
	return &tokenSockEndpoint{}
}

/*
Handler object for token event streams.
*/
type tokenSockEndpoint struct {
	*DefaultEndpointHandler
}

/*
HandleGET upgrades the connection to a websocket and streams all future
token creation events to the client as JSON objects. The stream is strictly
read-only - data sent by the client is ignored.
*/
func (e *tokenSockEndpoint) HandleGET(w http.ResponseWriter, r *http.Request, resources []string) {

	if TR == nil {
		http.Error(w, "Resource was not found", http.StatusNotFound)
		return
	}

	// Update the incoming connection to a websocket
	// If the upgrade fails then the client gets an HTTP error response.

	conn, err := sockUpgrader.Upgrade(w, r, nil)

	if err != nil {

		// We give details here on what went wrong

		w.Write([]byte(err.Error()))
		return
	}

	// Subscribe before the init message is sent - a client may create
	// tokens as soon as it has read the init message

	sub := TR.Subscribe()
	defer TR.Unsubscribe(sub)

	conn.WriteJSON(map[string]interface{}{
		"type": "init_success",
	})

	// Discard anything the client sends and unblock the write loop
	// below when the client goes away

	done := make(chan struct{})

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(done)
				return
			}
		}
	}()

	for {
		select {

		case tok, ok := <-sub:
			if !ok {

				// The registry was closed

				conn.WriteJSON(map[string]interface{}{
					"type": "close",
				})
				conn.Close()
				return
			}

			if err := conn.WriteJSON(map[string]interface{}{
				"type":  "token_created",
				"token": tok,
			}); err != nil {
				sockLogger.Debug(err)
				conn.Close()
				return
			}

		case <-done:
			conn.Close()
			return
		}
	}
}
