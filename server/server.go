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
Package server contains the code for the TokenStore server.
*/
package server

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"devt.de/krotik/common/httputil"
	"devt.de/krotik/common/lockutil"
	"github.com/wasser224/tokenstore/api"
	"github.com/wasser224/tokenstore/config"
	"github.com/wasser224/tokenstore/storage"
	"github.com/wasser224/tokenstore/tokens"
)

/*
Using custom consolelogger type so we can test log.Fatal calls with unit tests. Overwrite
these if the server should not call os.Exit on a fatal error.
*/
type consolelogger func(v ...interface{})

var fatal = consolelogger(log.Fatal)
var print = consolelogger(log.Print)

/*
Base path for all files (used by unit tests)
*/
var basepath = ""

/*
StartServer runs the TokenStore server. The server uses config.Config for all
its configuration parameters.
*/
func StartServer() {
	StartServerWithSingleOp(nil)
}

/*
StartServerWithSingleOp runs the TokenStore server. If the singleOperation
function is not nil then the server executes the function and exits if the
function returns true.
*/
func StartServerWithSingleOp(singleOperation func(*tokens.Registry) bool) {
	var err error
	var st storage.Storage

	print(fmt.Sprintf("TokenStore %v", config.ProductVersion))

	// Ensure we have a configuration - use the default configuration if nothing was set

	if config.Config == nil {
		config.LoadDefaultConfig()
	}

	// Create the storage backend

	if config.Bool(config.MemoryOnlyStorage) {

		print("Starting memory only store")

		st = storage.NewMemoryStorage(config.MemoryOnlyStorage)

	} else {

		loc := filepath.Join(basepath, config.Str(config.LocationTokenStore))

		print("Starting store in ", loc)

		st, err = storage.NewDiskStorage(loc)
		if err != nil {
			fatal(err)
			return
		}
	}

	// Open the token registry - this scans all records and rebuilds the cache

	print("Opening token registry")

	registry, err := tokens.OpenRegistry(st)
	if err != nil {
		fatal(err)
		return
	}

	api.TR = registry

	defer func() {

		print("Closing store")

		if err := registry.Close(); err != nil {
			fatal(err)
			return
		}
	}()

	// Handle single operation - these are operations which work on the
	// registry and then exit.

	if singleOperation != nil && singleOperation(registry) {
		return
	}

	// Register REST endpoints

	api.RegisterRestEndpoints(api.GeneralEndpointMap)
	api.RegisterRestEndpoints(api.V1EndpointMap)

	if config.Bool(config.EnableTokenEvents) {
		api.RegisterRestEndpoints(api.SockEndpointMap)
	}

	// Start HTTP server and enable REST API

	hs := &httputil.HTTPServer{}

	var wg sync.WaitGroup
	wg.Add(1)

	host := config.Str(config.HTTPHost)
	port := config.Str(config.HTTPPort)

	print("Starting server on: ", host, ":", port)

	go hs.RunHTTPServer(":"+port, &wg)

	// Wait until the server has started

	wg.Wait()

	// HTTP Server has started

	if hs.LastError != nil {
		fatal(hs.LastError)
		return
	}

	// Create a lockfile so the server can be shut down

	lf := lockutil.NewLockFile(filepath.Join(basepath, config.Str(config.LockFile)),
		time.Duration(2)*time.Second)

	lf.Start()

	go func() {

		// Check if the lockfile watcher is running and
		// call shutdown once it has finished

		for lf.WatcherRunning() {
			time.Sleep(time.Duration(1) * time.Second)
		}

		print("Lockfile was modified")

		hs.Shutdown()
	}()

	// Add to the wait group so we can wait for the shutdown

	wg.Add(1)

	print("Waiting for shutdown")
	wg.Wait()

	print("Shutting down")
}
