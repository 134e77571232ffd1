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
TokenStore is a persistent store which maps names to small dense integer ids.

Usage: tokenstore [options]

The server is configured through a config file. A default config file is
created on the first start.
*/
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wasser224/tokenstore/config"
	"github.com/wasser224/tokenstore/server"
)

func main() {
	var configFile string

	flag.StringVar(&configFile, "config", config.DefaultConfigFile, "Configuration file to use")

	showHelp := flag.Bool("help", false, "Show this help message")

	flag.Usage = func() {
		fmt.Println()
		fmt.Println(fmt.Sprintf("Usage of %s [options]", os.Args[0]))
		fmt.Println()
		flag.PrintDefaults()
		fmt.Println()
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		return
	}

	if err := config.LoadConfigFile(configFile); err != nil {
		fmt.Println("Could not load config file:", err)
		os.Exit(1)
	}

	server.StartServer()
}
