/*
Package embedserver is a small HTTP/1.1 server meant to be embedded in
applications that need to expose files, forms or an API on the local
network.

Requests are matched against handlers registered on a core.Server, newest
first. Each handler pairs a match function, which decides whether it wants
the request and picks how the body is stored, with a processor that returns
the response synchronously or through a callback.

# Quick Start

	package main

	import (
	    "context"
	    "log"

	    "github.com/searchktools/embed-server/app"
	    "github.com/searchktools/embed-server/config"
	    "github.com/searchktools/embed-server/core/http"
	)

	func main() {
	    a, err := app.New(config.New())
	    if err != nil {
	        log.Fatal(err)
	    }
	    a.Server().AddHandlerForPath("GET", "/hello", nil, func(req *http.Request) (*http.Response, error) {
	        return http.NewTextResponse("Hello, World!"), nil
	    })
	    if err := a.Run(context.Background()); err != nil {
	        log.Fatal(err)
	    }
	}

# Modules

  - app: process lifecycle, signal handling and graceful shutdown
  - config: flags, EMBED_* environment variables and JSON files
  - core: the server, connections and handler registration helpers
  - core/http: header parser, requests, responses, body sinks and sources
  - core/router: the handler registry and match helpers
  - core/middleware: preflight checks such as authentication and CORS
  - core/codec: JSON and protobuf bodies
  - core/logging: the Logger interface with std and zerolog adapters
  - core/observability: per-handler request statistics
  - core/pools: buffer pools
*/
package embedserver
