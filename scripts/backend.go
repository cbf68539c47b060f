//go:build ignore

// Backend is a tiny echo server used to exercise the proxy by hand.
// Every response body is the configured token, so the share of traffic each
// backend receives can be read straight off the client side.
//
// Usage:
//
//	go run backend.go -port 8081 -token a
//	go run backend.go -port 8082 -token b -h2c
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	token := flag.String("token", "", "response body (defaults to the port)")
	enableH2C := flag.Bool("h2c", false, "also accept cleartext HTTP/2")
	verbose := flag.Bool("v", false, "log every request")
	flag.Parse()

	if *token == "" {
		*token = fmt.Sprintf("%d", *port)
	}

	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if *verbose {
			log.Printf("request: method=%s path=%s proto=%s from=%s", r.Method, r.URL.Path, r.Proto, r.RemoteAddr)
		}
		// drain the body so uploads through the proxy complete
		_, _ = io.Copy(io.Discard, r.Body)

		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("X-Backend-Server", *token)
		_, _ = io.WriteString(w, *token)
	})

	if *enableH2C {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("starting backend %q on %s (h2c=%v)", *token, addr, *enableH2C)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
