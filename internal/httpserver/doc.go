// Package httpserver holds the network front of the proxy.
//
// A Listener serves one virtual server: it binds 0.0.0.0:port, accepts
// connections in its own loop and runs a cleartext HTTP/2 session per
// connection. A failing or panicking connection never takes the listener
// down. Server is the smaller admin endpoint used for metrics.
package httpserver
