// Package backend implements the endpoint forwarder. An Endpoint turns one
// backend definition into a Forwarder that rewrites the request authority and
// relays it over a persistent connection, using HTTP/1.1 keep-alive or
// cleartext HTTP/2 (h2c) depending on the definition.
package backend
