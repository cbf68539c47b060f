// Package handler implements the per-request entry point of a virtual server.
// It hands each request to the forwarding pipeline and streams the upstream
// response back, translating forward failures into 502 Bad Gateway.
package handler
