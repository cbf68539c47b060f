// Package proxyerr defines the proxy's error taxonomy. Configuration and bind
// errors are fatal at startup; forward errors are contained to one request.
// The rate limiter never rejects, so there is no rate-limit error.
package proxyerr
