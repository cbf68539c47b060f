// Package healthcheck probes backend reachability with periodic TCP dials.
// Results are logged and reported as metrics events; routing does not
// consult them.
package healthcheck
