// Package ratelimit provides a Forwarder decorator that caps the call rate
// flowing to any downstream Forwarder. A single goroutine owns the window
// state and hands out permits over a channel; requests are delayed until a
// permit is available and are never rejected.
package ratelimit
