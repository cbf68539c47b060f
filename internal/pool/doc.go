// Package pool implements the backend pool: a fixed set of forwarders, a live
// in-flight counter per member, and a selection strategy (power of two
// choices unless configured otherwise).
//
// One Pool is built per virtual server and shared by all of its connections.
// Counters are per-member atomics, so concurrent dispatches to different
// members never contend. The pool never retries and never fails over: the
// chosen member's error is the caller's error.
package pool
