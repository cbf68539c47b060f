// Package strategy implements backend selection algorithms over candidates
// that expose nothing but their in-flight load:
//
//   - Power of two choices (default): sample two distinct candidates, take the less loaded
//   - Round Robin: Sequential distribution across candidates
//   - Random: Uniform random selection
//   - Least Connections: Full scan for the lowest load
//
// Strategies are safe for concurrent use and never mutate loads; load
// accounting belongs to the pool that owns the candidates.
package strategy
