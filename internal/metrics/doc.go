// Package metrics provides real-time metrics collection for the proxy.
//
// It uses a channel-based event pipeline to asynchronously collect metrics about:
//   - Request counts per virtual server
//   - Backend selection frequencies
//   - Forward failures per backend
//   - Response times with percentile calculations (P50, P95, P99)
//   - HTTP status code distribution
//   - Reachability reported by the health probe
//
// The collector runs in a dedicated goroutine and processes events without blocking
// the request path. Emit drops events when the buffer is full rather than
// delaying a request.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Backend:    "web/backend1",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	snapshot := collector.Snapshot()
//
// Backends are labelled "server/backend" so the same backend name can appear
// under several virtual servers.
package metrics
