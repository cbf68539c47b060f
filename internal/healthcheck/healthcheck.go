package healthcheck

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/peregrein/peregrein/internal/metrics"
)

const dialTimeout = 2 * time.Second

// Target is a backend address to probe. Label is how it is reported in
// metrics, usually "server/backend".
type Target struct {
	Label   string
	Address string
}

// Dialer opens the probe connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// HealthCheck periodically dials target and reports when it becomes
// reachable or unreachable. It never changes routing; a backend that is down
// keeps receiving its share of requests.
func HealthCheck(
	ctx context.Context,
	target Target,
	interval time.Duration,
	dialer Dialer,
	emitter metrics.Emitter,
	logger *slog.Logger,
) {
	if dialer == nil {
		dialer = &net.Dialer{Timeout: dialTimeout}
	}
	if emitter == nil {
		emitter = metrics.Discard
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var known, healthy bool

	for {
		select {
		case <-ctx.Done():
			logger.Info("Health check stopped",
				slog.String("backend", target.Label))
			return

		case <-ticker.C:
			reachable := probe(ctx, dialer, target.Address)
			if ctx.Err() != nil {
				continue
			}

			if known && reachable == healthy {
				continue
			}
			known, healthy = true, reachable

			emitter.Emit(metrics.MetricEvent{
				Type:      metrics.EventHealthChanged,
				Timestamp: time.Now(),
				Backend:   target.Label,
				Healthy:   healthy,
			})

			if healthy {
				logger.Info("Backend is reachable",
					slog.String("backend", target.Label),
					slog.String("addr", target.Address))
			} else {
				logger.Warn("Backend is unreachable",
					slog.String("backend", target.Label),
					slog.String("addr", target.Address))
			}
		}
	}
}

func probe(ctx context.Context, dialer Dialer, addr string) bool {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
