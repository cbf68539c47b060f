package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/peregrein/peregrein/config"
	"github.com/peregrein/peregrein/internal/backend"
	"github.com/peregrein/peregrein/internal/handler"
	"github.com/peregrein/peregrein/internal/healthcheck"
	"github.com/peregrein/peregrein/internal/httpserver"
	"github.com/peregrein/peregrein/internal/metrics"
	"github.com/peregrein/peregrein/internal/pool"
	"github.com/peregrein/peregrein/internal/proxyerr"
	"github.com/peregrein/peregrein/internal/ratelimit"
	"github.com/peregrein/peregrein/internal/strategy"
)

// virtualServer is the request path of one configured server:
// listener -> handler -> [limiter] -> pool -> endpoints.
type virtualServer struct {
	name     string
	pool     *pool.Pool
	limiter  *ratelimit.Limiter
	listener *httpserver.Listener
}

func (v *virtualServer) Close() {
	v.listener.Close()
	if v.limiter != nil {
		v.limiter.Close()
	}
	v.pool.Close()
}

func buildServers(cfgs []config.ServerConfig, emitter metrics.Emitter, log *slog.Logger) ([]*virtualServer, error) {
	servers := make([]*virtualServer, 0, len(cfgs))

	for _, sc := range cfgs {
		vs, err := buildServer(sc, emitter, log)
		if err != nil {
			closeServers(servers)
			return nil, err
		}
		servers = append(servers, vs)
	}

	return servers, nil
}

func buildServer(sc config.ServerConfig, emitter metrics.Emitter, log *slog.Logger) (*virtualServer, error) {
	if sc.Protocol == config.ProtocolHTTPS {
		return nil, proxyerr.NewConfigError(fmt.Sprintf("server %q", sc.Name), "protocol https is not supported", nil)
	}

	strat, err := createStrategy(log, sc.Strategy)
	if err != nil {
		return nil, proxyerr.NewConfigError(fmt.Sprintf("server %q", sc.Name), "strategy", err)
	}

	p, err := pool.FromDefinitions(sc.Name, sc.BackendDefinitions(),
		pool.WithStrategy(strat),
		pool.WithEmitter(emitter),
		pool.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	var (
		forwarder backend.Forwarder = p
		limiter   *ratelimit.Limiter
	)
	if sc.RateLimit > 0 {
		limiter, err = ratelimit.New(p, sc.RateLimit)
		if err != nil {
			p.Close()
			return nil, err
		}
		forwarder = limiter
	}

	h := handler.NewProxyHandler(log, sc.Name, forwarder, emitter)

	log.Info("Server configured",
		slog.String("server", sc.Name),
		slog.Int("port", sc.Port),
		slog.String("protocol", sc.Protocol),
		slog.Any("backends", p.Names()),
		slog.Int("rate_limit", sc.RateLimit))

	return &virtualServer{
		name:     sc.Name,
		pool:     p,
		limiter:  limiter,
		listener: httpserver.NewListener(sc.Name, sc.Port, h, log),
	}, nil
}

func closeServers(servers []*virtualServer) {
	for _, s := range servers {
		s.Close()
	}
}

func createStrategy(logger *slog.Logger, name string) (strategy.Strategy, error) {
	strat, err := strategy.ByName(name)
	if err != nil {
		logger.Warn("Unknown strategy", slog.String("requested", name))
		return nil, err
	}
	return strat, nil
}

// startHealthChecks launches one probe per backend when an interval is
// configured. Probes stop with ctx.
func startHealthChecks(ctx context.Context, cfg *config.Config, emitter metrics.Emitter, log *slog.Logger) int {
	interval := cfg.HealthCheck.Duration()
	if interval <= 0 {
		return 0
	}

	started := 0
	for _, sc := range cfg.Servers {
		for _, def := range sc.BackendDefinitions() {
			target := healthcheck.Target{
				Label:   sc.Name + "/" + def.Name,
				Address: net.JoinHostPort(def.Host, strconv.Itoa(def.Port)),
			}
			go healthcheck.HealthCheck(ctx, target, interval, nil, emitter, log)
			started++
		}
	}

	log.Info("Health checks started", slog.Int("backends", started), slog.Duration("interval", interval))
	return started
}
