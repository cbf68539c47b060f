package pool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/peregrein/peregrein/internal/backend"
	"github.com/peregrein/peregrein/internal/metrics"
	"github.com/peregrein/peregrein/internal/proxyerr"
	"github.com/peregrein/peregrein/internal/strategy"
)

// Target is a named forwarder the pool can route to.
type Target struct {
	Name      string
	Forwarder backend.Forwarder
}

type member struct {
	name  string
	label string
	fwd   backend.Forwarder
	load  atomic.Int64
}

func (m *member) Load() int64 {
	return m.load.Load()
}

// Pool routes each request to one of a fixed set of members and tracks how
// many requests each member has in flight. A Pool is safe for concurrent use
// and is meant to be shared by every connection of a virtual server.
type Pool struct {
	server     string
	members    []*member
	candidates []strategy.Candidate
	strategy   strategy.Strategy
	emitter    metrics.Emitter
	logger     *slog.Logger
	closers    []func()
}

// Option configures a Pool.
type Option func(*Pool)

// WithStrategy replaces the default power-of-two-choices selection.
func WithStrategy(s strategy.Strategy) Option {
	return func(p *Pool) {
		p.strategy = s
	}
}

// WithEmitter reports selections and completions to a metrics sink.
func WithEmitter(e metrics.Emitter) Option {
	return func(p *Pool) {
		p.emitter = e
	}
}

// WithLogger sets the logger used for failed forwards.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

// New builds a pool for server over targets. An empty target set is a
// ConfigError and nothing is constructed.
func New(server string, targets []Target, opts ...Option) (*Pool, error) {
	if len(targets) == 0 {
		return nil, proxyerr.NewConfigError(fmt.Sprintf("pool %q", server), "empty backend set", proxyerr.ErrNoBackends)
	}

	p := &Pool{
		server:     server,
		members:    make([]*member, len(targets)),
		candidates: make([]strategy.Candidate, len(targets)),
		strategy:   strategy.NewPowerOfTwo(),
		emitter:    metrics.Discard,
		logger:     slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(p)
	}

	for i, t := range targets {
		m := &member{name: t.Name, label: server + "/" + t.Name, fwd: t.Forwarder}
		p.members[i] = m
		p.candidates[i] = m
	}

	return p, nil
}

// FromDefinitions builds one Endpoint per definition, ordered by backend name,
// and wraps them in a pool. If any endpoint fails to build, the ones already
// built are closed and the error is returned.
func FromDefinitions(server string, defs []backend.Definition, opts ...Option) (*Pool, error) {
	if len(defs) == 0 {
		return nil, proxyerr.NewConfigError(fmt.Sprintf("pool %q", server), "empty backend set", proxyerr.ErrNoBackends)
	}

	sorted := make([]backend.Definition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	targets := make([]Target, 0, len(sorted))
	closers := make([]func(), 0, len(sorted))

	for _, def := range sorted {
		ep, err := backend.New(def)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, err
		}
		targets = append(targets, Target{Name: def.Name, Forwarder: ep})
		closers = append(closers, ep.Close)
	}

	p, err := New(server, targets, opts...)
	if err != nil {
		return nil, err
	}
	p.closers = closers

	return p, nil
}

// Forward selects a member and dispatches req to it. The member's load is
// held until the response body is closed or fully read, the request context
// ends, or the forward fails, whichever comes first. A failure is returned
// as-is; no other member is tried.
func (p *Pool) Forward(req *http.Request) (*http.Response, error) {
	idx := p.strategy.Select(p.candidates)
	m := p.members[idx]

	release := m.acquire(req.Context())
	p.emitter.Emit(metrics.MetricEvent{
		Type:      metrics.EventBackendSelected,
		Timestamp: time.Now(),
		Backend:   m.label,
	})

	start := time.Now()
	resp, err := m.fwd.Forward(req)
	if err != nil {
		release()
		p.logger.Debug("Forward failed",
			slog.String("server", p.server),
			slog.String("backend", m.name),
			slog.Any("err", err))
		p.emitter.Emit(metrics.MetricEvent{
			Type:      metrics.EventForwardFailed,
			Timestamp: time.Now(),
			Backend:   m.label,
			Duration:  time.Since(start),
		})
		return nil, err
	}

	p.emitter.Emit(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Timestamp:  time.Now(),
		Backend:    m.label,
		Duration:   time.Since(start),
		StatusCode: resp.StatusCode,
	})

	if resp.Body == nil || resp.Body == http.NoBody {
		release()
		return resp, nil
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}

	return resp, nil
}

// acquire claims one in-flight slot on m. The returned func gives it back and
// is safe to call any number of times; cancellation of ctx also gives it back.
func (m *member) acquire(ctx context.Context) func() {
	m.load.Add(1)

	var released atomic.Bool
	release := func() {
		if released.CompareAndSwap(false, true) {
			m.load.Add(-1)
		}
	}
	stop := context.AfterFunc(ctx, release)

	return func() {
		stop()
		release()
	}
}

type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil {
		b.release()
	}
	return n, err
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

// Loads returns a snapshot of every member's in-flight count, in member order.
func (p *Pool) Loads() []int64 {
	loads := make([]int64, len(p.members))
	for i, m := range p.members {
		loads[i] = m.load.Load()
	}
	return loads
}

// Names returns the member names in selection order.
func (p *Pool) Names() []string {
	names := make([]string, len(p.members))
	for i, m := range p.members {
		names[i] = m.name
	}
	return names
}

// Len returns the number of members.
func (p *Pool) Len() int {
	return len(p.members)
}

// Server returns the name of the virtual server the pool belongs to.
func (p *Pool) Server() string {
	return p.server
}

// Close releases idle upstream connections of endpoints the pool built.
func (p *Pool) Close() {
	for _, c := range p.closers {
		c()
	}
}
