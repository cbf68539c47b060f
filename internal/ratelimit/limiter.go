package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/peregrein/peregrein/internal/backend"
	"github.com/peregrein/peregrein/internal/proxyerr"
)

// Window is the span over which at most qps calls are admitted.
const Window = time.Second

// ErrClosed is returned to callers still waiting when the limiter is closed.
var ErrClosed = errors.New("rate limiter closed")

// Limiter caps the rate of calls reaching a downstream Forwarder. Callers are
// delayed, never rejected. Only admission is serialized: once a permit is
// granted the downstream call runs concurrently with other admitted calls.
type Limiter struct {
	inner    backend.Forwarder
	qps      int
	clock    clockwork.Clock
	requests chan permitRequest
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

type permitRequest struct {
	ctx     context.Context
	granted chan struct{}
}

type Option func(*Limiter)

// WithClock overrides the real clock; tests pass a clockwork fake.
func WithClock(c clockwork.Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// New wraps inner so that at most qps calls are admitted in any rolling
// Window. The permit-granting goroutine starts immediately and runs until
// Close.
func New(inner backend.Forwarder, qps int, opts ...Option) (*Limiter, error) {
	if inner == nil {
		return nil, proxyerr.NewConfigError("rate limiter", "no downstream forwarder", nil)
	}
	if qps <= 0 {
		return nil, proxyerr.NewConfigError("rate limiter", "qps must be positive", nil)
	}

	l := &Limiter{
		inner:    inner,
		qps:      qps,
		clock:    clockwork.NewRealClock(),
		requests: make(chan permitRequest),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	go l.run()

	return l, nil
}

// Forward waits for a permit and then calls the downstream forwarder. It only
// fails early if req's context ends or the limiter is closed while waiting.
func (l *Limiter) Forward(req *http.Request) (*http.Response, error) {
	if err := l.Wait(req.Context()); err != nil {
		return nil, err
	}
	return l.inner.Forward(req)
}

// Wait blocks until a permit is granted.
func (l *Limiter) Wait(ctx context.Context) error {
	pr := permitRequest{ctx: ctx, granted: make(chan struct{})}

	select {
	case l.requests <- pr:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}

	select {
	case <-pr.granted:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}
}

// QPS returns the configured rate.
func (l *Limiter) QPS() int {
	return l.qps
}

// Close stops granting permits and waits for the granting goroutine to exit.
func (l *Limiter) Close() {
	l.once.Do(func() {
		close(l.done)
	})
	<-l.stopped
}

// run owns the window state. grants is a ring holding the times of the last
// qps grants; next indexes the oldest once the ring is full. A new permit is
// due when the oldest grant has left the window.
func (l *Limiter) run() {
	defer close(l.stopped)

	grants := make([]time.Time, l.qps)
	next, filled := 0, 0

	for {
		var pr permitRequest
		select {
		case pr = <-l.requests:
		case <-l.done:
			return
		}

		if filled == l.qps {
			if wait := grants[next].Add(Window).Sub(l.clock.Now()); wait > 0 {
				timer := l.clock.NewTimer(wait)
				select {
				case <-timer.Chan():
				case <-pr.ctx.Done():
					timer.Stop()
					continue
				case <-l.done:
					timer.Stop()
					return
				}
			}
		}

		grants[next] = l.clock.Now()
		next = (next + 1) % l.qps
		if filled < l.qps {
			filled++
		}
		close(pr.granted)
	}
}
