package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/peregrein/peregrein/internal/proxyerr"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = 1 * time.Second
)

// Listener accepts connections for one virtual server and serves each of them
// with its own cleartext HTTP/2 (prior knowledge) loop. Requests within a
// connection are dispatched concurrently by the HTTP/2 layer.
type Listener struct {
	name    string
	addr    string
	handler http.Handler
	logger  *slog.Logger
	h2      *http2.Server

	mutex  sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewListener prepares a listener for server name on all interfaces at port.
// Nothing is bound until Bind.
func NewListener(name string, port int, handler http.Handler, logger *slog.Logger) *Listener {
	return &Listener{
		name:    name,
		addr:    net.JoinHostPort("0.0.0.0", strconv.Itoa(port)),
		handler: handler,
		logger:  logger.With(slog.String("server", name)),
		h2:      &http2.Server{},
		conns:   make(map[net.Conn]struct{}),
	}
}

// Bind opens the listening socket. Failure is a *proxyerr.BindError.
func (l *Listener) Bind() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return &proxyerr.BindError{Server: l.name, Addr: l.addr, Err: err}
	}
	return l.attach(ln)
}

func (l *Listener) attach(ln net.Listener) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.closed {
		ln.Close()
		return net.ErrClosed
	}
	if l.ln != nil {
		ln.Close()
		return fmt.Errorf("server %q already bound to %s", l.name, l.ln.Addr())
	}

	l.ln = ln
	l.logger.Info("Listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Bind.
func (l *Listener) Addr() net.Addr {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Serve runs the accept loop until ctx is cancelled or Close is called, then
// closes every active connection and returns nil. Accept errors other than
// closure are retried with backoff; nothing inside a connection can stop it.
func (l *Listener) Serve(ctx context.Context) error {
	l.mutex.Lock()
	ln := l.ln
	l.mutex.Unlock()

	if ln == nil {
		return fmt.Errorf("server %q: Serve called before Bind", l.name)
	}

	stop := context.AfterFunc(ctx, l.Close)
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				l.Close()
				l.wg.Wait()
				return nil
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			l.logger.Warn("Accept failed, retrying",
				slog.Any("err", err),
				slog.Duration("backoff", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !l.track(conn) {
			conn.Close()
			continue
		}

		l.wg.Add(1)
		go l.serveConn(ctx, conn)
	}
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()
	defer l.untrack(conn)
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Connection handler panicked",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	l.logger.Debug("Connection accepted", slog.String("remote", conn.RemoteAddr().String()))

	l.h2.ServeConn(conn, &http2.ServeConnOpts{
		Context: ctx,
		Handler: l.handler,
	})

	l.logger.Debug("Connection closed", slog.String("remote", conn.RemoteAddr().String()))
}

func (l *Listener) track(conn net.Conn) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.closed {
		return false
	}
	l.conns[conn] = struct{}{}
	return true
}

func (l *Listener) untrack(conn net.Conn) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	delete(l.conns, conn)
}

func (l *Listener) isClosed() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.closed
}

// ActiveConnections returns the number of connections being served.
func (l *Listener) ActiveConnections() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.conns)
}

// Close stops accepting and tears down every active connection. It is safe to
// call more than once.
func (l *Listener) Close() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.closed {
		return
	}
	l.closed = true

	if l.ln != nil {
		l.ln.Close()
	}
	for conn := range l.conns {
		conn.Close()
	}
}
