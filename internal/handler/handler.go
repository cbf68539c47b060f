package handler

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/peregrein/peregrein/internal/backend"
	"github.com/peregrein/peregrein/internal/metrics"
)

// ProxyHandler serves one virtual server by relaying every request through a
// Forwarder, typically a rate limiter wrapping a pool.
type ProxyHandler struct {
	logger    *slog.Logger
	server    string
	forwarder backend.Forwarder
	emitter   metrics.Emitter
}

// hopHeaders are connection-specific and must not be relayed to an HTTP/2
// client (RFC 9113 section 8.2.2).
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.emitter.Emit(metrics.MetricEvent{
		Type:      metrics.EventRequestReceived,
		Timestamp: time.Now(),
		Server:    h.server,
	})

	h.logger.Debug("Received request",
		slog.String("server", h.server),
		slog.String("from", extractClientIP(r)),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto))

	resp, err := h.forwarder.Forward(r)
	if err != nil {
		if r.Context().Err() != nil {
			h.logger.Debug("Client went away before the backend answered",
				slog.String("server", h.server),
				slog.Any("err", err))
			return
		}

		h.logger.Warn("Bad gateway",
			slog.String("server", h.server),
			slog.String("path", r.URL.Path),
			slog.Any("err", err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	copyHeader(header, resp.Header)
	removeHopHeaders(header)

	w.WriteHeader(resp.StatusCode)

	if err := copyBody(w, resp.Body); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Debug("Response copy aborted",
			slog.String("server", h.server),
			slog.Any("err", err))
		return
	}

	// trailer values are only known once the body hit EOF
	for name, values := range resp.Trailer {
		for _, v := range values {
			header.Add(http.TrailerPrefix+name, v)
		}
	}
}

func copyHeader(dst, src http.Header) {
	for name, values := range src {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func removeHopHeaders(h http.Header) {
	for _, field := range h.Values("Connection") {
		for _, name := range strings.Split(field, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// copyBody streams src to w, flushing after every chunk so long-lived
// responses reach the client as they are produced.
func copyBody(w http.ResponseWriter, src io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}
		if readErr != nil {
			return readErr
		}
	}
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func NewProxyHandler(logger *slog.Logger, server string, forwarder backend.Forwarder, emitter metrics.Emitter) *ProxyHandler {
	if emitter == nil {
		emitter = metrics.Discard
	}

	return &ProxyHandler{
		logger:    logger,
		server:    server,
		forwarder: forwarder,
		emitter:   emitter,
	}
}
