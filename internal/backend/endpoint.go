package backend

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/net/http2"

	"github.com/peregrein/peregrein/internal/proxyerr"
)

// Kind selects the wire protocol used towards a backend.
type Kind int

const (
	KindHTTP1 Kind = iota // HTTP/1.1 keep-alive
	KindH2C               // prior-knowledge cleartext HTTP/2
)

func (k Kind) String() string {
	switch k {
	case KindHTTP1:
		return "http1"
	case KindH2C:
		return "h2c"
	default:
		return "unknown"
	}
}

// Definition describes one backend as loaded from configuration.
type Definition struct {
	Name      string
	Host      string
	Port      int
	EnableH2C bool
}

// Kind returns the protocol variant the definition selects.
func (d Definition) Kind() Kind {
	if d.EnableH2C {
		return KindH2C
	}
	return KindHTTP1
}

// Validate checks host and port.
func (d Definition) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Host, validation.Required, is.Host),
		validation.Field(&d.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// Forwarder is anything that can relay a request and return the upstream
// response. Endpoints, pools and rate limiters all implement it, which is what
// lets them be stacked into one pipeline.
type Forwarder interface {
	Forward(req *http.Request) (*http.Response, error)
}

// ForwarderFunc adapts a function to the Forwarder interface.
type ForwarderFunc func(req *http.Request) (*http.Response, error)

func (f ForwarderFunc) Forward(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Endpoint forwards requests to a single backend address.
type Endpoint struct {
	def       Definition
	target    *url.URL
	transport http.RoundTripper
	closeIdle func()
}

const (
	dialTimeout     = 10 * time.Second
	keepAlivePeriod = 30 * time.Second
	idleConnTimeout = 90 * time.Second
	maxIdlePerHost  = 64
)

// New builds an Endpoint for def. The connection client is created eagerly but
// dials lazily on the first Forward.
func New(def Definition) (*Endpoint, error) {
	component := fmt.Sprintf("backend %q", def.Name)

	if err := def.Validate(); err != nil {
		return nil, proxyerr.NewConfigError(component, "invalid address", err)
	}

	target, err := url.Parse("http://" + net.JoinHostPort(def.Host, strconv.Itoa(def.Port)))
	if err != nil {
		return nil, proxyerr.NewConfigError(component, "invalid address", err)
	}

	e := &Endpoint{def: def, target: target}

	switch def.Kind() {
	case KindH2C:
		t := newH2CTransport()
		e.transport, e.closeIdle = t, t.CloseIdleConnections
	default:
		t := newHTTP1Transport()
		e.transport, e.closeIdle = t, t.CloseIdleConnections
	}

	return e, nil
}

func newDialer() *net.Dialer {
	return &net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlivePeriod}
}

// newHTTP1Transport never negotiates HTTP/2 and never decompresses bodies, so
// what the backend sends is what the client gets.
func newHTTP1Transport() *http.Transport {
	return &http.Transport{
		DialContext:           newDialer().DialContext,
		MaxIdleConns:          maxIdlePerHost,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		IdleConnTimeout:       idleConnTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
		ForceAttemptHTTP2:     false,
		TLSNextProto:          map[string]func(string, *tls.Conn) http.RoundTripper{},
	}
}

// newH2CTransport speaks HTTP/2 with prior knowledge over plain TCP. The
// http2 package only dials through DialTLSContext, so it is pointed at an
// ordinary dialer.
func newH2CTransport() *http2.Transport {
	dialer := newDialer()
	return &http2.Transport{
		AllowHTTP:          true,
		DisableCompression: true,
		IdleConnTimeout:    idleConnTimeout,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	}
}

// Forward relays req to the backend. Only the scheme and authority are
// rewritten; method, path, query, headers and body pass through untouched.
// Transport failures come back as *proxyerr.ForwardError.
func (e *Endpoint) Forward(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.RequestURI = ""
	out.URL.Scheme = e.target.Scheme
	out.URL.Host = e.target.Host
	out.Host = e.target.Host
	out.Close = false
	// an empty value stops both transports from adding their default
	if _, ok := out.Header["User-Agent"]; !ok {
		out.Header.Set("User-Agent", "")
	}
	if req.ContentLength == 0 {
		out.Body = nil
	}

	resp, err := e.transport.RoundTrip(out)
	if err != nil {
		return nil, &proxyerr.ForwardError{Backend: e.target.String(), Err: err}
	}

	return resp, nil
}

// Name returns the configured backend name.
func (e *Endpoint) Name() string {
	return e.def.Name
}

// Address returns host:port.
func (e *Endpoint) Address() string {
	return e.target.Host
}

// URL returns the backend base URL.
func (e *Endpoint) URL() *url.URL {
	return e.target
}

// Kind reports whether the endpoint speaks HTTP/1.1 or h2c upstream.
func (e *Endpoint) Kind() Kind {
	return e.def.Kind()
}

// Close drops idle upstream connections. In-flight requests are unaffected.
func (e *Endpoint) Close() {
	e.closeIdle()
}
