package proxyerr

import (
	"errors"
	"fmt"
)

// ErrNoBackends is the reason carried by a ConfigError when a pool is built
// from an empty backend set.
var ErrNoBackends = errors.New("no backends configured")

// ConfigError reports a configuration problem detected while building a
// component. It is fatal and always raised before any traffic is accepted.
type ConfigError struct {
	Component string
	Reason    string
	Err       error
}

func (e *ConfigError) Error() string {
	msg := "config error"
	if e.Component != "" {
		msg += " in " + e.Component
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError builds a ConfigError for component.
func NewConfigError(component, reason string, err error) *ConfigError {
	return &ConfigError{Component: component, Reason: reason, Err: err}
}

// BindError reports that a virtual server could not bind its listen address.
type BindError struct {
	Server string
	Addr   string
	Err    error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("server %q: bind %s: %v", e.Server, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// ForwardError wraps any transport failure talking to a backend: refused or
// reset connections, timeouts, protocol negotiation failures.
type ForwardError struct {
	Backend string
	Err     error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("forward to %s: %v", e.Backend, e.Err)
}

func (e *ForwardError) Unwrap() error {
	return e.Err
}

// IsConfig reports whether err is, or wraps, a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsBind reports whether err is, or wraps, a BindError.
func IsBind(err error) bool {
	var be *BindError
	return errors.As(err, &be)
}

// IsForward reports whether err is, or wraps, a ForwardError.
func IsForward(err error) bool {
	var fe *ForwardError
	return errors.As(err, &fe)
}
