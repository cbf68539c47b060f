package proxyerr_test

import (
	"errors"
	"fmt"
	"syscall"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/peregrein/peregrein/internal/proxyerr"
)

var _ = Describe("Errors", func() {
	Describe("ConfigError", func() {
		It("should describe component and reason", func() {
			err := proxyerr.NewConfigError("pool \"web\"", "empty backend set", proxyerr.ErrNoBackends)
			Expect(err.Error()).To(Equal(`config error in pool "web": empty backend set: no backends configured`))
		})

		It("should unwrap to the underlying cause", func() {
			err := fmt.Errorf("startup: %w", proxyerr.NewConfigError("pool", "", proxyerr.ErrNoBackends))
			Expect(errors.Is(err, proxyerr.ErrNoBackends)).To(BeTrue())
			Expect(proxyerr.IsConfig(err)).To(BeTrue())
			Expect(proxyerr.IsBind(err)).To(BeFalse())
		})
	})

	Describe("BindError", func() {
		It("should be detectable through wrapping", func() {
			err := fmt.Errorf("listener: %w", &proxyerr.BindError{Server: "web", Addr: ":80", Err: syscall.EADDRINUSE})
			Expect(proxyerr.IsBind(err)).To(BeTrue())
			Expect(errors.Is(err, syscall.EADDRINUSE)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring(`server "web": bind :80`))
		})
	})

	Describe("ForwardError", func() {
		It("should name the backend", func() {
			err := &proxyerr.ForwardError{Backend: "http://localhost:8081", Err: syscall.ECONNREFUSED}
			Expect(err.Error()).To(HavePrefix("forward to http://localhost:8081"))
			Expect(proxyerr.IsForward(err)).To(BeTrue())
			Expect(errors.Is(err, syscall.ECONNREFUSED)).To(BeTrue())
		})
	})
})
