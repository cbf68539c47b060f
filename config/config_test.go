package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/peregrein/peregrein/config"
	"github.com/peregrein/peregrein/internal/backend"
	"github.com/peregrein/peregrein/internal/proxyerr"
)

const validYAML = `
log_config:
  log_path: ./peregrein.log
servers:
- name: test
  port: 8080
  protocol: Http
  backends:
    backend1:
      host: localhost
      port: 8081
      enable_h2c: true
    backend2:
      host: localhost
      port: 8082
`

const validTOML = `
[[servers]]
name = "test"
port = 8080
protocol = "Http"
rate_limit = 100

[servers.backends.backend1]
host = "localhost"
port = 8081
enable_h2c = true
`

var _ = Describe("Config", func() {
	var tempDir string

	write := func(name, content string) string {
		path := filepath.Join(tempDir, name)
		Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	Describe("Load", func() {
		Context("with a YAML file", func() {
			It("should load configuration successfully", func() {
				cfg, err := config.Load(write("config.yaml", validYAML))
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Environment).To(Equal(config.EnvDev))
				Expect(cfg.LogConfig.LogPath).To(Equal("./peregrein.log"))
				Expect(cfg.LogLevel()).To(Equal(config.LogLevelInfo))
				Expect(cfg.Servers).To(HaveLen(1))

				server := cfg.Servers[0]
				Expect(server.Name).To(Equal("test"))
				Expect(server.Port).To(Equal(8080))
				Expect(server.Protocol).To(Equal(config.ProtocolHTTP))
				Expect(server.RateLimit).To(BeZero())
				Expect(server.Backends).To(HaveLen(2))
				Expect(server.Backends["backend1"]).To(Equal(config.BackendConfig{Host: "localhost", Port: 8081, EnableH2C: true}))
				Expect(server.Backends["backend2"].EnableH2C).To(BeFalse())
			})

			It("should treat a file without extension as YAML", func() {
				cfg, err := config.Load(write(".peregrein.config", validYAML))
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Servers).To(HaveLen(1))
			})

			It("should log to stdout when no log_config is given", func() {
				cfg, err := config.Load(write("config.yaml", `
servers:
- name: test
  port: 8080
  protocol: tcp
  backends:
    b: {host: localhost, port: 8081}
`))
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.LogConfig.LogPath).To(BeEmpty())
				Expect(cfg.HealthCheck.Duration()).To(BeZero())
			})
		})

		Context("with a TOML file", func() {
			It("should load configuration successfully", func() {
				cfg, err := config.Load(write("config.toml", validTOML))
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Servers).To(HaveLen(1))
				server := cfg.Servers[0]
				Expect(server.Name).To(Equal("test"))
				Expect(server.Protocol).To(Equal(config.ProtocolHTTP))
				Expect(server.RateLimit).To(Equal(100))
				Expect(server.Backends["backend1"].Port).To(Equal(8081))
			})
		})

		Context("with an admin address", func() {
			It("should accept a valid host:port", func() {
				cfg, err := config.Load(write("config.yaml", validYAML+"admin:\n  address: 127.0.0.1:9100\n"))
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Admin.Address).To(Equal("127.0.0.1:9100"))
			})
		})

		Context("with duplicate server names", func() {
			It("should keep the first definition", func() {
				cfg, err := config.Load(write("config.yaml", `
servers:
- name: web
  port: 8080
  protocol: http
  backends:
    a: {host: localhost, port: 8081}
- name: web
  port: 9090
  protocol: http
  backends:
    b: {host: localhost, port: 9091}
- name: api
  port: 7070
  protocol: tcp
  backends:
    c: {host: localhost, port: 7071}
`))
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Servers).To(HaveLen(2))
				Expect(cfg.Servers[0].Name).To(Equal("web"))
				Expect(cfg.Servers[0].Port).To(Equal(8080))
				Expect(cfg.Servers[1].Name).To(Equal("api"))
			})
		})

		Context("with environment variables", func() {
			It("should override scalar settings", func() {
				GinkgoT().Setenv("PEREGREIN_ENVIRONMENT", config.EnvProd)
				GinkgoT().Setenv("PEREGREIN_HEALTH_CHECK_INTERVAL", "5s")

				cfg, err := config.Load(write("config.yaml", validYAML))
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Environment).To(Equal(config.EnvProd))
				Expect(cfg.HealthCheck.Duration().Seconds()).To(Equal(5.0))
			})
		})

		Context("with invalid input", func() {
			It("should fail with a ConfigError when the file is missing", func() {
				cfg, err := config.Load(filepath.Join(tempDir, "missing.yaml"))
				Expect(cfg).To(BeNil())
				Expect(proxyerr.IsConfig(err)).To(BeTrue())
			})

			DescribeTable("should reject",
				func(content string) {
					cfg, err := config.Load(write("config.yaml", content))
					Expect(cfg).To(BeNil())
					Expect(proxyerr.IsConfig(err)).To(BeTrue())
				},
				Entry("no servers", `environment: dev`),
				Entry("an unknown environment", `
environment: qa
servers:
- {name: t, port: 8080, protocol: http, backends: {b: {host: localhost, port: 8081}}}
`),
				Entry("an unknown protocol", `
servers:
- {name: t, port: 8080, protocol: udp, backends: {b: {host: localhost, port: 8081}}}
`),
				Entry("an out of range port", `
servers:
- {name: t, port: 70000, protocol: http, backends: {b: {host: localhost, port: 8081}}}
`),
				Entry("a server without backends", `
servers:
- {name: t, port: 8080, protocol: http}
`),
				Entry("a backend without host", `
servers:
- {name: t, port: 8080, protocol: http, backends: {b: {port: 8081}}}
`),
				Entry("an unknown strategy", `
servers:
- {name: t, port: 8080, protocol: http, strategy: consistent_hash, backends: {b: {host: localhost, port: 8081}}}
`),
				Entry("a negative rate limit", `
servers:
- {name: t, port: 8080, protocol: http, rate_limit: -1, backends: {b: {host: localhost, port: 8081}}}
`),
				Entry("a bad health check interval", `
health_check: {interval: often}
servers:
- {name: t, port: 8080, protocol: http, backends: {b: {host: localhost, port: 8081}}}
`),
				Entry("a bad admin address", `
admin: {address: "localhost:metrics"}
servers:
- {name: t, port: 8080, protocol: http, backends: {b: {host: localhost, port: 8081}}}
`),
				Entry("an unknown log level", `
log_config: {level: verbose}
servers:
- {name: t, port: 8080, protocol: http, backends: {b: {host: localhost, port: 8081}}}
`),
			)
		})
	})

	Describe("BackendDefinitions", func() {
		It("should convert backends ordered by name", func() {
			server := config.ServerConfig{
				Name: "web",
				Backends: map[string]config.BackendConfig{
					"zeta":  {Host: "localhost", Port: 8082},
					"alpha": {Host: "localhost", Port: 8081, EnableH2C: true},
				},
			}

			Expect(server.BackendDefinitions()).To(Equal([]backend.Definition{
				{Name: "alpha", Host: "localhost", Port: 8081, EnableH2C: true},
				{Name: "zeta", Host: "localhost", Port: 8082},
			}))
		})
	})
})
