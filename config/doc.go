// Package config loads the proxy configuration from a YAML or TOML file with
// PEREGREIN_* environment overrides. It defines the virtual servers, their
// named backends, and the logging, admin and health check settings.
package config
