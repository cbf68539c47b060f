// Package logger builds the structured slog logger used across the proxy:
// text output in dev and staging, JSON in prod, written to stdout or appended
// to a log file.
package logger
