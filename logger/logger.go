// Package logger defines the minimal structured-logging surface the engine
// needs, with phuslu-backed, slog-backed and no-op implementations.
package logger

// Logger accepts a message plus alternating key/value pairs.
type Logger interface {
	Error(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}
