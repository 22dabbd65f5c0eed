package types

// Logger is the structured logging interface used across the worker.
// *slog.Logger satisfies Info/Warn/Error directly; the With method returns
// the interface type so each main wraps slog in a small adapter.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}
