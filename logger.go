package slotdb

// Logger receives the database's operational events: open and close, journal
// replay, meta fallback, freelist relocation, failed commits and rolled back
// updates. The pager logs through the same value. Arguments are alternating
// key-value pairs, as with slog; package logger adapts zap and logrus.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// DiscardLogger drops every event. Open uses it unless WithLogger is given.
type DiscardLogger struct{}

func (DiscardLogger) Error(string, ...any) {}

func (DiscardLogger) Warn(string, ...any) {}

func (DiscardLogger) Info(string, ...any) {}
