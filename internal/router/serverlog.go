package router

import (
	"errors"
	"fmt"
	"log/slog"
	"syscall"
)

// serverLogger adapts the embedded server's logger to slog. Fatal messages
// are not fatal to the process: the first one is kept as an error for the
// bind in progress.
type serverLogger struct {
	logger *slog.Logger
	fatal  chan error
}

func newServerLogger(logger *slog.Logger) *serverLogger {
	return &serverLogger{
		logger: logger.With("component", "nats"),
		fatal:  make(chan error, 1),
	}
}

func (l *serverLogger) Noticef(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *serverLogger) Warnf(format string, v ...any) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l *serverLogger) Errorf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

func (l *serverLogger) Debugf(string, ...any) {}

func (l *serverLogger) Tracef(string, ...any) {}

func (l *serverLogger) Fatalf(format string, v ...any) {
	err := serverFailure(format, v)
	l.logger.Error("server failed", "err", err)
	select {
	case l.fatal <- err:
	default:
	}
}

// serverFailure builds the error for a fatal server message. A listen
// failure on a held port is reported as ErrBindConflict.
func serverFailure(format string, v []any) error {
	msg := fmt.Sprintf(format, v...)
	for _, arg := range v {
		if err, ok := arg.(error); ok && errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %s", ErrBindConflict, msg)
		}
	}
	return errors.New(msg)
}
