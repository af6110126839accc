// Package logging adapts zap to the auth Logger interface.
package logging

import (
	"go.uber.org/zap"

	auth "github.com/goliatone/go-session-auth"
)

// Logger wraps a zap SugaredLogger. Messages are taken verbatim and args are
// key/value pairs.
type Logger struct {
	sugar *zap.SugaredLogger
}

var _ auth.Logger = (*Logger)(nil)

// New returns an auth.Logger backed by logger, named "auth".
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{sugar: logger.Named("auth").Sugar()}
}

// NewZap builds the process logger: development config outside production.
func NewZap(production bool) (*zap.Logger, error) {
	if production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
