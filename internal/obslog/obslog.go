// Package obslog centralizes the driver's logging configuration. It exists
// so every package that needs a logger (cache, container, driver) can
// share the same nil-defaults-to-no-op convention instead of repeating it
// (spec's ambient AMBIENT STACK, SPEC_FULL.md §2).
package obslog

import "go.uber.org/zap"

// Nop returns a logger that discards everything, used whenever a caller
// does not configure one.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// Or returns log if non-nil, otherwise a no-op logger.
func Or(log *zap.SugaredLogger) *zap.SugaredLogger {
	if log == nil {
		return Nop()
	}
	return log
}

// Production builds a JSON-structured logger suitable for a running
// service (as opposed to Development's console-friendly, colorized
// output). Both are thin wrappers over zap's own constructors so callers
// don't need to reach into zap configuration directly for the common case.
func Production() (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Development builds a human-readable logger for local runs and tests.
func Development() (*zap.SugaredLogger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
