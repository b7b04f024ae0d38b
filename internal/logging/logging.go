// Package logging adapts go.uber.org/zap to the Logf closure shape
// threaded through Server structs across the tree (imapserver.Server.Logf,
// ctdlproto.Server.Logf, msgstore.Store.Logf), so only this package
// imports zap directly.
package logging

import (
	"go.uber.org/zap"
)

// New builds a Logf closure backed by a production zap logger at the
// given level ("debug", "info", "warn", "error").
func New(level string) (func(format string, v ...interface{}), func() error, error) {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	sugar := logger.Sugar()
	logf := func(format string, v ...interface{}) {
		sugar.Infof(format, v...)
	}
	return logf, logger.Sync, nil
}

// Discard is a Logf that does nothing, used by tests that don't care
// about log output.
func Discard(format string, v ...interface{}) {}
