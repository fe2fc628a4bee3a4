// Package logger builds the process-wide sugared logger.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	instance *zap.SugaredLogger
	once     sync.Once
)

type Config struct {
	Development bool
	Level       string // debug, info, warn, error; empty keeps the preset
}

// New builds the shared "realtime" logger on first call; later calls return
// the same instance.
func New(cfg Config) (*zap.SugaredLogger, error) {
	var err error
	once.Do(func() {
		zcfg := zap.NewProductionConfig()
		if cfg.Development {
			zcfg = zap.NewDevelopmentConfig()
		}
		if cfg.Level != "" {
			var lvl zapcore.Level
			if lvl, err = zapcore.ParseLevel(cfg.Level); err != nil {
				return
			}
			zcfg.Level = zap.NewAtomicLevelAt(lvl)
		}
		var l *zap.Logger
		if l, err = zcfg.Build(); err != nil {
			return
		}
		instance = l.Named("realtime").Sugar()
	})
	return instance, err
}
