// Package log wraps zap in the same sync.Once singleton shape this
// lineage has always used for its structured logger.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/synckairos/synckairos/internal/config"
)

type Logger struct {
	Core  *zap.Logger
	Sugar *zap.SugaredLogger
}

var (
	instance *Logger
	once     sync.Once
)

// InitForService builds the singleton logger, tagging every line with
// the service name so multi-binary deployments can be told apart in
// aggregated log storage.
func InitForService(service string) *Logger {
	once.Do(func() {
		cfg := config.GetInstance().Log
		level := zapcore.Level(cfg.LogLevel)

		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(level)
		zcfg.DisableStacktrace = !cfg.EnableStacktrace
		zcfg.InitialFields = map[string]interface{}{"service": service}

		core, err := zcfg.Build()
		if err != nil {
			panic("log: failed to build zap logger: " + err.Error())
		}
		instance = &Logger{Core: core, Sugar: core.Sugar()}
	})
	return instance
}

// GetInstance returns the already-initialized logger, or a no-op
// development logger if InitForService was never called (tests).
func GetInstance() *Logger {
	if instance == nil {
		core := zap.NewNop()
		return &Logger{Core: core, Sugar: core.Sugar()}
	}
	return instance
}
