// Package log is the process-wide logging facade. It wraps hclog so that
// call sites stay printf-shaped.
package log

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	mu     sync.RWMutex
	logger hclog.Logger = hclog.NewNullLogger()
)

// Init configures the process logger. The level comes from PINBALL_LOG_LEVEL
// (trace, debug, info, warn, error); empty means info.
func Init(name string) {
	level := hclog.LevelFromString(os.Getenv("PINBALL_LOG_LEVEL"))
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	mu.Lock()
	defer mu.Unlock()
	logger = hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		JSONFormat: true,
	})
}

// SetLogger replaces the process logger. Used by tests.
func SetLogger(l hclog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

func get() hclog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(format string, args ...any) {
	get().Debug(fmt.Sprintf(format, args...))
}

func Info(format string, args ...any) {
	get().Info(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...any) {
	get().Warn(fmt.Sprintf(format, args...))
}

func Error(format string, args ...any) {
	get().Error(fmt.Sprintf(format, args...))
}

func Debugf(ctx context.Context, format string, args ...any) {
	get().Debug(fmt.Sprintf(format, args...))
}

func Infof(ctx context.Context, format string, args ...any) {
	get().Info(fmt.Sprintf(format, args...))
}

func Errorf(ctx context.Context, format string, args ...any) {
	get().Error(fmt.Sprintf(format, args...))
}
