package postbus

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// EnvLogLevel overrides the minimal level of the default logger.
const EnvLogLevel = "POSTBUS_LOG_LEVEL"

// logger gates every LogFunc behind the UseLogger switch of Config.
type logger struct {
	enabled atomic.Bool

	debug, info, warn, errorf LogFunc
}

func newLogger(l zerolog.Logger) *logger {
	lg := &logger{}
	lg.useZerolog(l)
	return lg
}

func (l *logger) useZerolog(zl zerolog.Logger) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		zl = zl.Level(lvl)
	}
	l.debug = levelFunc(zl, zerolog.DebugLevel)
	l.info = levelFunc(zl, zerolog.InfoLevel)
	l.warn = levelFunc(zl, zerolog.WarnLevel)
	l.errorf = levelFunc(zl, zerolog.ErrorLevel)
}

func (l *logger) setEnabled(v bool) {
	l.enabled.Store(v)
}

func (l *logger) Debug(format string, args ...interface{}) {
	if l.enabled.Load() {
		l.debug(format, args...)
	}
}

func (l *logger) Info(format string, args ...interface{}) {
	if l.enabled.Load() {
		l.info(format, args...)
	}
}

func (l *logger) Warn(format string, args ...interface{}) {
	if l.enabled.Load() {
		l.warn(format, args...)
	}
}

func (l *logger) Error(format string, args ...interface{}) {
	if l.enabled.Load() {
		l.errorf(format, args...)
	}
}

func levelFunc(l zerolog.Logger, level zerolog.Level) LogFunc {
	return func(format string, args ...interface{}) {
		l.WithLevel(level).Msg(fmt.Sprintf(format, args...))
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
