package logging

import "strings"

// Levels accepted by Logger.LogLevelf
const (
	LogLevelDebug = 0
	LogLevelInfo  = 1
	LogLevelWarn  = 2
	LogLevelError = 3
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

// LevelName returns the config name of a level, "error" for anything above
func LevelName(level int) string {
	return levelNames[clampLevel(level)]
}

type Logger interface {
	LogLevelf(level int, format string, args ...interface{})
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
}

type LogLevelFunc func(level int, format string, args ...interface{})
type LogFunc func(format string, args ...interface{})

// LogFuncs plugs a backend into NewLogger. LogLevelf, when set, receives
// every line; otherwise lines go to the per-level func, and levels without
// a func are dropped.
type LogFuncs struct {
	LogLevelf LogLevelFunc
	Debugf    LogFunc
	Infof     LogFunc
	Warnf     LogFunc
	Errorf    LogFunc
}

type prefixLogger struct {
	prefix   string
	levelled LogLevelFunc
	byLevel  [len(levelNames)]LogFunc
}

func NewLogger(prefix string, funcs LogFuncs) Logger {
	return &prefixLogger{
		prefix:   prefix,
		levelled: funcs.LogLevelf,
		byLevel:  [len(levelNames)]LogFunc{funcs.Debugf, funcs.Infof, funcs.Warnf, funcs.Errorf},
	}
}

// NewUnitLogger derives a logger that prefixes every line with the unit
// name, after any prefix of the parent
func NewUnitLogger(parent Logger, unitName string) Logger {
	return NewLogger(UnitPrefix(unitName), LogFuncs{LogLevelf: parent.LogLevelf})
}

// UnitPrefix is the prefix unit loggers put in front of every line
func UnitPrefix(unitName string) string {
	var b strings.Builder
	b.WriteString("unit: ")
	b.WriteString(unitName)
	b.WriteString(" , ")
	return b.String()
}

// NewNopLogger discards everything
func NewNopLogger() Logger {
	return &prefixLogger{}
}

func clampLevel(level int) int {
	switch {
	case level < LogLevelDebug:
		return LogLevelDebug
	case level > LogLevelError:
		return LogLevelError
	}
	return level
}

func (l *prefixLogger) LogLevelf(level int, format string, args ...interface{}) {
	level = clampLevel(level)
	format = l.prefix + format

	if l.levelled != nil {
		l.levelled(level, format, args...)
		return
	}
	if fn := l.byLevel[level]; fn != nil {
		fn(format, args...)
	}
}

func (l *prefixLogger) Debugf(msg string, args ...interface{}) {
	l.LogLevelf(LogLevelDebug, msg, args...)
}

func (l *prefixLogger) Infof(msg string, args ...interface{}) {
	l.LogLevelf(LogLevelInfo, msg, args...)
}

func (l *prefixLogger) Warnf(msg string, args ...interface{}) {
	l.LogLevelf(LogLevelWarn, msg, args...)
}

func (l *prefixLogger) Errorf(msg string, args ...interface{}) {
	l.LogLevelf(LogLevelError, msg, args...)
}
