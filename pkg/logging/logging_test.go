package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingFuncs struct {
	lines []string
}

func (r *recordingFuncs) record(level string) LogFunc {
	return func(format string, args ...interface{}) {
		r.lines = append(r.lines, level+" "+fmt.Sprintf(format, args...))
	}
}

func (r *recordingFuncs) funcs() LogFuncs {
	return LogFuncs{
		Debugf: r.record("debug"),
		Infof:  r.record("info"),
		Warnf:  r.record("warn"),
		Errorf: r.record("error"),
	}
}

func TestLogger_Prefix(t *testing.T) {
	rec := &recordingFuncs{}
	logger := NewLogger("module: test , ", rec.funcs())

	logger.Infof("started %d units", 3)
	logger.Errorf("failed")

	assert.Equal(t, []string{
		"info module: test , started 3 units",
		"error module: test , failed",
	}, rec.lines)
}

func TestLogger_LogLevelfDispatch(t *testing.T) {
	rec := &recordingFuncs{}
	logger := NewLogger("", rec.funcs())

	logger.LogLevelf(LogLevelDebug, "d")
	logger.LogLevelf(LogLevelWarn, "w")

	assert.Equal(t, []string{"debug d", "warn w"}, rec.lines)
}

func TestNewUnitLogger(t *testing.T) {
	rec := &recordingFuncs{}
	parent := NewLogger("", rec.funcs())

	NewUnitLogger(parent, "starter").Warnf("exited with status %d", 1)

	assert.Equal(t, []string{"warn unit: starter , exited with status 1"}, rec.lines)
}

func TestNewUnitLogger_KeepsParentPrefix(t *testing.T) {
	var got []string
	parent := NewLogger("module: hsu-supervisor , ", LogFuncs{
		LogLevelf: func(level int, format string, args ...interface{}) {
			got = append(got, LevelName(level)+" "+fmt.Sprintf(format, args...))
		},
	})

	NewUnitLogger(parent, "rnbo-query").Infof("ready")

	assert.Equal(t, []string{"info module: hsu-supervisor , unit: rnbo-query , ready"}, got)
}

func TestLogger_OutOfRangeLevels(t *testing.T) {
	rec := &recordingFuncs{}
	logger := NewLogger("", rec.funcs())

	logger.LogLevelf(-4, "low")
	logger.LogLevelf(9, "high")

	assert.Equal(t, []string{"debug low", "error high"}, rec.lines)
	assert.Equal(t, "debug", LevelName(-1))
	assert.Equal(t, "warn", LevelName(LogLevelWarn))
	assert.Equal(t, "error", LevelName(42))
}

func TestLogger_MissingLevelFuncIsDropped(t *testing.T) {
	var lines []string
	logger := NewLogger("", LogFuncs{Errorf: func(format string, args ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}})

	logger.Debugf("dropped")
	logger.Errorf("kept")

	assert.Equal(t, []string{"kept"}, lines)
}

func TestNopLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNopLogger().Errorf("ignored %s", "message")
	})
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zap.WarnLevel, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zap.InfoLevel, level)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewZapBackend(t *testing.T) {
	backend, err := NewZapBackend(ZapConfig{Level: "debug", Format: "json", Output: "stdout"})
	require.NoError(t, err)

	logger := NewLogger("", backend.LogFuncs())
	logger.Debugf("hello %s", "zap")

	_, err = NewZapBackend(ZapConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = NewZapBackend(ZapConfig{Output: "/var/log/file.log"})
	assert.Error(t, err)
}
