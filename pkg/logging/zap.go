package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapConfig defines the zap backend settings
type ZapConfig struct {
	Level      string // "debug", "info", "warn", "error"
	Format     string // "json", "console"
	Output     string // "stdout", "stderr"
	Caller     bool
	Stacktrace bool
}

// DefaultZapConfig is a console logger at info level on stderr
func DefaultZapConfig() ZapConfig {
	return ZapConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// ZapBackend owns the zap logger behind a set of LogFuncs
type ZapBackend struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

// NewZapBackend creates a zap logger from configuration
func NewZapBackend(config ZapConfig) (*ZapBackend, error) {
	zapLogger, err := createZapLogger(config)
	if err != nil {
		return nil, err
	}
	return &ZapBackend{
		logger: zapLogger,
		sugar:  zapLogger.Sugar(),
	}, nil
}

// LogFuncs exposes the backend in the shape NewLogger expects
func (z *ZapBackend) LogFuncs() LogFuncs {
	return LogFuncs{
		Debugf: z.sugar.Debugf,
		Infof:  z.sugar.Infof,
		Warnf:  z.sugar.Warnf,
		Errorf: z.sugar.Errorf,
	}
}

// Sync flushes any buffered log entries
func (z *ZapBackend) Sync() error {
	return z.logger.Sync()
}

func createZapLogger(config ZapConfig) (*zap.Logger, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var writeSyncer zapcore.WriteSyncer
	switch config.Output {
	case "stdout":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stdout))
	case "stderr", "":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stderr))
	default:
		return nil, fmt.Errorf("unsupported log output: %s", config.Output)
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	opts := []zap.Option{}
	if config.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(2))
	}
	if config.Stacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zap.New(core, opts...), nil
}

// ParseLevel maps a level name to a zap level. zap v1.20 has no
// zapcore.ParseLevel yet.
func ParseLevel(levelStr string) (zapcore.Level, error) {
	switch levelStr {
	case "debug":
		return zap.DebugLevel, nil
	case "info", "":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("invalid log level: %s", levelStr)
	}
}
