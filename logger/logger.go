package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/tally/errors"
)

var (
	// Logger is the process-wide logger. Components should prefer a named
	// child from ComponentLogger passed in as a dependency.
	Logger *zap.SugaredLogger
	// JSONOutput records whether Initialize selected JSON encoding
	JSONOutput bool

	level = zap.NewAtomicLevelAt(zap.InfoLevel)
)

func init() {
	// No-op until Initialize, so packages can log from init and tests
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger. JSON output is meant for log
// shippers; the console encoder is for humans at a terminal.
func Initialize(jsonOutput bool) error {
	JSONOutput = jsonOutput

	var zapLogger *zap.Logger
	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = level
		var err error
		zapLogger, err = config.Build()
		if err != nil {
			return errors.Wrap(err, "failed to build json logger")
		}
	} else {
		zapLogger = zap.New(
			zapcore.NewCore(
				newMinimalEncoder(),
				zapcore.AddSync(os.Stdout),
				level,
			),
		)
	}

	Logger = zapLogger.Sugar()
	return nil
}

// SetLevel changes the level of the global logger in place. Loggers already
// handed out by ComponentLogger follow the change.
func SetLevel(name string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return errors.Wrapf(err, "invalid log level %q", name)
	}
	level.SetLevel(l)
	return nil
}

// Level reports the current global level
func Level() zapcore.Level {
	return level.Level()
}

// Cleanup flushes any buffered log entries
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Infow logs an info message with structured fields
func Infow(msg string, keysAndValues ...interface{}) {
	Logger.Infow(msg, keysAndValues...)
}

// Warnw logs a warning message with structured fields
func Warnw(msg string, keysAndValues ...interface{}) {
	Logger.Warnw(msg, keysAndValues...)
}

// Errorw logs an error message with structured fields
func Errorw(msg string, keysAndValues ...interface{}) {
	Logger.Errorw(msg, keysAndValues...)
}

// Debugw logs a debug message with structured fields
func Debugw(msg string, keysAndValues ...interface{}) {
	Logger.Debugw(msg, keysAndValues...)
}
