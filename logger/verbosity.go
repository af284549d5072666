package logger

import "go.uber.org/zap/zapcore"

// Verbosity levels for repeated -v CLI flags.
const (
	VerbosityUser  = 0 // No flags: results, warnings and errors
	VerbosityInfo  = 1 // -v: + startup, dispatch and adapter summaries
	VerbosityDebug = 2 // -vv: + per-stage pipeline detail
)

// VerbosityToLevel maps a -v count to a zap level.
//
//	0 (none) -> WarnLevel
//	1 (-v)   -> InfoLevel
//	2+ (-vv) -> DebugLevel
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= VerbosityUser:
		return zapcore.WarnLevel
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
