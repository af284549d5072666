package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"

	// Everforest dark
	colorFg       = "\x1b[38;5;223m"
	colorTime     = "\x1b[38;5;107m"
	colorGreen    = "\x1b[38;5;108m"
	colorDeep     = "\x1b[38;5;65m"
	colorAqua     = "\x1b[38;5;109m"
	colorOrange   = "\x1b[38;5;208m"
	colorYellow   = "\x1b[38;5;179m"
	colorRed      = "\x1b[38;5;167m"
	colorRedBg    = "\x1b[48;5;52m"
	colorYellowBg = "\x1b[48;5;58m"
)

var bufferPool = buffer.NewPool()

// minimalEncoder is a compact console encoder.
// Format: "13:04:35  pipeline  Document completed  3f2a9c1e completed 812ms"
type minimalEncoder struct {
	zapcore.Encoder // base encoder handles With() field accumulation
	with            []zapcore.Field
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{
		Encoder: zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
	}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	with := make([]zapcore.Field, len(enc.with))
	copy(with, enc.with)
	return &minimalEncoder{
		Encoder: enc.Encoder.Clone(),
		with:    with,
	}
}

// AddString captures With() string fields so the console line can show them.
func (enc *minimalEncoder) AddString(key, value string) {
	enc.with = append(enc.with, zap.String(key, value))
	enc.Encoder.AddString(key, value)
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := bufferPool.Get()

	final.AppendString(colorTime)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	if ent.Level != zapcore.InfoLevel {
		final.AppendString("  ")
		final.AppendString(levelString(ent.Level))
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(componentColor(ent.LoggerName))
		final.AppendString(ent.LoggerName)
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	final.AppendString(colorFg)
	final.AppendString(ent.Message)
	final.AppendString(colorReset)

	all := fields
	if len(enc.with) > 0 {
		all = append(append([]zapcore.Field{}, enc.with...), fields...)
	}
	if values := extractFieldValues(all); values != "" {
		final.AppendString("  ")
		final.AppendString(values)
	}

	final.AppendString("\n")
	return final, nil
}

func levelString(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return colorDeep + "DEBUG" + colorReset
	case zapcore.WarnLevel:
		return colorBold + colorYellowBg + colorYellow + "WARN" + colorReset
	default:
		return colorBold + colorRedBg + colorRed + level.CapitalString() + colorReset
	}
}

func componentColor(name string) string {
	hash := 0
	for _, c := range name {
		hash += int(c)
	}
	if hash%2 == 0 {
		return colorGreen
	}
	return colorOrange
}

func fieldValue(field zapcore.Field) string {
	switch field.Type {
	case zapcore.StringType:
		return field.String
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return fmt.Sprintf("%d", field.Integer)
	case zapcore.BoolType:
		return fmt.Sprintf("%t", field.Integer == 1)
	case zapcore.ErrorType:
		if err, ok := field.Interface.(error); ok {
			return err.Error()
		}
	}
	if field.Interface != nil {
		return fmt.Sprintf("%v", field.Interface)
	}
	return ""
}

// extractFieldValues renders the few fields worth reading at a terminal.
// Everything else is still present in JSON mode.
func extractFieldValues(fields []zapcore.Field) string {
	var values []string

	for _, field := range fields {
		val := fieldValue(field)
		if val == "" {
			continue
		}
		switch field.Key {
		case FieldDocumentID:
			values = append(values, colorAqua+shorten(val)+colorReset)
		case FieldStatus, FieldStage:
			values = append(values, colorGreen+val+colorReset)
		case FieldFallback:
			values = append(values, colorYellow+val+colorReset)
		case FieldDurationMS:
			values = append(values, colorGreen+val+colorReset+"ms")
		case FieldError:
			values = append(values, colorRed+val+colorReset)
		}
	}

	return strings.Join(values, " ")
}

// shorten keeps the first UUID group, enough to correlate lines by eye.
func shorten(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
