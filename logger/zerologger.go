package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

func (f StringField) apply(e *zerolog.Event) *zerolog.Event   { return e.Str(f.Key, f.Value) }
func (f IntField) apply(e *zerolog.Event) *zerolog.Event      { return e.Int(f.Key, f.Value) }
func (f BoolField) apply(e *zerolog.Event) *zerolog.Event     { return e.Bool(f.Key, f.Value) }
func (f DurationField) apply(e *zerolog.Event) *zerolog.Event { return e.Dur(f.Key, f.Value) }
func (f TimeField) apply(e *zerolog.Event) *zerolog.Event     { return e.Time(f.Key, f.Value) }
func (f ErrorField) apply(e *zerolog.Event) *zerolog.Event    { return e.AnErr(f.Key, f.Value) }
func (f AnyField) apply(e *zerolog.Event) *zerolog.Event      { return e.Interface(f.Key, f.Value) }

func (f StringField) key() string   { return f.Key }
func (f IntField) key() string      { return f.Key }
func (f BoolField) key() string     { return f.Key }
func (f DurationField) key() string { return f.Key }
func (f TimeField) key() string     { return f.Key }
func (f ErrorField) key() string    { return f.Key }
func (f AnyField) key() string      { return f.Key }

func (f StringField) value() any   { return f.Value }
func (f IntField) value() any      { return f.Value }
func (f BoolField) value() any     { return f.Value }
func (f DurationField) value() any { return f.Value }
func (f TimeField) value() any     { return f.Value }
func (f ErrorField) value() any    { return f.Value }
func (f AnyField) value() any      { return f.Value }

// ZerologLogger implements Logger on top of zerolog
type ZerologLogger struct {
	// base carries every context field except the module name, so that
	// WithSubsystem/WithSystem never emit a duplicated "module" key.
	base       zerolog.Logger
	logger     zerolog.Logger
	module     string
	fileWriter *lumberjack.Logger
}

// NewZerologLogger creates a new ZerologLogger from config
func NewZerologLogger(config *Config) *ZerologLogger {
	if config == nil {
		config = DefaultConfig()
	}

	var writers []io.Writer
	var fileWriter *lumberjack.Logger

	if fc := config.FileConfig; fc != nil && fc.Filename != "" {
		if err := os.MkdirAll(filepath.Dir(fc.Filename), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		} else {
			fileWriter = &lumberjack.Logger{
				Filename:   fc.Filename,
				MaxSize:    fc.MaxSize,
				MaxAge:     fc.MaxAge,
				MaxBackups: fc.MaxBackups,
				Compress:   fc.Compress,
				LocalTime:  true,
			}
			// the file always receives JSON, whatever the console format is
			writers = append(writers, fileWriter)
		}
	}

	for _, output := range config.Outputs {
		if config.Format == DefaultFormat {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        output,
				TimeFormat: "15:04:05",
				PartsOrder: []string{
					zerolog.TimestampFieldName,
					zerolog.LevelFieldName,
					zerolog.CallerFieldName,
					"module",
					zerolog.MessageFieldName,
				},
				FieldsExclude: []string{"module"},
			})
		} else {
			writers = append(writers, output)
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	ctx := zerolog.New(writer).Level(config.Level.zerolog()).With().Timestamp()
	if config.EnableCaller {
		ctx = ctx.CallerWithSkipFrameCount(4)
	}
	base := ctx.Logger()

	zl := &ZerologLogger{
		base:       base,
		fileWriter: fileWriter,
	}
	return zl.withModule(config.Subsystem)
}

func (zl *ZerologLogger) withModule(module string) *ZerologLogger {
	l := zl.base
	if module != "" {
		l = l.With().Str("module", module).Logger()
	}
	return &ZerologLogger{
		base:       zl.base,
		logger:     l,
		module:     module,
		fileWriter: zl.fileWriter,
	}
}

func (zl *ZerologLogger) log(event *zerolog.Event, msg string, fields []TypedField) {
	if event == nil {
		return
	}
	for _, f := range fields {
		event = f.apply(event)
	}
	event.Msg(msg)
}

func (zl *ZerologLogger) Trace(msg string, fields ...TypedField) {
	zl.log(zl.logger.Trace(), msg, fields)
}

func (zl *ZerologLogger) Debug(msg string, fields ...TypedField) {
	zl.log(zl.logger.Debug(), msg, fields)
}

func (zl *ZerologLogger) Info(msg string, fields ...TypedField) {
	zl.log(zl.logger.Info(), msg, fields)
}

func (zl *ZerologLogger) Warn(msg string, fields ...TypedField) {
	zl.log(zl.logger.Warn(), msg, fields)
}

func (zl *ZerologLogger) Error(msg string, fields ...TypedField) {
	zl.log(zl.logger.Error(), msg, fields)
}

func (zl *ZerologLogger) Infof(format string, args ...any) {
	zl.logger.Info().Msgf(format, args...)
}

func (zl *ZerologLogger) Warnf(format string, args ...any) {
	zl.logger.Warn().Msgf(format, args...)
}

// WithSubsystem creates a new logger with a nested module name
func (zl *ZerologLogger) WithSubsystem(name string) Logger {
	if zl.module != "" {
		return zl.withModule(zl.module + "." + name)
	}
	return zl.withModule(name)
}

// WithSystem creates a new logger with a module name, replacing the current one
func (zl *ZerologLogger) WithSystem(name string) Logger {
	return zl.withModule(name)
}

// WithFields creates a new logger with additional context fields
func (zl *ZerologLogger) WithFields(fields ...TypedField) Logger {
	if len(fields) == 0 {
		return zl
	}
	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.key()] = f.value()
	}
	out := *zl
	out.base = zl.base.With().Fields(m).Logger()
	return out.withModule(zl.module)
}

// IsLevelEnabled checks if a log level is enabled
func (zl *ZerologLogger) IsLevelEnabled(level LogLevel) bool {
	return zl.logger.GetLevel() <= level.zerolog()
}

// Close releases the rotated log file, if any
func (zl *ZerologLogger) Close() error {
	if zl.fileWriter != nil {
		return zl.fileWriter.Close()
	}
	return nil
}
