// Package log provides structured logging with session context.
//
// Logger wraps a non-sugared zap.Logger; every surface, the CLI included,
// logs a message plus a map of structured fields.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Session identifies the robot and channel a logger reports for.
// Every entry carries these fields.
type Session struct {
	RobotID string
	// Channel is the connection role, e.g. "state" or "motion".
	Channel string
}

// Logger provides structured logging with session context.
type Logger struct {
	zap *zap.Logger
}

// NewLogger creates a new logger with session context.
// Output defaults to os.Stderr.
func NewLogger(session Session) *Logger {
	return newLoggerWithWriter(session, os.Stderr)
}

// NewLoggerTo creates a logger with session context writing to w.
func NewLoggerTo(session Session, w io.Writer) *Logger {
	return newLoggerWithWriter(session, w)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
}

// WithOutput returns a new logger with a different output writer.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
	return &Logger{zap: l.zap.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))}
}

// WithLevel returns a logger that drops entries below level.
func (l *Logger) WithLevel(level zapcore.Level) *Logger {
	return &Logger{zap: l.zap.WithOptions(zap.IncreaseLevel(level))}
}

// WithChannel returns a child logger reporting for a different channel.
func (l *Logger) WithChannel(channel string) *Logger {
	return &Logger{zap: l.zap.With(zap.String("channel", channel))}
}

func newLoggerWithWriter(session Session, w io.Writer) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)

	var contextFields []zap.Field
	if session.RobotID != "" {
		contextFields = append(contextFields, zap.String("robot_id", session.RobotID))
	}
	if session.Channel != "" {
		contextFields = append(contextFields, zap.String("channel", session.Channel))
	}

	return &Logger{zap: zap.New(core).With(contextFields...)}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, zap.Any("fields", fields))
}

// Alarm logs an error tagged with alarm=<name>.
// Alarms mark conditions that operators must be able to filter for.
func (l *Logger) Alarm(name, message string, fields map[string]any) {
	l.zap.Error(message, zap.String("alarm", name), zap.Any("fields", fields))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}
