package logger

import (
	"log"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapWriter implements io.Writer on top of a zap logger, so standard library loggers such as
// http.Server.ErrorLog end up in the structured log.
type ZapWriter struct {
	logger *zap.Logger
	level  zapcore.Level
	prefix string
}

// NewZapWriter writes each line at level. prefix, when set, is added as a separate field.
func NewZapWriter(logger *zap.Logger, level zapcore.Level, prefix string) *ZapWriter {
	return &ZapWriter{
		logger: logger.WithOptions(zap.AddCallerSkip(3)),
		level:  level,
		prefix: prefix,
	}
}

// Write implements the io.Writer interface.
func (w *ZapWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}

	var fields []zap.Field
	if w.prefix != "" {
		fields = append(fields, zap.String("prefix", w.prefix))
	}

	// Never panic or exit from inside a standard library logger.
	level := w.level
	if level > zapcore.ErrorLevel {
		level = zapcore.ErrorLevel
	}
	if ce := w.logger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
	return len(p), nil
}

// StdLogger returns a *log.Logger writing through w, for APIs such as http.Server.ErrorLog.
func StdLogger(logger *zap.Logger, level zapcore.Level, prefix string) *log.Logger {
	return log.New(NewZapWriter(logger, level, prefix), "", 0)
}
