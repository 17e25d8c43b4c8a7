// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"fmt"
	"log"
	"os"
)

// Field is a structured logging key-value pair.
type Field struct {
	Key   string
	Value interface{}
}

// Logger is the structured logging sink a Session reports handshake,
// message-loop, and pump events through.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that prepends fields to every subsequent
	// call, for attaching a session ID or connection address once.
	With(fields ...Field) Logger
}

// NoOpLogger discards every call. It is the default when a Session is
// not configured with a Logger.
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}

func (l *NoOpLogger) With(fields ...Field) Logger {
	return &NoOpLogger{}
}

// StandardLogger implements Logger on top of the standard library's
// log.Logger, formatting fields as space-separated key=value pairs after
// the message.
type StandardLogger struct {
	Logger *log.Logger

	contextFields []Field
}

func (l *StandardLogger) ensureLogger() *log.Logger {
	if l.Logger == nil {
		l.Logger = log.New(os.Stderr, "RFB: ", log.LstdFlags|log.Lshortfile)
	}
	return l.Logger
}

func (l *StandardLogger) formatMessage(level, msg string, fields ...Field) string {
	formatted := level + " " + msg
	for _, field := range l.contextFields {
		formatted += " " + field.Key + "=" + formatFieldValue(field.Value)
	}
	for _, field := range fields {
		formatted += " " + field.Key + "=" + formatFieldValue(field.Value)
	}
	return formatted
}

// formatFieldValue renders a field's value: strings containing
// whitespace and errors are quoted so a log line splits cleanly on
// spaces, everything else uses fmt's default verb.
func formatFieldValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		if containsSpace(v) {
			return `"` + v + `"`
		}
		return v
	case error:
		return `"` + v.Error() + `"`
	default:
		return fmt.Sprintf("%v", v)
	}
}

func containsSpace(s string) bool {
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return true
		}
	}
	return false
}

func (l *StandardLogger) Debug(msg string, fields ...Field) {
	l.ensureLogger().Print(l.formatMessage("[DEBUG]", msg, fields...))
}

func (l *StandardLogger) Info(msg string, fields ...Field) {
	l.ensureLogger().Print(l.formatMessage("[INFO]", msg, fields...))
}

func (l *StandardLogger) Warn(msg string, fields ...Field) {
	l.ensureLogger().Print(l.formatMessage("[WARN]", msg, fields...))
}

func (l *StandardLogger) Error(msg string, fields ...Field) {
	l.ensureLogger().Print(l.formatMessage("[ERROR]", msg, fields...))
}

// With returns a StandardLogger sharing the same underlying log.Logger
// but carrying fields in addition to any this logger already carries.
func (l *StandardLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.contextFields)+len(fields))
	merged = append(merged, l.contextFields...)
	merged = append(merged, fields...)

	return &StandardLogger{
		Logger:        l.Logger,
		contextFields: merged,
	}
}

// severityForError picks the log level a failure should be reported at.
// Auth failures, protocol violations, and rejected input are everyday
// client misbehavior and get Warn; everything else — a transport fault,
// an internal invariant violation, a capture or encoder fault, or a bad
// config — is server-side trouble and gets Error. A non-SessionError
// (e.g. an io.EOF bubbling out of net.Conn) also gets Error, since it
// carries no ErrorCode to downgrade it.
func severityForError(err error) (level string, code ErrorCode) {
	se, ok := err.(*SessionError)
	if !ok {
		return "error", ErrorCode(-1)
	}
	switch se.Code {
	case ErrAuthFailure, ErrProtocolViolation, ErrValidation, ErrUnsupported:
		return "warn", se.Code
	default:
		return "error", se.Code
	}
}

// logSessionError reports err on logger at the level its ErrorCode
// warrants (see severityForError), under msg with an "error" field. It
// is the level-selection policy UpdatePump.tick and Session.Serve use so
// that a rejected SetEncodings (ErrValidation) doesn't page anyone the
// way a dropped connection (ErrTransport) should.
func logSessionError(logger Logger, msg string, err error) {
	if err == nil || logger == nil {
		return
	}
	level, _ := severityForError(err)
	if level == "warn" {
		logger.Warn(msg, Field{Key: "error", Value: err})
		return
	}
	logger.Error(msg, Field{Key: "error", Value: err})
}
