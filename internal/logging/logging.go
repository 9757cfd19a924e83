package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Logger struct {
	entry *logrus.Entry
}

func New(level string) *Logger {
	return NewWithWriter(level, os.Stdout)
}

func NewWithWriter(level string, out io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(parseLevel(level))
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{entry: logrus.NewEntry(base)}
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *Logger {
	return NewWithWriter("error", io.Discard)
}

func parseLevel(level string) logrus.Level {
	lv := strings.ToLower(strings.TrimSpace(level))
	if lv == "" {
		return logrus.InfoLevel
	}
	parsed, err := logrus.ParseLevel(lv)
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

func (l *Logger) WithFields(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError attaches err; a nil err leaves the logger unchanged.
func (l *Logger) WithError(err error) *Logger {
	if l == nil || err == nil {
		return l
	}
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debugf(format string, args ...any) {
	if l != nil {
		l.entry.Debugf(format, args...)
	}
}

func (l *Logger) Infof(format string, args ...any) {
	if l != nil {
		l.entry.Infof(format, args...)
	}
}

func (l *Logger) Warnf(format string, args ...any) {
	if l != nil {
		l.entry.Warnf(format, args...)
	}
}

func (l *Logger) Errorf(format string, args ...any) {
	if l != nil {
		l.entry.Errorf(format, args...)
	}
}
