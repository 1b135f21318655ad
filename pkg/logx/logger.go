// Package logx provides the structured logger used across ouajourad.
package logx

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with a component tag and a key/value calling
// convention, matching the shape every caller in the pipeline expects:
// Info/Warn/Error/Debug(msg string, kv ...interface{}).
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a logger for the named component at the given level.
// An unrecognized level falls back to info.
func NewLogger(level, component string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	fields := logrus.Fields{}
	if component != "" {
		fields["component"] = component
	}

	return &Logger{entry: base.WithFields(fields)}
}

// With returns a logger with additional fields permanently attached.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(kvToFields(kv))}
}

func (l *Logger) Debug(msg string, kv ...interface{}) {
	l.entry.WithFields(kvToFields(kv)).Debug(msg)
}

func (l *Logger) Info(msg string, kv ...interface{}) {
	l.entry.WithFields(kvToFields(kv)).Info(msg)
}

func (l *Logger) Warn(msg string, kv ...interface{}) {
	l.entry.WithFields(kvToFields(kv)).Warn(msg)
}

func (l *Logger) Error(msg string, kv ...interface{}) {
	l.entry.WithFields(kvToFields(kv)).Error(msg)
}

// kvToFields accepts either alternating key/value pairs or a single
// map[string]interface{}, since both calling conventions show up in the
// teacher's call sites.
func kvToFields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	if len(kv) == 1 {
		if m, ok := kv[0].(map[string]interface{}); ok {
			for k, v := range m {
				fields[k] = v
			}
			return fields
		}
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}
