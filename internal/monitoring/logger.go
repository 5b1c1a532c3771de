// Package monitoring holds the process-wide diagnostic logger used by the
// pipeline workers.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logger is the signature shared by every diagnostic sink.
type Logger func(format string, v ...interface{})

var current atomic.Pointer[Logger]

func init() {
	SetLogger(log.Printf)
}

// Logf writes through the currently installed logger. It defaults to
// log.Printf but may be replaced by SetLogger.
func Logf(format string, v ...interface{}) {
	(*current.Load())(format, v...)
}

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	var l Logger = f
	if f == nil {
		l = func(string, ...interface{}) {}
	}
	current.Store(&l)
}

// Tagged returns a logger that prefixes every line with "[tag] " and writes
// through Logf, so later SetLogger calls still apply.
func Tagged(tag string) Logger {
	prefix := "[" + tag + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
