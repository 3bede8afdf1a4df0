package monitoring

import "log"

// Logf is the package-level diagnostic logger for code without its own log
// streams. It defaults to log.Printf; SetLogger or Apply may replace it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
