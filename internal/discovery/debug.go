package discovery

import (
	"io"
	"log"
	"os"
)

var (
	opsLogger   = newLogger("[discovery] ", os.Stderr)
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// SetLogWriters routes the ops, diag and trace streams. A nil writer
// disables that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLogger = newLogger("[discovery] ", ops)
	diagLogger = newLogger("[discovery] ", diag)
	traceLogger = newLogger("[discovery] ", trace)
}

func opsf(format string, args ...interface{}) {
	if opsLogger != nil {
		opsLogger.Printf(format, args...)
	}
}

func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}
