package monitoring

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// EnvLogLevel names the environment variable consulted when no -log-level
// flag is given.
const EnvLogLevel = "ZOOMY_LOG"

// Level selects which log streams are enabled. Each level includes the ones
// below it.
type Level int

const (
	LevelOps Level = iota
	LevelDiag
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelOps:
		return "ops"
	case LevelDiag:
		return "diag"
	case LevelTrace:
		return "trace"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel accepts ops, diag or trace. An empty string is ops.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ops":
		return LevelOps, nil
	case "diag":
		return LevelDiag, nil
	case "trace":
		return LevelTrace, nil
	}
	return LevelOps, fmt.Errorf("unknown log level %q (want ops, diag or trace)", s)
}

// ResolveLevel prefers the flag value and falls back to $ZOOMY_LOG.
func ResolveLevel(flagValue string) (Level, error) {
	if flagValue != "" {
		return ParseLevel(flagValue)
	}
	return ParseLevel(os.Getenv(EnvLogLevel))
}

// Writers holds one destination per stream. A nil writer disables the
// stream.
type Writers struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// Writers routes every stream enabled at l to w.
func (l Level) Writers(w io.Writer) Writers {
	ws := Writers{Ops: w}
	if l >= LevelDiag {
		ws.Diag = w
	}
	if l >= LevelTrace {
		ws.Trace = w
	}
	return ws
}

// Apply hands ws to every package's SetLogWriters and points Logf at the
// diag stream.
func Apply(ws Writers, setters ...func(ops, diag, trace io.Writer)) {
	for _, set := range setters {
		set(ws.Ops, ws.Diag, ws.Trace)
	}
	if ws.Diag == nil {
		SetLogger(nil)
		return
	}
	SetLogger(log.New(ws.Diag, "", log.LstdFlags|log.Lmicroseconds).Printf)
}
