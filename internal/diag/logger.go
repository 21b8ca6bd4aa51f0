package diag

import (
	"fmt"
	"io"
	"log"
)

// Logger wraps the standard library logger with the three-tier verbosity the
// original loader's printl macro implemented by hand.
type Logger struct {
	level Level
	out   *log.Logger
}

// NewLogger returns a Logger writing to w at the given level.
func NewLogger(w io.Writer, level Level) *Logger {
	return &Logger{level: level, out: log.New(w, "", 0)}
}

// Level reports the logger's configured verbosity.
func (l *Logger) Level() Level { return l.level }

// Normal prints a message visible at LevelNormal and above.
func (l *Logger) Normal(format string, args ...any) {
	if l.level >= LevelNormal {
		l.out.Print(fmt.Sprintf(format, args...))
	}
}

// Debug prints a message visible only at LevelDebug.
func (l *Logger) Debug(format string, args ...any) {
	if l.level >= LevelDebug {
		l.out.Print(fmt.Sprintf(format, args...))
	}
}

// Warn prints a warning. Warnings never abort the run (spec §7) and are
// always printed regardless of level, matching the original's unconditional
// "Warning: ..." prints.
func (l *Logger) Warn(format string, args ...any) {
	l.out.Print("warning: " + fmt.Sprintf(format, args...))
}
