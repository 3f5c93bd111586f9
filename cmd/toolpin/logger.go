package main

import (
	"fmt"
	"os"
	"strings"

	"toolpin/internal/binary"
)

// stderrLogger writes pipeline diagnostics to stderr as key=value lines.
type stderrLogger struct{}

func newStderrLogger() binary.Logger {
	return stderrLogger{}
}

func (stderrLogger) Debug(msg string, keysAndValues ...interface{}) {
	logLine("DEBUG", msg, keysAndValues)
}

func (stderrLogger) Info(msg string, keysAndValues ...interface{}) {
	logLine("INFO", msg, keysAndValues)
}

func (stderrLogger) Warn(msg string, keysAndValues ...interface{}) {
	logLine("WARN", msg, keysAndValues)
}

func (stderrLogger) Error(msg string, keysAndValues ...interface{}) {
	logLine("ERROR", msg, keysAndValues)
}

func logLine(level, msg string, keysAndValues []interface{}) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-5s %s", level, msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	fmt.Fprintln(os.Stderr, sb.String())
}
