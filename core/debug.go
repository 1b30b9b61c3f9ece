package core

import "fmt"

// DebugWriter is a function type for writing debug messages.
type DebugWriter func(string)

var (
	debugPrintln DebugWriter = func(string) {}
	debugEnabled bool
)

// SetDebugWriter redirects core debug output. The daemon points this at
// the standard logger; tests may capture it.
func SetDebugWriter(writer DebugWriter) {
	if writer == nil {
		writer = func(string) {}
	}
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output. Disabled by default
// since per-pulse messages would distort step timing.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// Debugf writes a formatted debug message when debug output is enabled.
func Debugf(format string, args ...any) {
	if debugEnabled {
		debugPrintln(fmt.Sprintf(format, args...))
	}
}
