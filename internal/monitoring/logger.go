// Package monitoring holds the shared diagnostic logger for the reduction
// and fitting pipeline. Subsystems log through Logf with a bracketed tag
// (e.g. "[stack]", "[fit]") so a single run's output can be filtered.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Tagf logs through Logf with a bracketed subsystem tag prefix.
func Tagf(tag, format string, v ...interface{}) {
	args := make([]interface{}, 0, len(v)+1)
	args = append(args, tag)
	args = append(args, v...)
	Logf("[%s] "+format, args...)
}
