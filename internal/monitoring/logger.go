// Package monitoring is where the lane tracker and pipeline report state
// changes such as a line being lost, acquired or reset.
package monitoring

import "log"

// Logf receives tracker and pipeline diagnostics. It writes through the
// standard logger unless SetLogger swaps it.
var Logf = log.Printf

// SetLogger routes diagnostics to f and returns the previous destination.
// A nil f discards them.
func SetLogger(f func(format string, v ...any)) (previous func(format string, v ...any)) {
	previous = Logf
	if f == nil {
		f = func(string, ...any) {}
	}
	Logf = f
	return previous
}
