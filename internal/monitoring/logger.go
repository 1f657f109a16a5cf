// Package monitoring holds the process-wide diagnostic logger. Components log
// through Logf with a "[Component]" prefix so related lines group together in
// the service output.
package monitoring

import (
	"fmt"
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// can be swapped with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil f mutes logging entirely.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Recorder collects log lines in memory. Tests install one with Capture to
// assert on diagnostic output.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

// Logf appends a formatted line to the recorder.
func (r *Recorder) Logf(format string, v ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

// Lines returns a copy of everything recorded so far.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Capture redirects Logf into a fresh Recorder and returns it together with
// a restore function. Callers must invoke restore when done.
func Capture() (*Recorder, func()) {
	prev := Logf
	rec := &Recorder{}
	Logf = rec.Logf
	return rec, func() { Logf = prev }
}
