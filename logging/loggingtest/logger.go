// Package loggingtest provides a logging.Logger that records its entries,
// so tests can wait for the routing components to log.
package loggingtest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zalando/trafficrouter/logging"
)

// ErrWaitTimeout is returned when the expected entries were not logged
// in time.
var ErrWaitTimeout = errors.New("timeout")

type entry struct {
	level   logrus.Level
	message string
}

// recorder is shared by a TestLogger and the loggers derived from it
// with WithFields. The changed channel is closed and replaced on every
// new entry.
type recorder struct {
	mu      sync.Mutex
	entries []entry
	changed chan struct{}
	closed  bool
}

func (r *recorder) add(e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.entries = append(r.entries, e)
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *recorder) count(match func(entry) bool) (int, <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for _, e := range r.entries {
		if match(e) {
			n++
		}
	}

	return n, r.changed
}

// TestLogger records the log entries and allows waiting for them. The
// entries are also written to the standard logrus logger.
type TestLogger struct {
	rec    *recorder
	fields logrus.Fields
}

var _ logging.Logger = &TestLogger{}

// New creates a TestLogger.
func New() *TestLogger {
	return &TestLogger{rec: &recorder{changed: make(chan struct{})}}
}

func (tl *TestLogger) record(level logrus.Level, msg string) {
	logrus.WithFields(tl.fields).Log(level, msg)
	tl.rec.add(entry{level: level, message: msg})
}

func contains(exp string) func(entry) bool {
	return func(e entry) bool { return strings.Contains(e.message, exp) }
}

func (tl *TestLogger) wait(match func(entry) bool, n int, to time.Duration) error {
	timeout := time.After(to)
	for {
		found, changed := tl.rec.count(match)
		if found >= n {
			return nil
		}

		select {
		case <-changed:
		case <-timeout:
			return ErrWaitTimeout
		}
	}
}

// WaitForN waits until n entries containing exp were logged, counting
// the entries logged before the call.
func (tl *TestLogger) WaitForN(exp string, n int, to time.Duration) error {
	return tl.wait(contains(exp), n, to)
}

// WaitFor waits for an entry containing exp.
func (tl *TestLogger) WaitFor(exp string, to time.Duration) error {
	return tl.WaitForN(exp, 1, to)
}

// WaitForLevel waits for an entry of the given level containing exp.
func (tl *TestLogger) WaitForLevel(level logrus.Level, exp string, to time.Duration) error {
	return tl.wait(func(e entry) bool { return e.level == level && strings.Contains(e.message, exp) }, 1, to)
}

// Count returns the number of entries containing exp.
func (tl *TestLogger) Count(exp string) int {
	n, _ := tl.rec.count(contains(exp))
	return n
}

// Reset drops the recorded entries.
func (tl *TestLogger) Reset() {
	tl.rec.mu.Lock()
	tl.rec.entries = nil
	tl.rec.mu.Unlock()
}

// Close stops recording. Entries logged after Close are only printed.
func (tl *TestLogger) Close() {
	tl.rec.mu.Lock()
	tl.rec.closed = true
	tl.rec.mu.Unlock()
}

func (tl *TestLogger) Error(a ...interface{})            { tl.record(logrus.ErrorLevel, fmt.Sprint(a...)) }
func (tl *TestLogger) Errorf(f string, a ...interface{}) { tl.record(logrus.ErrorLevel, fmt.Sprintf(f, a...)) }
func (tl *TestLogger) Warn(a ...interface{})             { tl.record(logrus.WarnLevel, fmt.Sprint(a...)) }
func (tl *TestLogger) Warnf(f string, a ...interface{})  { tl.record(logrus.WarnLevel, fmt.Sprintf(f, a...)) }
func (tl *TestLogger) Info(a ...interface{})             { tl.record(logrus.InfoLevel, fmt.Sprint(a...)) }
func (tl *TestLogger) Infof(f string, a ...interface{})  { tl.record(logrus.InfoLevel, fmt.Sprintf(f, a...)) }
func (tl *TestLogger) Debug(a ...interface{})            { tl.record(logrus.DebugLevel, fmt.Sprint(a...)) }
func (tl *TestLogger) Debugf(f string, a ...interface{}) { tl.record(logrus.DebugLevel, fmt.Sprintf(f, a...)) }

// WithFields returns a logger recording into the same TestLogger.
func (tl *TestLogger) WithFields(fields map[string]interface{}) logging.Logger {
	merged := make(logrus.Fields, len(tl.fields)+len(fields))
	for k, v := range tl.fields {
		merged[k] = v
	}

	for k, v := range fields {
		merged[k] = v
	}

	return &TestLogger{rec: tl.rec, fields: merged}
}
