// Package metrics is a small facade between profiling code and whatever
// metrics backend the binary configures. Core packages call the
// package-level helpers; binaries pick a backend with SetBackend. The
// default backend drops everything, so library code never has to check
// whether metrics are enabled.
package metrics

import (
	"context"
	"sync"
	"time"
)

// Backend is the sink for profiling run metrics. Implementations must be
// safe for concurrent use.
type Backend interface {
	// AddRows records n rows read from the named source kind
	// ("csv", "json", "html").
	AddRows(n int, source string)

	// AddValues records n tracked values of the given kind
	// ("integral", "fractional", "string", "boolean", "null").
	AddValues(n int, kind string)

	// AddValueErrors records n values the profiler could not classify.
	AddValueErrors(n int)

	// ObserveStage records one run stage taking seconds with status
	// "ok" or "error".
	ObserveStage(stage string, seconds float64, status string)

	// Flush submits buffered metrics now.
	Flush(ctx context.Context) error

	// Stop halts background flushing, submitting one final time.
	// Treat as "call once".
	Stop()
}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide sink. Passing nil restores
// the discarding default.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func AddRows(n int, source string) { current().AddRows(n, source) }

func AddValues(n int, kind string) { current().AddValues(n, kind) }

func AddValueErrors(n int) { current().AddValueErrors(n) }

func ObserveStage(stage string, seconds float64, status string) {
	current().ObserveStage(stage, seconds, status)
}

func Flush(ctx context.Context) error { return current().Flush(ctx) }

func Stop() { current().Stop() }

// TrackStage runs fn and observes its duration under the stage name,
// with status "error" when fn fails. The error passes through unchanged.
func TrackStage(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	ObserveStage(stage, time.Since(start).Seconds(), status)
	return err
}

type nopBackend struct{}

func (nopBackend) AddRows(int, string)                  {}
func (nopBackend) AddValues(int, string)                {}
func (nopBackend) AddValueErrors(int)                   {}
func (nopBackend) ObserveStage(string, float64, string) {}
func (nopBackend) Flush(context.Context) error          { return nil }
func (nopBackend) Stop()                                {}
