package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// recordingBackend captures every facade call for assertions.
type recordingBackend struct {
	mu         sync.Mutex
	rows       map[string]int
	values     map[string]int
	valueErrs  int
	stages     []stageCall
	flushCalls int
	stopCalls  int
	flushErr   error
}

type stageCall struct {
	stage   string
	seconds float64
	status  string
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{
		rows:   make(map[string]int),
		values: make(map[string]int),
	}
}

func (r *recordingBackend) AddRows(n int, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[source] += n
}

func (r *recordingBackend) AddValues(n int, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[kind] += n
}

func (r *recordingBackend) AddValueErrors(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.valueErrs += n
}

func (r *recordingBackend) ObserveStage(stage string, seconds float64, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stageCall{stage: stage, seconds: seconds, status: status})
}

func (r *recordingBackend) Flush(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushCalls++
	return r.flushErr
}

func (r *recordingBackend) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopCalls++
}

func TestHelpersDelegateToBackend(t *testing.T) {
	rec := newRecordingBackend()
	SetBackend(rec)
	t.Cleanup(func() { SetBackend(nil) })

	AddRows(10, "csv")
	AddRows(5, "csv")
	AddValues(3, "integral")
	AddValueErrors(2)
	ObserveStage("read", 0.25, "ok")
	if err := Flush(context.Background()); err != nil {
		t.Fatalf("Flush() = %v, want nil", err)
	}
	Stop()

	if got := rec.rows["csv"]; got != 15 {
		t.Fatalf("rows[csv] = %d, want 15", got)
	}
	if got := rec.values["integral"]; got != 3 {
		t.Fatalf("values[integral] = %d, want 3", got)
	}
	if rec.valueErrs != 2 {
		t.Fatalf("valueErrs = %d, want 2", rec.valueErrs)
	}
	if len(rec.stages) != 1 || rec.stages[0] != (stageCall{stage: "read", seconds: 0.25, status: "ok"}) {
		t.Fatalf("stages = %+v, want one read/ok call", rec.stages)
	}
	if rec.flushCalls != 1 || rec.stopCalls != 1 {
		t.Fatalf("flushCalls=%d stopCalls=%d, want 1 and 1", rec.flushCalls, rec.stopCalls)
	}
}

func TestSetBackendNilRestoresNop(t *testing.T) {
	rec := newRecordingBackend()
	SetBackend(rec)
	SetBackend(nil)

	AddRows(1, "csv")
	ObserveStage("read", 1, "ok")
	if err := Flush(context.Background()); err != nil {
		t.Fatalf("Flush() = %v, want nil", err)
	}
	Stop()

	if len(rec.rows) != 0 || len(rec.stages) != 0 || rec.flushCalls != 0 {
		t.Fatalf("backend received calls after SetBackend(nil): %+v", rec)
	}
}

func TestFlushPropagatesBackendError(t *testing.T) {
	rec := newRecordingBackend()
	rec.flushErr = errors.New("submit failed")
	SetBackend(rec)
	t.Cleanup(func() { SetBackend(nil) })

	if err := Flush(context.Background()); err == nil || err.Error() != "submit failed" {
		t.Fatalf("Flush() = %v, want submit failed", err)
	}
}

func TestTrackStage(t *testing.T) {
	rec := newRecordingBackend()
	SetBackend(rec)
	t.Cleanup(func() { SetBackend(nil) })

	if err := TrackStage("write", func() error { return nil }); err != nil {
		t.Fatalf("TrackStage() = %v, want nil", err)
	}
	wantErr := errors.New("boom")
	if err := TrackStage("write", func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("TrackStage() = %v, want %v", err, wantErr)
	}

	if len(rec.stages) != 2 {
		t.Fatalf("got %d stage observations, want 2", len(rec.stages))
	}
	if rec.stages[0].status != "ok" || rec.stages[1].status != "error" {
		t.Fatalf("statuses = %q, %q, want ok then error", rec.stages[0].status, rec.stages[1].status)
	}
	if rec.stages[0].seconds < 0 || rec.stages[1].seconds < 0 {
		t.Fatalf("negative durations recorded: %+v", rec.stages)
	}
}
