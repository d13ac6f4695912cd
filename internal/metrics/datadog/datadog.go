// Package datadog implements a Datadog backend for the internal/metrics
// facade.
//
// NOTE ABOUT FLUSHING:
// Profiling runs are usually short, but nothing stops a caller from
// profiling an endless stream. Submitting only once at process exit
// would turn a long run into a single spike on a dashboard, so the
// backend:
//
//   - buffers counters and duration samples in memory (lock-protected)
//   - periodically submits them on a ticker (default: once per minute)
//   - submits one final time on Stop()
//
// Short runs get a single tail flush; long runs get a real time series.
//
// Concurrency model:
//   - profiling goroutines can call the Add/Observe methods at any time
//   - Flush snapshots+resets buffers under a mutex, then submits out-of-lock
//   - the flush loop calls Flush periodically; Stop() halts the loop
//
// If the process is killed with SIGKILL/OOM, Stop() won't run (no backend
// can fix that).
//
// Authentication comes from the standard Datadog environment variables
// (DD_API_KEY, DD_SITE, ...) and is resolved on every flush.
package datadog

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"dataprof/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "dataprof".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "service:dataprof"}).
	Tags []string

	// FlushEvery controls how often we submit buffered metrics to Datadog.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// The following fields are unexported test seams.
	//
	// Production code will never set them; unit tests can set them to avoid:
	//   - real network submission
	//   - nondeterministic clocks/tickers
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal interface needed to submit metrics.
//
// The Datadog SDK exposes a concrete *datadogV2.MetricsApi, which makes
// unit testing difficult (we cannot stub it without doing real HTTP).
// Backend depends on this interface instead of the concrete type,
// enabling deterministic tests with a fake submitter.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	// now is injected for deterministic tests. Production uses time.Now.
	now func() time.Time

	// newTicker is injected for deterministic tests. Production uses time.NewTicker.
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	rowCounts     map[string]float64   // source -> rows read
	valueCounts   map[string]float64   // kind -> values tracked
	valueErrCount float64              // values the tracker could not classify
	stageSamples  map[string][]float64 // stage+status -> duration seconds
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	// newTicker is a seam to allow tests to run with very small tick durations
	// while still keeping the production behavior identical.
	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush(context.Background())
		case <-b.stopCh:
			return
		}
	}
}

// Stop halts the background flush loop and submits buffered metrics one
// final time. The final submission error is dropped; callers that need
// to observe it should Flush explicitly before stopping.
//
// Edge cases:
//   - If Stop is called multiple times, the behavior is undefined (it will
//     panic because stopCh is closed twice). This mirrors typical Go
//     "close once" semantics and is acceptable for process-lifetime
//     backends.
func (b *Backend) Stop() {
	close(b.stopCh)
	<-b.doneCh
	_ = b.Flush(context.Background())
}

// NewBackend constructs a Datadog backend using the official client.
//
// When to use:
//   - Configure this backend when profiling runs should report to Datadog.
//   - Suitable for both one-shot commands (final flush on Stop) and
//     long-running streams (periodic flush).
//
// Edge cases:
//   - If opts.FlushEvery <= 0, defaults to 60s.
//   - If opts.JobName is empty, defaults to "dataprof".
//   - Environment tag selection uses ENV then DD_ENV, otherwise env:unknown.
//
// Errors:
//   - Returns an error only if internal initialization fails.
//   - Datadog client construction itself is not expected to fail under
//     normal conditions; network errors occur during Flush.
func NewBackend(opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "dataprof"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	envTag := resolveEnvTag()
	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, envTag, "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	// Clock / ticker seams.
	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	// Submitter seam.
	submitter := opts.submitter
	if submitter == nil {
		cfg := dd.NewConfiguration()
		client := dd.NewAPIClient(cfg)
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),

		baseTags: baseTags,

		now:       nowFn,
		newTicker: newTicker,

		rowCounts:    make(map[string]float64),
		valueCounts:  make(map[string]float64),
		stageSamples: make(map[string][]float64),
	}

	go b.loop()
	return b, nil
}

// AddRows implements metrics.Backend.
func (b *Backend) AddRows(n int, source string) {
	if n <= 0 {
		return
	}
	if source == "" {
		source = "unknown"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rowCounts[source] += float64(n)
}

// AddValues implements metrics.Backend.
func (b *Backend) AddValues(n int, kind string) {
	if n <= 0 || kind == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.valueCounts[kind] += float64(n)
}

// AddValueErrors implements metrics.Backend.
func (b *Backend) AddValueErrors(n int) {
	if n <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.valueErrCount += float64(n)
}

// ObserveStage implements metrics.Backend.
func (b *Backend) ObserveStage(stage string, seconds float64, status string) {
	if seconds < 0 {
		return
	}
	if status == "" {
		status = "unknown"
	}
	k := stageStatusKey(stage, status)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.stageSamples[k] = append(b.stageSamples[k], seconds)
}

// snapshot is the detached buffered state used to build one flush payload.
//
// Flush() must reset buffers under a lock, but must submit out-of-lock.
// snapshot allows a clean separation between (1) collect+reset and
// (2) payload building+submission.
type snapshot struct {
	rowCounts     map[string]float64
	valueCounts   map[string]float64
	valueErrCount float64
	stageSamples  map[string][]float64
}

// snapshotAndReset grabs current buffered metrics and resets internal buffers.
//
// Concurrency:
//   - Must be called with no lock held.
//   - Takes the lock internally and returns detached maps/slices.
func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		rowCounts:     b.rowCounts,
		valueCounts:   b.valueCounts,
		valueErrCount: b.valueErrCount,
		stageSamples:  b.stageSamples,
	}

	// Reset buffers for the next collection window.
	b.rowCounts = make(map[string]float64)
	b.valueCounts = make(map[string]float64)
	b.valueErrCount = 0
	b.stageSamples = make(map[string][]float64)

	return s
}

// isEmpty returns true if the snapshot contains no data to submit.
func (s snapshot) isEmpty() bool {
	return len(s.rowCounts) == 0 &&
		len(s.valueCounts) == 0 &&
		s.valueErrCount == 0 &&
		len(s.stageSamples) == 0
}

// Flush submits buffered metrics to Datadog and resets local buffers.
//
// Errors:
//   - Returns any error from Datadog submission.
//   - Returns nil if there is nothing to submit.
//
// Edge cases:
//   - Flush is safe to call concurrently with the Add/Observe methods.
//   - Flush resets buffers even if submission fails, so profiling never
//     blocks behind a slow or broken intake.
func (b *Backend) Flush(ctx context.Context) error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	nowUnix := b.now().Unix()

	series := b.buildSeries(snap, nowUnix)
	payload := datadogV2.MetricPayload{Series: series}

	_, _, err := b.api.SubmitMetrics(dd.NewDefaultContext(ctx), payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries constructs Datadog series for a snapshot at a fixed timestamp.
//
// It is pure (no locks, no network, no clocks), which keeps the naming
// and tagging behavior easy to unit test. That behavior is an
// operational contract: dashboards key on these names and tags.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	addCount := func(metric string, value float64, tags []string) datadogV2.MetricSeries {
		return datadogV2.MetricSeries{
			Metric: metric,
			Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
			Points: []datadogV2.MetricPoint{
				{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
			},
			Tags: tags,
		}
	}

	series := make([]datadogV2.MetricSeries, 0, len(s.rowCounts)+len(s.valueCounts)+4*len(s.stageSamples)+1)

	// Row counters.
	for source, v := range s.rowCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "source:"+source)
		series = append(series, addCount("dataprof.rows.total", v, tags))
	}

	// Value counters.
	for kind, v := range s.valueCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "kind:"+kind)
		series = append(series, addCount("dataprof.values.total", v, tags))
	}

	// Value error counter.
	if s.valueErrCount != 0 {
		series = append(series, addCount("dataprof.value_errors.total", s.valueErrCount, b.baseTags))
	}

	// Stage counts and duration aggregates. Stages run once or a handful
	// of times per run, so avg/max carry more signal than percentiles.
	for k, samples := range s.stageSamples {
		if len(samples) == 0 {
			continue
		}
		stage, status := splitStageStatusKey(k)
		tags := withTags(b.baseTags, "stage:"+stage, "status:"+status)

		series = append(series, addCount("dataprof.stage.total", float64(len(samples)), tags))

		var sum, max float64
		for i, v := range samples {
			sum += v
			if i == 0 || v > max {
				max = v
			}
		}
		series = append(series, gaugeSeries("dataprof.stage.duration_seconds.avg", sum/float64(len(samples)), tags, nowUnix))
		series = append(series, gaugeSeries("dataprof.stage.duration_seconds.max", max, tags, nowUnix))
		series = append(series, gaugeSeries("dataprof.stage.duration_seconds.samples", float64(len(samples)), tags, nowUnix))
	}

	return series
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func stageStatusKey(stage, status string) string {
	return stage + "\x00" + status
}

func splitStageStatusKey(k string) (stage, status string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:dataprof".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
