// Package runner orchestrates one profiling run: stream the configured
// source into a dataset profile, write the configured outputs, and persist
// the profile when a store is configured.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
	"unicode/utf8"

	"dataprof/internal/config"
	"dataprof/internal/ingest"
	"dataprof/internal/metrics"
	"dataprof/internal/store"
	"dataprof/pkg/profile"
)

// Logger is the minimal logging interface used by the runner.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Result reports what one run produced.
type Result struct {
	// Rows is the number of rows tracked into the profile.
	Rows uint64

	// Columns is the number of distinct columns observed.
	Columns int

	// RowErrors counts source rows skipped as unparseable.
	RowErrors uint64

	// ValueErrors counts values the profile could not classify.
	ValueErrors uint64

	// BinaryPath is the expanded envelope output path, "" when no binary
	// output was configured.
	BinaryPath string

	// SummaryPath is the expanded summary output path, "" when no summary
	// output was configured.
	SummaryPath string

	// StoreID is the saved profile's store id, 0 when no store was
	// configured.
	StoreID int64
}

// Runner executes profiling runs. The zero value uses production
// defaults; the fields are seams for tests and alternate runtimes.
type Runner struct {
	// NewStore opens the profile store. Nil means store.Open.
	NewStore func(ctx context.Context, cfg store.Config) (store.Store, error)

	// ExpandEnv expands ${VAR} references in the storage DSN.
	// Nil means os.ExpandEnv.
	ExpandEnv func(string) string
}

// New returns a Runner with production defaults.
func New() *Runner { return &Runner{} }

func (r *Runner) newStore() func(ctx context.Context, cfg store.Config) (store.Store, error) {
	if r.NewStore != nil {
		return r.NewStore
	}
	return store.Open
}

func (r *Runner) expandEnv() func(string) string {
	if r.ExpandEnv != nil {
		return r.ExpandEnv
	}
	return os.ExpandEnv
}

// Run profiles cfg's source end to end.
//
// Stages, in order: read (stream and track), write (envelope output),
// summary, store. Each stage is timed, logged as one "stage=..." line,
// and reported to the metrics facade. Skipped stages (no path, no store)
// are silent.
//
// Errors:
//   - the first error-severity config validation issue;
//   - any stage failure, wrapped with the stage's context. Outputs written
//     by earlier stages stay on disk.
func (r *Runner) Run(ctx context.Context, cfg config.Profile, logger Logger) (Result, error) {
	logf := loggerFunc(logger)

	if issues := config.Validate(cfg); config.HasErrors(issues) {
		return Result{}, fmt.Errorf("config: %s", firstError(issues))
	}

	prof, err := profile.New(profile.Config{
		Name:   cfg.Name,
		Tags:   cfg.Tags,
		Column: cfg.Column.SketchConfig(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("new profile: %w", err)
	}

	var res Result

	readStart := time.Now()
	if err := metrics.TrackStage("read", func() error {
		return r.readSource(ctx, cfg, prof, &res)
	}); err != nil {
		logf("stage=read error err=%v", err)
		return res, err
	}
	res.Rows = prof.RowCount()
	res.Columns = len(prof.ColumnNames())
	res.ValueErrors = prof.ErrorCount()
	reportValueMetrics(cfg.Source.Kind, prof)
	logf("stage=read ok rows=%d columns=%d row_errors=%d value_errors=%d duration=%s",
		res.Rows, res.Columns, res.RowErrors, res.ValueErrors, durMS(readStart))

	if cfg.Output.BinaryPath != "" {
		writeStart := time.Now()
		path := ExpandPath(cfg.Output.BinaryPath, prof)
		if err := metrics.TrackStage("write", func() error {
			return writeProfile(path, prof, cfg.Output.Delimited)
		}); err != nil {
			logf("stage=write error path=%s err=%v", path, err)
			return res, fmt.Errorf("write profile: %w", err)
		}
		res.BinaryPath = path
		logf("stage=write ok path=%s delimited=%t duration=%s", path, cfg.Output.Delimited, durMS(writeStart))
	}

	if cfg.Output.SummaryPath != "" {
		sumStart := time.Now()
		path := ExpandPath(cfg.Output.SummaryPath, prof)
		format := cfg.Output.SummaryFormat
		if format == "" {
			format = "json"
		}
		if err := metrics.TrackStage("summary", func() error {
			return writeSummary(path, format, prof)
		}); err != nil {
			logf("stage=summary error path=%s err=%v", path, err)
			return res, fmt.Errorf("write summary: %w", err)
		}
		res.SummaryPath = path
		logf("stage=summary ok path=%s format=%s duration=%s", path, format, durMS(sumStart))
	}

	if cfg.Storage != nil {
		storeStart := time.Now()
		if err := metrics.TrackStage("store", func() error {
			id, err := r.saveProfile(ctx, cfg, prof)
			if err != nil {
				return err
			}
			res.StoreID = id
			return nil
		}); err != nil {
			logf("stage=store error driver=%s err=%v", cfg.Storage.Driver, err)
			return res, fmt.Errorf("store profile: %w", err)
		}
		logf("stage=store ok driver=%s id=%d duration=%s", cfg.Storage.Driver, res.StoreID, durMS(storeStart))
	}

	return res, nil
}

// readSource streams the configured source into the profile. Unparseable
// rows are counted and skipped; value errors are counted by the profile
// and never stop the stream.
func (r *Runner) readSource(ctx context.Context, cfg config.Profile, prof *profile.DatasetProfile, res *Result) error {
	f, err := os.Open(cfg.Source.Path)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = f.Close() }()

	opts := ingestOptions(cfg.Source)
	emit := func(rec ingest.Record) error {
		if err := prof.TrackRow(rec); err != nil && !errors.Is(err, profile.ErrValueType) {
			return err
		}
		return nil
	}
	onErr := func(line int, err error) {
		res.RowErrors++
	}

	switch cfg.Source.Kind {
	case "csv":
		err = ingest.StreamCSV(ctx, f, opts, emit, onErr)
	case "json":
		err = ingest.StreamJSON(ctx, f, opts, emit, onErr)
	case "html":
		err = ingest.StreamHTMLTable(ctx, f, opts, emit, onErr)
	default:
		return fmt.Errorf("source kind %q not supported", cfg.Source.Kind)
	}
	if err != nil {
		return fmt.Errorf("read %s source: %w", cfg.Source.Kind, err)
	}
	return nil
}

func (r *Runner) saveProfile(ctx context.Context, cfg config.Profile, prof *profile.DatasetProfile) (int64, error) {
	st, err := r.newStore()(ctx, store.Config{
		Driver: cfg.Storage.Driver,
		DSN:    r.expandEnv()(cfg.Storage.DSN),
	})
	if err != nil {
		return 0, err
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		return 0, err
	}
	return st.Save(ctx, prof)
}

// reportValueMetrics forwards the read stage's counts to the metrics
// facade: rows by source kind, tracked values by kind (nulls included),
// and value errors.
func reportValueMetrics(source string, prof *profile.DatasetProfile) {
	metrics.AddRows(int(prof.RowCount()), source)

	kinds := make(map[string]uint64)
	for _, col := range prof.Columns() {
		for k, n := range col.Schema().TypeCounts() {
			kinds[k.String()] += n
		}
		if n := col.NullCount(); n > 0 {
			kinds["null"] += n
		}
	}
	for kind, n := range kinds {
		metrics.AddValues(int(n), kind)
	}
	if n := prof.ErrorCount(); n > 0 {
		metrics.AddValueErrors(int(n))
	}
}

func ingestOptions(src config.Source) ingest.Options {
	opts := ingest.Options{
		Encoding:           src.Encoding,
		NormalizeHeaders:   src.NormalizeHeaders,
		ArrayJoinSeparator: src.ArrayJoinSeparator,
		TableSelector:      src.TableSelector,
	}
	if src.Delimiter != "" {
		opts.Delimiter, _ = utf8.DecodeRuneInString(src.Delimiter)
	}
	return opts
}

func firstError(issues []config.Issue) string {
	for _, iss := range issues {
		if iss.Severity == config.SeverityError {
			return iss.Path + ": " + iss.Message
		}
	}
	return "invalid"
}

func loggerFunc(l Logger) func(format string, v ...any) {
	if l == nil {
		nop := log.New(discardWriter{}, "", 0)
		return nop.Printf
	}
	return l.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }
