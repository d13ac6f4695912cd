// Command dataprof profiles one tabular source per invocation: it streams
// the configured CSV, JSON or HTML input into a dataset profile, writes the
// configured outputs, and exits.
//
// Usage:
//
//	dataprof -config configs/orders.json
//	dataprof -config configs/orders.json -validate
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"dataprof/internal/config"
	"dataprof/internal/metrics"
	"dataprof/internal/metrics/datadog"
	"dataprof/internal/runner"

	// Register every store backend with the factory. The config picks one
	// at run time, and the mssql backend leaves driver registration to the
	// binary.
	_ "dataprof/internal/store/all"

	_ "github.com/microsoft/go-mssqldb"
)

// profileRunner is the slice of the runner the CLI depends on.
type profileRunner interface {
	Run(ctx context.Context, cfg config.Profile, logger runner.Logger) (runner.Result, error)
}

// appDeps are the side-effecting collaborators runMain needs. Tests
// substitute fakes; main wires the real implementations.
type appDeps struct {
	loadConfig  func(path string) (config.Profile, error)
	newRunner   func() profileRunner
	initMetrics func(ctx context.Context, jobName, backendName string, tags []string) (func(), error)
}

func main() {
	code := runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, appDeps{
		loadConfig:  config.Load,
		newRunner:   func() profileRunner { return runner.New() },
		initMetrics: initMetrics,
	})
	os.Exit(code)
}

// runMain is the testable CLI entry point.
//
// Exit codes: 0 on success, 1 on config or run failures, 2 on usage
// errors. Validation issues print to stderr one per line; warnings never
// block a run.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("dataprof", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath     string
		backendFlag string
		validate    bool
	)
	fs.StringVar(&cfgPath, "config", "", "profile config JSON path")
	fs.StringVar(&backendFlag, "metrics-backend", "", "metrics backend override (none, datadog)")
	fs.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := fs.Bool("v", false, "enable verbose logs")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(cfgPath) == "" {
		fmt.Fprintln(stderr, "usage: dataprof -config path/to/profile.json")
		return 2
	}

	cfg, err := deps.loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", cfgPath)
		return 1
	}
	if validate {
		fmt.Fprintf(stdout, "configuration is valid: %s\n", cfgPath)
		return 0
	}

	// Metrics backend: flag overrides config overrides environment.
	backendName := backendFlag
	if backendName == "" {
		backendName = cfg.Metrics.Backend
	}
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	jobName := cfg.Name
	if jobName == "" {
		jobName = "dataprof"
	}
	cleanup, err := deps.initMetrics(ctx, jobName, backendName, cfg.Metrics.Tags)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	logger := log.New(stderr, "", log.LstdFlags)
	if *verbose {
		logger.Printf("profile: name=%s source=%s path=%s", cfg.Name, cfg.Source.Kind, cfg.Source.Path)
	}

	start := time.Now()
	res, err := deps.newRunner().Run(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}

	line := fmt.Sprintf("ok rows=%d columns=%d row_errors=%d value_errors=%d duration=%s",
		res.Rows, res.Columns, res.RowErrors, res.ValueErrors, time.Since(start).Truncate(time.Millisecond))
	if res.BinaryPath != "" {
		line += " binary=" + res.BinaryPath
	}
	if res.SummaryPath != "" {
		line += " summary=" + res.SummaryPath
	}
	if res.StoreID != 0 {
		line += fmt.Sprintf(" store_id=%d", res.StoreID)
	}
	fmt.Fprintln(stdout, line)
	return 0
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(opts datadog.Options) (metrics.Backend, error) {
		b, err := datadog.NewBackend(opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	setMetricsBackend = metrics.SetBackend
	logPrintf         = log.Printf
)

// initMetrics wires the named metrics backend into the global facade and
// returns a cleanup that flushes and stops it. The cleanup is always
// non-nil and safe to call, error or not.
//
// Backend names: "" and "none" leave the nop backend in place; "datadog"
// starts the buffering Datadog backend with the given extra tags plus any
// METRICS_TAGS from the environment. Anything else is an error.
func initMetrics(ctx context.Context, jobName, backendName string, tags []string) (func(), error) {
	nop := func() {}

	switch backendName {
	case "", "none":
		return nop, nil

	case "datadog":
		allTags := append(append([]string(nil), tags...), datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))...)
		b, err := newDatadogBackend(datadog.Options{
			JobName: jobName,
			Tags:    allTags,
		})
		if err != nil {
			return nop, fmt.Errorf("datadog backend: %w", err)
		}
		setMetricsBackend(b)
		cleanup := func() {
			// Stop's final flush drops its error; flush explicitly first so
			// submit failures surface in the logs.
			if err := b.Flush(ctx); err != nil {
				logPrintf("metrics: datadog flush error: %v", err)
			}
			b.Stop()
		}
		return cleanup, nil

	default:
		return nop, fmt.Errorf("unknown metrics backend %q (want none|datadog)", backendName)
	}
}
