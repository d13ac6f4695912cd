package config

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"dataprof/internal/ingest"
	"dataprof/pkg/profile"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path points at the offending config
// field in JSON notation ("source.kind", "output.summary_format").
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// HasErrors reports whether any issue is severe enough to refuse the run.
// Warnings alone do not.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks a loaded profile config and returns every issue found,
// not just the first. Errors make the config unusable; warnings flag
// fields that will be ignored or defaults that look unintended.
func Validate(p Profile) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Name) == "" {
		add(SeverityWarning, "name", "name is empty; the $name output template expands to nothing")
	}

	kind := p.Source.Kind
	switch kind {
	case "csv", "json", "html":
	case "":
		add(SeverityError, "source.kind", "kind must be set (csv, json or html)")
	default:
		add(SeverityError, "source.kind", "unknown kind %q (expected csv, json or html)", kind)
	}
	if p.Source.Path == "" {
		add(SeverityError, "source.path", "path must be set")
	}
	if _, err := ingest.DecodeReader(strings.NewReader(""), p.Source.Encoding); err != nil {
		add(SeverityError, "source.encoding", "%v", err)
	}
	if d := p.Source.Delimiter; d != "" {
		if utf8.RuneCountInString(d) != 1 {
			add(SeverityError, "source.delimiter", "delimiter must be a single character, got %q", d)
		}
		if kind != "" && kind != "csv" {
			add(SeverityWarning, "source.delimiter", "delimiter is ignored for %s sources", kind)
		}
	}
	if p.Source.TableSelector != "" && kind != "" && kind != "html" {
		add(SeverityWarning, "source.table_selector", "table_selector is ignored for %s sources", kind)
	}
	if p.Source.ArrayJoinSeparator != "" && kind != "" && kind != "json" {
		add(SeverityWarning, "source.array_join_separator", "array_join_separator is ignored for %s sources", kind)
	}

	// One probe column exercises the same checks every tracked column will.
	if _, err := profile.NewColumn(p.Name, p.Column.SketchConfig()); err != nil {
		add(SeverityError, "column", "%v", err)
	}

	switch p.Output.SummaryFormat {
	case "", "json", "csv":
	default:
		add(SeverityError, "output.summary_format", "unknown format %q (expected json or csv)", p.Output.SummaryFormat)
	}
	if p.Output.SummaryFormat != "" && p.Output.SummaryPath == "" {
		add(SeverityWarning, "output.summary_format", "summary_format is set but summary_path is empty; no summary is written")
	}
	if p.Output.Delimited && p.Output.BinaryPath == "" {
		add(SeverityWarning, "output.delimited", "delimited is set but binary_path is empty; no envelope is written")
	}
	if p.Output.BinaryPath == "" && p.Output.SummaryPath == "" && p.Storage == nil {
		add(SeverityWarning, "output", "no binary_path, summary_path or storage; the profile is computed and discarded")
	}

	if s := p.Storage; s != nil {
		switch s.Driver {
		case "sqlite", "postgres", "mssql":
		case "":
			add(SeverityError, "storage.driver", "driver must be set (sqlite, postgres or mssql)")
		default:
			add(SeverityError, "storage.driver", "unknown driver %q (expected sqlite, postgres or mssql)", s.Driver)
		}
		if s.DSN == "" {
			add(SeverityError, "storage.dsn", "dsn must be set")
		}
	}

	// Warning, not error: the -metrics-backend flag can still override a bad
	// config value.
	switch p.Metrics.Backend {
	case "", "none", "datadog":
	default:
		add(SeverityWarning, "metrics.backend", "unknown backend %q (expected none or datadog)", p.Metrics.Backend)
	}

	return issues
}
