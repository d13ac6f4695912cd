// Package config defines the JSON run configuration for the dataprof
// binary and validates it before a run starts.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"dataprof/pkg/profile"
)

// Profile is a single profiling job: one input source, one dataset
// profile, and where the results go.
type Profile struct {
	Name    string            `json:"name"`
	Source  Source            `json:"source"`
	Column  Column            `json:"column"`
	Tags    map[string]string `json:"tags,omitempty"`
	Output  Output            `json:"output"`
	Storage *Storage          `json:"storage,omitempty"`
	Metrics Metrics           `json:"metrics"`
}

type Source struct {
	// Kind selects the reader: "csv" | "json" | "html"
	Kind string `json:"kind"`
	Path string `json:"path"`

	// Encoding names the input charset ("utf-8" when empty).
	Encoding string `json:"encoding,omitempty"`

	// Delimiter is the CSV field separator, exactly one rune ("," when empty).
	Delimiter string `json:"delimiter,omitempty"`

	// TableSelector picks the HTML table to profile ("table" when empty).
	TableSelector string `json:"table_selector,omitempty"`

	// ArrayJoinSeparator joins string arrays in JSON records ("," when empty).
	ArrayJoinSeparator string `json:"array_join_separator,omitempty"`

	NormalizeHeaders bool `json:"normalize_headers,omitempty"`
}

// Column carries the per-column sketch sizing knobs. Zero values keep
// the profile defaults.
type Column struct {
	QuantileK        uint16 `json:"quantile_k,omitempty"`
	HLLPrecision     uint8  `json:"hll_precision,omitempty"`
	FrequentCapacity int    `json:"frequent_capacity,omitempty"`
}

// SketchConfig converts the JSON knobs into the profile package's
// column configuration.
func (c Column) SketchConfig() profile.ColumnConfig {
	return profile.ColumnConfig{
		QuantileK:        c.QuantileK,
		HLLPrecision:     c.HLLPrecision,
		FrequentCapacity: c.FrequentCapacity,
	}
}

type Output struct {
	// BinaryPath receives the serialized profile envelope. It may contain
	// the templates $name, $session_id, $session_timestamp and
	// $dataset_timestamp.
	BinaryPath string `json:"binary_path,omitempty"`

	// Delimited appends a length-prefixed envelope to BinaryPath instead
	// of replacing the file, so repeated runs accumulate a mergeable
	// stream.
	Delimited bool `json:"delimited,omitempty"`

	// SummaryPath receives the flat per-column summary. Same templates as
	// BinaryPath.
	SummaryPath string `json:"summary_path,omitempty"`

	// SummaryFormat is "json" | "csv" ("json" when empty).
	SummaryFormat string `json:"summary_format,omitempty"`
}

type Storage struct {
	// Driver selects the store backend: "sqlite" | "postgres" | "mssql"
	Driver string `json:"driver"`

	// DSN is expanded with ${ENV} references before opening.
	DSN string `json:"dsn"`
}

type Metrics struct {
	// Backend is "none" | "datadog" (metrics disabled when empty).
	Backend string `json:"backend,omitempty"`

	// Tags are extra "key:value" pairs attached to every series.
	Tags []string `json:"tags,omitempty"`
}

// Load reads and decodes a profile config file. Unknown fields are
// rejected so a misspelled knob fails loudly instead of silently keeping
// its default.
func Load(path string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profile{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()

	var p Profile
	if err := dec.Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return p, nil
}
