// Package profile composes the sketches in pkg/sketch into column and
// dataset profiles: mergeable statistical summaries of tabular data that
// shards can build independently and combine later, plus a deterministic
// binary envelope for moving them between processes.
//
// Profiles are single-goroutine objects. Concurrent pipelines profile one
// shard per goroutine and reduce with Merge or MergeAll.
package profile

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Config describes a dataset profiling session.
type Config struct {
	// Name labels the dataset (table name, topic, file stem).
	Name string

	// SessionID identifies one profiling run. Left empty, New fills in a
	// fresh UUID.
	SessionID string

	// SessionTimestamp is when the profiling run started. Left zero, New
	// fills in the current UTC time.
	SessionTimestamp time.Time

	// DataTimestamp is when the profiled data was produced (batch date).
	// Optional.
	DataTimestamp time.Time

	// Tags partition profiles. Two profiles merge only when their tags are
	// equal.
	Tags map[string]string

	// Metadata is free-form annotation carried through serialization. It
	// does not affect merging.
	Metadata map[string]string

	// Column configures the sketches of every column this profile creates.
	Column ColumnConfig
}

// DatasetProfile is the profile of one dataset: a header identifying the
// session plus one ColumnProfile per observed column, created lazily as
// columns appear.
type DatasetProfile struct {
	name             string
	sessionID        string
	sessionTimestamp time.Time
	dataTimestamp    time.Time
	tags             map[string]string
	metadata         map[string]string
	columnCfg        ColumnConfig

	columns map[string]*ColumnProfile
	rows    uint64

	rowKeys []string
}

// New returns an empty profile for the session cfg describes, filling in
// SessionID and SessionTimestamp when unset.
//
// Errors:
//   - cfg.Column fields outside the accepted sketch ranges.
func New(cfg Config) (*DatasetProfile, error) {
	// Build a throwaway column so a bad config fails here, not on the
	// first tracked row.
	colCfg := cfg.Column.withDefaults()
	if _, err := NewColumn(cfg.Name, colCfg); err != nil {
		return nil, fmt.Errorf("dataset %q: %w", cfg.Name, err)
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sessionTS := cfg.SessionTimestamp
	if sessionTS.IsZero() {
		sessionTS = time.Now().UTC()
	}

	// Profiles carry millisecond timestamps on the wire; truncating here
	// keeps a serialize/parse round trip lossless.
	return &DatasetProfile{
		name:             cfg.Name,
		sessionID:        sessionID,
		sessionTimestamp: sessionTS.Truncate(time.Millisecond),
		dataTimestamp:    cfg.DataTimestamp.Truncate(time.Millisecond),
		tags:             maps.Clone(cfg.Tags),
		metadata:         maps.Clone(cfg.Metadata),
		columnCfg:        colCfg,
		columns:          make(map[string]*ColumnProfile),
	}, nil
}

// NewDefault returns an empty profile named name with default column
// configuration, a fresh session id, and the current timestamp.
func NewDefault(name string) *DatasetProfile {
	p, err := New(Config{Name: name})
	if err != nil {
		// Default config is always valid.
		panic(err)
	}
	return p
}

// Track folds one value into the named column, creating the column profile
// on first sight. Value errors are recoverable; see ColumnProfile.Track.
func (p *DatasetProfile) Track(column string, v any) error {
	c, ok := p.columns[column]
	if !ok {
		var err error
		c, err = NewColumn(column, p.columnCfg)
		if err != nil {
			return err
		}
		p.columns[column] = c
	}
	return c.Track(v)
}

// TrackRow counts one row and folds every column value in it. Tracking
// continues past value errors; whatever errors occurred are joined and
// returned, wrapping ErrValueType.
func (p *DatasetProfile) TrackRow(row map[string]any) error {
	p.rows++

	p.rowKeys = p.rowKeys[:0]
	for col := range row {
		p.rowKeys = append(p.rowKeys, col)
	}
	sort.Strings(p.rowKeys)

	var errs []error
	for _, col := range p.rowKeys {
		if err := p.Track(col, row[col]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Merge folds other into p and returns p. Tags must be equal and every
// column present in both profiles must be compatible; all checks run before
// any mutation, so a failed merge leaves p untouched. other is never
// mutated.
//
// Columns only other has are adopted as deep clones. Row counts add. The
// session and data timestamps each become the earlier non-zero of the two.
// p keeps its own name, session id, and metadata.
//
// Errors:
//   - ErrTagMismatch when the tag sets differ.
//   - an error wrapping ErrSchemaMismatch naming the offending column.
func (p *DatasetProfile) Merge(other *DatasetProfile) (*DatasetProfile, error) {
	if other == nil {
		return p, nil
	}
	if !maps.Equal(p.tags, other.tags) {
		return p, fmt.Errorf("tags %v vs %v: %w", p.tags, other.tags, ErrTagMismatch)
	}

	names := make([]string, 0, len(other.columns))
	for name := range other.columns {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mine, ok := p.columns[name]
		if !ok {
			continue
		}
		if err := mine.compatibleWith(other.columns[name]); err != nil {
			return p, err
		}
	}

	for _, name := range names {
		theirs := other.columns[name]
		mine, ok := p.columns[name]
		if !ok {
			p.columns[name] = theirs.Clone()
			continue
		}
		if _, err := mine.Merge(theirs); err != nil {
			return p, err
		}
	}

	p.rows += other.rows
	p.sessionTimestamp = earlierNonZero(p.sessionTimestamp, other.sessionTimestamp)
	p.dataTimestamp = earlierNonZero(p.dataTimestamp, other.dataTimestamp)
	return p, nil
}

// MergeAll reduces profiles into a single new profile: a clone of the first
// merged with the rest. The inputs are never mutated.
//
// Errors:
//   - no profiles given.
//   - any pairwise Merge failure.
func MergeAll(profiles []*DatasetProfile) (*DatasetProfile, error) {
	if len(profiles) == 0 {
		return nil, errors.New("merge: no profiles")
	}
	out := profiles[0].Clone()
	for _, p := range profiles[1:] {
		if _, err := out.Merge(p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func earlierNonZero(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() {
		return a
	}
	if b.Before(a) {
		return b
	}
	return a
}

// Clone returns a deep copy sharing no state with p.
func (p *DatasetProfile) Clone() *DatasetProfile {
	c := &DatasetProfile{
		name:             p.name,
		sessionID:        p.sessionID,
		sessionTimestamp: p.sessionTimestamp,
		dataTimestamp:    p.dataTimestamp,
		tags:             maps.Clone(p.tags),
		metadata:         maps.Clone(p.metadata),
		columnCfg:        p.columnCfg,
		columns:          make(map[string]*ColumnProfile, len(p.columns)),
		rows:             p.rows,
	}
	for name, col := range p.columns {
		c.columns[name] = col.Clone()
	}
	return c
}

// Name returns the dataset name.
func (p *DatasetProfile) Name() string { return p.name }

// SessionID returns the profiling-run identifier.
func (p *DatasetProfile) SessionID() string { return p.sessionID }

// SessionTimestamp returns when the profiling run started.
func (p *DatasetProfile) SessionTimestamp() time.Time { return p.sessionTimestamp }

// DataTimestamp returns the batch timestamp of the profiled data, zero when
// unset.
func (p *DatasetProfile) DataTimestamp() time.Time { return p.dataTimestamp }

// Tags returns a copy of the profile's tags.
func (p *DatasetProfile) Tags() map[string]string { return maps.Clone(p.tags) }

// Metadata returns a copy of the profile's metadata.
func (p *DatasetProfile) Metadata() map[string]string { return maps.Clone(p.metadata) }

// RowCount returns the number of rows tracked, summed across merges.
func (p *DatasetProfile) RowCount() uint64 { return p.rows }

// ErrorCount returns the total unclassifiable-value count across columns.
func (p *DatasetProfile) ErrorCount() uint64 {
	var n uint64
	for _, c := range p.columns {
		n += c.ErrorCount()
	}
	return n
}

// Column returns the profile of the named column, or nil if the column was
// never tracked.
func (p *DatasetProfile) Column(name string) *ColumnProfile { return p.columns[name] }

// ColumnNames returns the tracked column names in ascending order.
func (p *DatasetProfile) ColumnNames() []string {
	names := make([]string, 0, len(p.columns))
	for name := range p.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Columns returns the column profiles keyed by name. The map is a copy; the
// profiles are the live ones.
func (p *DatasetProfile) Columns() map[string]*ColumnProfile {
	return maps.Clone(p.columns)
}
