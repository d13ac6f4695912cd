// Package summary flattens dataset profiles into per-column summaries and
// renders them as JSON or CSV. The flat form is what reports and diffing
// tools consume; the profile itself stays the mergeable source of truth.
package summary

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"dataprof/pkg/profile"
)

// DefaultQuantiles is the rank grid reported for numeric columns when
// Options does not override it.
var DefaultQuantiles = []float64{0.05, 0.25, 0.5, 0.75, 0.95}

// DefaultTopK bounds the reported frequent items per column when Options
// does not override it.
const DefaultTopK = 10

// uniqueSigmas sets the width of the reported unique-count interval, in
// standard errors of the cardinality sketch.
const uniqueSigmas = 1

// Options controls what Flatten reports per column.
type Options struct {
	// Quantiles is the rank grid for numeric columns. Empty means
	// DefaultQuantiles. Ranks outside [0, 1] make Flatten fail.
	Quantiles []float64

	// TopK bounds the frequent items reported per column. <= 0 means
	// DefaultTopK.
	TopK int
}

func (o Options) withDefaults() Options {
	if len(o.Quantiles) == 0 {
		o.Quantiles = DefaultQuantiles
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	return o
}

// DatasetSummary is the flattened form of one dataset profile.
type DatasetSummary struct {
	Name             string            `json:"name"`
	SessionID        string            `json:"session_id"`
	SessionTimestamp time.Time         `json:"session_timestamp"`
	DataTimestamp    *time.Time        `json:"data_timestamp,omitempty"`
	RowCount         uint64            `json:"row_count"`
	Tags             map[string]string `json:"tags,omitempty"`
	Columns          []ColumnSummary   `json:"columns"`
}

// ColumnSummary is the flat view of one column profile. Numbers and
// Strings are nil when the column saw no values of that shape.
type ColumnSummary struct {
	Column     string `json:"column"`
	TotalCount uint64 `json:"total_count"`
	NullCount  uint64 `json:"null_count"`
	ErrorCount uint64 `json:"error_count"`

	InferredType string            `json:"inferred_type"`
	TypeCounts   map[string]uint64 `json:"type_counts,omitempty"`

	Numbers  *NumberSummary `json:"numbers,omitempty"`
	Strings  *StringSummary `json:"strings,omitempty"`
	Unique   UniqueSummary  `json:"unique"`
	Frequent []FrequentItem `json:"frequent,omitempty"`
}

// NumberSummary reports moment statistics and the quantile grid over a
// column's numeric values.
type NumberSummary struct {
	Count     uint64          `json:"count"`
	Mean      float64         `json:"mean"`
	Stddev    float64         `json:"stddev"`
	Min       float64         `json:"min"`
	Max       float64         `json:"max"`
	Quantiles []QuantileValue `json:"quantiles"`
}

// QuantileValue pairs one rank with the sketch's answer for it.
type QuantileValue struct {
	Q     float64 `json:"q"`
	Value float64 `json:"value"`
}

// StringSummary reports rune-length statistics over a column's string
// values.
type StringSummary struct {
	Count     uint64  `json:"count"`
	MeanLen   float64 `json:"mean_length"`
	StddevLen float64 `json:"stddev_length"`
	MinLen    float64 `json:"min_length"`
	MaxLen    float64 `json:"max_length"`
}

// UniqueSummary reports the estimated distinct count with its interval.
type UniqueSummary struct {
	Estimate float64 `json:"estimate"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
}

// FrequentItem is one reported heavy hitter. Lower and Upper bound the
// true count given everything the sketch may have missed.
type FrequentItem struct {
	Item     string `json:"item"`
	Estimate uint64 `json:"estimate"`
	Lower    uint64 `json:"lower"`
	Upper    uint64 `json:"upper"`
}

// Flatten renders p into its flat summary, columns in ascending name
// order.
//
// Errors:
//   - a rank in opts.Quantiles outside [0, 1].
func Flatten(p *profile.DatasetProfile, opts Options) (DatasetSummary, error) {
	opts = opts.withDefaults()

	s := DatasetSummary{
		Name:             p.Name(),
		SessionID:        p.SessionID(),
		SessionTimestamp: p.SessionTimestamp(),
		RowCount:         p.RowCount(),
		Tags:             p.Tags(),
		Columns:          make([]ColumnSummary, 0, len(p.ColumnNames())),
	}
	if dt := p.DataTimestamp(); !dt.IsZero() {
		s.DataTimestamp = &dt
	}
	if len(s.Tags) == 0 {
		s.Tags = nil
	}

	for _, name := range p.ColumnNames() {
		cs, err := flattenColumn(p.Column(name), opts)
		if err != nil {
			return DatasetSummary{}, fmt.Errorf("summarize column %q: %w", name, err)
		}
		s.Columns = append(s.Columns, cs)
	}
	return s, nil
}

func flattenColumn(c *profile.ColumnProfile, opts Options) (ColumnSummary, error) {
	cs := ColumnSummary{
		Column:       c.Name(),
		TotalCount:   c.TotalCount(),
		NullCount:    c.NullCount(),
		ErrorCount:   c.ErrorCount(),
		InferredType: c.Schema().DominantKind().String(),
	}

	if counts := c.Schema().TypeCounts(); len(counts) > 0 {
		cs.TypeCounts = make(map[string]uint64, len(counts))
		for k, n := range counts {
			cs.TypeCounts[k.String()] = n
		}
	}

	if nums := c.Numbers(); nums.Count() > 0 {
		vals, err := c.Quantiles().Quantiles(opts.Quantiles)
		if err != nil {
			// The quantile sketch saw every value the number tracker saw,
			// so only an invalid rank can fail here.
			return ColumnSummary{}, err
		}
		qs := make([]QuantileValue, len(vals))
		for i, v := range vals {
			qs[i] = QuantileValue{Q: opts.Quantiles[i], Value: v}
		}
		cs.Numbers = &NumberSummary{
			Count:     nums.Count(),
			Mean:      nums.Mean(),
			Stddev:    nums.Stddev(),
			Min:       nums.Min(),
			Max:       nums.Max(),
			Quantiles: qs,
		}
	}

	if lens := c.StringLengths(); lens.Count() > 0 {
		cs.Strings = &StringSummary{
			Count:     lens.Count(),
			MeanLen:   lens.Mean(),
			StddevLen: lens.Stddev(),
			MinLen:    lens.Min(),
			MaxLen:    lens.Max(),
		}
	}

	card := c.Cardinality()
	cs.Unique = UniqueSummary{
		Estimate: card.Estimate(),
		Lower:    card.LowerBound(uniqueSigmas),
		Upper:    card.UpperBound(uniqueSigmas),
	}

	items := c.Frequent().FrequentItems(0)
	if len(items) > opts.TopK {
		items = items[:opts.TopK]
	}
	for _, it := range items {
		cs.Frequent = append(cs.Frequent, FrequentItem{
			Item:     it.Item,
			Estimate: it.Estimate,
			Lower:    it.Lower,
			Upper:    it.Upper,
		})
	}

	return cs, nil
}

// WriteJSON renders s as indented JSON followed by a newline.
func WriteJSON(w io.Writer, s DatasetSummary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
