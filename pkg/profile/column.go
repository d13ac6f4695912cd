package profile

import (
	"fmt"
	"unicode/utf8"

	"dataprof/pkg/sketch"
)

// ColumnConfig sets the accuracy/space trade-off for every sketch inside a
// column profile. Zero fields take the package defaults; two profiles merge
// only when their configs are identical.
type ColumnConfig struct {
	// QuantileK is the KLL level capacity. Larger is more accurate.
	QuantileK uint16

	// HLLPrecision is the HyperLogLog register-index width in bits.
	HLLPrecision uint8

	// FrequentCapacity bounds the tracked heavy-hitter set.
	FrequentCapacity int
}

func (c ColumnConfig) withDefaults() ColumnConfig {
	if c.QuantileK == 0 {
		c.QuantileK = sketch.DefaultQuantileK
	}
	if c.HLLPrecision == 0 {
		c.HLLPrecision = sketch.DefaultCardinalityPrecision
	}
	if c.FrequentCapacity == 0 {
		c.FrequentCapacity = sketch.DefaultFrequentCapacity
	}
	return c
}

// ColumnProfile accumulates the full statistical picture of one column:
// exact counters, a type histogram, moment statistics, a quantile sketch, a
// distinct-count sketch, and a heavy-hitter sketch. It is not safe for
// concurrent use; profile per goroutine and Merge.
type ColumnProfile struct {
	name string
	cfg  ColumnConfig

	total     uint64 // non-null values presented
	nulls     uint64
	valueErrs uint64

	schema     *sketch.SchemaTracker
	numbers    *sketch.NumberTracker
	strLengths *sketch.NumberTracker
	quantiles  *sketch.QuantileSketch
	unique     *sketch.CardinalitySketch
	frequent   *sketch.FrequentItemsSketch

	scratch []byte
}

// NewColumn returns an empty profile for the named column. Zero cfg fields
// take defaults.
//
// Errors:
//   - cfg fields outside the ranges the sketch constructors accept.
func NewColumn(name string, cfg ColumnConfig) (*ColumnProfile, error) {
	cfg = cfg.withDefaults()

	quantiles, err := sketch.NewQuantileSketchK(cfg.QuantileK)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", name, err)
	}
	unique, err := sketch.NewCardinalitySketchPrecision(cfg.HLLPrecision)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", name, err)
	}
	frequent, err := sketch.NewFrequentItemsSketchCapacity(cfg.FrequentCapacity)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", name, err)
	}

	return &ColumnProfile{
		name:       name,
		cfg:        cfg,
		schema:     sketch.NewSchemaTracker(),
		numbers:    sketch.NewNumberTracker(),
		strLengths: sketch.NewNumberTracker(),
		quantiles:  quantiles,
		unique:     unique,
		frequent:   frequent,
	}, nil
}

// Track folds one value into the profile.
//
// Routing:
//   - Null (nil, NaN) bumps the null counter and touches nothing else.
//   - Every non-null value counts toward the total and the type histogram.
//   - Classifiable values feed cardinality and frequent items through their
//     canonical bytes; Integral/Fractional additionally feed the number and
//     quantile sketches; String feeds the length tracker with its rune count.
//
// Errors:
//   - an error wrapping ErrValueType for unclassifiable Go types. The value
//     is still counted (total, Unknown kind, error counter), so callers may
//     ignore the error and keep streaming.
func (c *ColumnProfile) Track(v any) error {
	kind, norm := Classify(v)
	if kind == sketch.KindNull {
		c.nulls++
		return nil
	}

	c.total++
	c.schema.Observe(kind)

	if kind == sketch.KindUnknown {
		c.valueErrs++
		return fmt.Errorf("column %q: cannot profile %T value: %w", c.name, v, ErrValueType)
	}

	c.scratch = appendCanonical(c.scratch[:0], kind, norm)
	c.unique.Update(c.scratch)
	c.frequent.Update(string(c.scratch))

	switch kind {
	case sketch.KindIntegral:
		f := float64(norm.(int64))
		c.numbers.Track(f)
		c.quantiles.Update(f)
	case sketch.KindFractional:
		f := norm.(float64)
		c.numbers.Track(f)
		c.quantiles.Update(f)
	case sketch.KindString:
		c.strLengths.Track(float64(utf8.RuneCountInString(norm.(string))))
	}
	return nil
}

// compatibleWith reports whether other can merge into c. It never mutates
// either profile.
func (c *ColumnProfile) compatibleWith(other *ColumnProfile) error {
	if other.name != c.name {
		return fmt.Errorf("column %q vs %q: %w", c.name, other.name, ErrSchemaMismatch)
	}
	if other.cfg != c.cfg {
		return fmt.Errorf("column %q: config %+v vs %+v: %w: %w",
			c.name, c.cfg, other.cfg, ErrSchemaMismatch, sketch.ErrIncompatibleSketch)
	}
	return nil
}

// Merge folds other into c and returns c. Compatibility (same name, same
// config) is validated before anything is touched, so a failed merge leaves
// c exactly as it was. other is never mutated.
//
// Errors:
//   - an error wrapping ErrSchemaMismatch on name or config mismatch.
func (c *ColumnProfile) Merge(other *ColumnProfile) (*ColumnProfile, error) {
	if other == nil {
		return c, nil
	}
	if err := c.compatibleWith(other); err != nil {
		return c, err
	}

	c.total += other.total
	c.nulls += other.nulls
	c.valueErrs += other.valueErrs
	c.schema.Merge(other.schema)
	c.numbers.Merge(other.numbers)
	c.strLengths.Merge(other.strLengths)

	// The config check above makes these merges infallible.
	if err := c.quantiles.Merge(other.quantiles); err != nil {
		return c, fmt.Errorf("column %q: %w", c.name, err)
	}
	if err := c.unique.Merge(other.unique); err != nil {
		return c, fmt.Errorf("column %q: %w", c.name, err)
	}
	if err := c.frequent.Merge(other.frequent); err != nil {
		return c, fmt.Errorf("column %q: %w", c.name, err)
	}
	return c, nil
}

// Clone returns a deep copy sharing no sketch state with c.
func (c *ColumnProfile) Clone() *ColumnProfile {
	return &ColumnProfile{
		name:       c.name,
		cfg:        c.cfg,
		total:      c.total,
		nulls:      c.nulls,
		valueErrs:  c.valueErrs,
		schema:     c.schema.Clone(),
		numbers:    c.numbers.Clone(),
		strLengths: c.strLengths.Clone(),
		quantiles:  c.quantiles.Clone(),
		unique:     c.unique.Clone(),
		frequent:   c.frequent.Clone(),
	}
}

// Name returns the column name.
func (c *ColumnProfile) Name() string { return c.name }

// Config returns the sketch configuration the column was built with.
func (c *ColumnProfile) Config() ColumnConfig { return c.cfg }

// TotalCount returns the number of non-null values presented, including
// unclassifiable ones.
func (c *ColumnProfile) TotalCount() uint64 { return c.total }

// NullCount returns the number of null values presented.
func (c *ColumnProfile) NullCount() uint64 { return c.nulls }

// ErrorCount returns the number of unclassifiable values presented.
func (c *ColumnProfile) ErrorCount() uint64 { return c.valueErrs }

// Schema returns the per-kind counters.
func (c *ColumnProfile) Schema() *sketch.SchemaTracker { return c.schema }

// Numbers returns the moment statistics over numeric values.
func (c *ColumnProfile) Numbers() *sketch.NumberTracker { return c.numbers }

// StringLengths returns the moment statistics over string rune lengths.
func (c *ColumnProfile) StringLengths() *sketch.NumberTracker { return c.strLengths }

// Quantiles returns the quantile sketch over numeric values.
func (c *ColumnProfile) Quantiles() *sketch.QuantileSketch { return c.quantiles }

// Cardinality returns the distinct-value sketch.
func (c *ColumnProfile) Cardinality() *sketch.CardinalitySketch { return c.unique }

// Frequent returns the heavy-hitter sketch.
func (c *ColumnProfile) Frequent() *sketch.FrequentItemsSketch { return c.frequent }
