package profile

import (
	"errors"
	"math"
	"testing"

	"dataprof/pkg/sketch"
)

// mustColumn builds a column profile or fails the test.
func mustColumn(t *testing.T, name string, cfg ColumnConfig) *ColumnProfile {
	t.Helper()
	c, err := NewColumn(name, cfg)
	if err != nil {
		t.Fatalf("NewColumn(%q, %+v) err=%v, want nil", name, cfg, err)
	}
	return c
}

// TestNewColumnDefaults verifies zero config fields take the package
// defaults.
func TestNewColumnDefaults(t *testing.T) {
	c := mustColumn(t, "amount", ColumnConfig{})

	wantCfg := ColumnConfig{
		QuantileK:        sketch.DefaultQuantileK,
		HLLPrecision:     sketch.DefaultCardinalityPrecision,
		FrequentCapacity: sketch.DefaultFrequentCapacity,
	}
	if got := c.Config(); got != wantCfg {
		t.Fatalf("Config()=%+v, want %+v", got, wantCfg)
	}
	if got := c.Quantiles().K(); got != sketch.DefaultQuantileK {
		t.Fatalf("Quantiles().K()=%d, want %d", got, sketch.DefaultQuantileK)
	}
	if got := c.Cardinality().Precision(); got != uint8(sketch.DefaultCardinalityPrecision) {
		t.Fatalf("Cardinality().Precision()=%d, want %d", got, sketch.DefaultCardinalityPrecision)
	}
	if got := c.Frequent().Capacity(); got != sketch.DefaultFrequentCapacity {
		t.Fatalf("Frequent().Capacity()=%d, want %d", got, sketch.DefaultFrequentCapacity)
	}
}

// TestNewColumnInvalidConfig verifies out-of-range knobs are rejected.
func TestNewColumnInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  ColumnConfig
	}{
		{name: "quantile_k_too_small", cfg: ColumnConfig{QuantileK: sketch.MinQuantileK - 1}},
		{name: "hll_precision_too_small", cfg: ColumnConfig{HLLPrecision: sketch.MinCardinalityPrecision - 1}},
		{name: "hll_precision_too_large", cfg: ColumnConfig{HLLPrecision: sketch.MaxCardinalityPrecision + 1}},
		{name: "frequent_capacity_negative", cfg: ColumnConfig{FrequentCapacity: -1}},
		{name: "frequent_capacity_too_large", cfg: ColumnConfig{FrequentCapacity: sketch.MaxFrequentCapacity + 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewColumn("c", tc.cfg); err == nil {
				t.Fatalf("NewColumn err=nil, want error for cfg %+v", tc.cfg)
			}
		})
	}
}

// TestColumnTrackRouting verifies each kind touches exactly the trackers it
// should.
//
// Edge cases:
//   - nil and NaN bump only the null counter.
//   - booleans feed no numeric tracker.
//   - strings feed the length tracker with rune counts, not byte counts.
func TestColumnTrackRouting(t *testing.T) {
	t.Run("null", func(t *testing.T) {
		c := mustColumn(t, "c", ColumnConfig{})
		for _, v := range []any{nil, math.NaN(), float32(math.NaN())} {
			if err := c.Track(v); err != nil {
				t.Fatalf("Track(%v) err=%v, want nil", v, err)
			}
		}
		if got := c.NullCount(); got != 3 {
			t.Fatalf("NullCount()=%d, want 3", got)
		}
		if got := c.TotalCount(); got != 0 {
			t.Fatalf("TotalCount()=%d, want 0", got)
		}
		if got := c.Schema().Total(); got != 0 {
			t.Fatalf("Schema().Total()=%d, want 0", got)
		}
		if got := c.Cardinality().Estimate(); got != 0 {
			t.Fatalf("Cardinality().Estimate()=%v, want 0", got)
		}
	})

	t.Run("integral", func(t *testing.T) {
		c := mustColumn(t, "c", ColumnConfig{})
		if err := c.Track(42); err != nil {
			t.Fatalf("Track(42) err=%v, want nil", err)
		}
		if got := c.TotalCount(); got != 1 {
			t.Fatalf("TotalCount()=%d, want 1", got)
		}
		if got := c.Schema().Count(sketch.KindIntegral); got != 1 {
			t.Fatalf("schema integral count=%d, want 1", got)
		}
		if got := c.Numbers().Count(); got != 1 {
			t.Fatalf("Numbers().Count()=%d, want 1", got)
		}
		if got := c.Numbers().Mean(); got != 42 {
			t.Fatalf("Numbers().Mean()=%v, want 42", got)
		}
		if got := c.Quantiles().N(); got != 1 {
			t.Fatalf("Quantiles().N()=%d, want 1", got)
		}
		if got := c.Frequent().Estimate("42"); got != 1 {
			t.Fatalf("Frequent().Estimate(42)=%d, want 1", got)
		}
		if got := c.StringLengths().Count(); got != 0 {
			t.Fatalf("StringLengths().Count()=%d, want 0", got)
		}
	})

	t.Run("fractional", func(t *testing.T) {
		c := mustColumn(t, "c", ColumnConfig{})
		if err := c.Track(1.5); err != nil {
			t.Fatalf("Track(1.5) err=%v, want nil", err)
		}
		if got := c.Numbers().Count(); got != 1 {
			t.Fatalf("Numbers().Count()=%d, want 1", got)
		}
		if got := c.Quantiles().N(); got != 1 {
			t.Fatalf("Quantiles().N()=%d, want 1", got)
		}
		if got := c.Frequent().Estimate("1.5"); got != 1 {
			t.Fatalf("Frequent().Estimate(1.5)=%d, want 1", got)
		}
	})

	t.Run("string", func(t *testing.T) {
		c := mustColumn(t, "c", ColumnConfig{})
		if err := c.Track("héllo"); err != nil {
			t.Fatalf("Track err=%v, want nil", err)
		}
		if got := c.StringLengths().Count(); got != 1 {
			t.Fatalf("StringLengths().Count()=%d, want 1", got)
		}
		if got := c.StringLengths().Mean(); got != 5 {
			t.Fatalf("StringLengths().Mean()=%v, want 5 runes", got)
		}
		if got := c.Numbers().Count(); got != 0 {
			t.Fatalf("Numbers().Count()=%d, want 0", got)
		}
	})

	t.Run("boolean", func(t *testing.T) {
		c := mustColumn(t, "c", ColumnConfig{})
		if err := c.Track(true); err != nil {
			t.Fatalf("Track(true) err=%v, want nil", err)
		}
		if got := c.Schema().Count(sketch.KindBoolean); got != 1 {
			t.Fatalf("schema boolean count=%d, want 1", got)
		}
		if got := c.Numbers().Count(); got != 0 {
			t.Fatalf("Numbers().Count()=%d, want 0", got)
		}
		if got := c.StringLengths().Count(); got != 0 {
			t.Fatalf("StringLengths().Count()=%d, want 0", got)
		}
		if got := c.Frequent().Estimate("true"); got != 1 {
			t.Fatalf("Frequent().Estimate(true)=%d, want 1", got)
		}
	})
}

// TestColumnTrackUnknown verifies unclassifiable values count as errors but
// do not stop the stream.
func TestColumnTrackUnknown(t *testing.T) {
	c := mustColumn(t, "c", ColumnConfig{})

	err := c.Track(struct{ X int }{1})
	if !errors.Is(err, ErrValueType) {
		t.Fatalf("Track(struct) err=%v, want ErrValueType", err)
	}
	if got := c.TotalCount(); got != 1 {
		t.Fatalf("TotalCount()=%d, want 1", got)
	}
	if got := c.ErrorCount(); got != 1 {
		t.Fatalf("ErrorCount()=%d, want 1", got)
	}
	if got := c.Schema().Count(sketch.KindUnknown); got != 1 {
		t.Fatalf("schema unknown count=%d, want 1", got)
	}
	if got := c.Cardinality().Estimate(); got != 0 {
		t.Fatalf("Cardinality().Estimate()=%v, want 0 (unknowns feed no sketch)", got)
	}

	// The column keeps working afterwards.
	if err := c.Track(7); err != nil {
		t.Fatalf("Track(7) after unknown err=%v, want nil", err)
	}
	if got := c.TotalCount(); got != 2 {
		t.Fatalf("TotalCount()=%d, want 2", got)
	}
}

// TestColumnCanonicalCollision verifies 1 and 1.0 count as one distinct
// item, the documented cross-kind behavior.
func TestColumnCanonicalCollision(t *testing.T) {
	c := mustColumn(t, "c", ColumnConfig{})
	if err := c.Track(int64(1)); err != nil {
		t.Fatalf("Track(1) err=%v", err)
	}
	if err := c.Track(1.0); err != nil {
		t.Fatalf("Track(1.0) err=%v", err)
	}

	if got := c.Frequent().Estimate("1"); got != 2 {
		t.Fatalf("Frequent().Estimate(1)=%d, want 2", got)
	}
	if got := c.Cardinality().Estimate(); math.Abs(got-1) > 0.01 {
		t.Fatalf("Cardinality().Estimate()=%v, want 1", got)
	}
	// The schema still sees both kinds.
	if got := c.Schema().Count(sketch.KindIntegral); got != 1 {
		t.Fatalf("schema integral count=%d, want 1", got)
	}
	if got := c.Schema().Count(sketch.KindFractional); got != 1 {
		t.Fatalf("schema fractional count=%d, want 1", got)
	}
}

// TestColumnMerge verifies counters add and all trackers merge.
func TestColumnMerge(t *testing.T) {
	a := mustColumn(t, "c", ColumnConfig{})
	b := mustColumn(t, "c", ColumnConfig{})
	for i := 0; i < 50; i++ {
		if err := a.Track(i); err != nil {
			t.Fatalf("Track err=%v", err)
		}
	}
	for i := 50; i < 80; i++ {
		if err := b.Track(i); err != nil {
			t.Fatalf("Track err=%v", err)
		}
	}
	if err := b.Track(nil); err != nil {
		t.Fatalf("Track(nil) err=%v", err)
	}
	_ = b.Track(struct{}{})

	got, err := a.Merge(b)
	if err != nil {
		t.Fatalf("Merge err=%v, want nil", err)
	}
	if got != a {
		t.Fatalf("Merge returned %p, want receiver %p", got, a)
	}

	if n := a.TotalCount(); n != 81 {
		t.Fatalf("TotalCount()=%d, want 81", n)
	}
	if n := a.NullCount(); n != 1 {
		t.Fatalf("NullCount()=%d, want 1", n)
	}
	if n := a.ErrorCount(); n != 1 {
		t.Fatalf("ErrorCount()=%d, want 1", n)
	}
	if n := a.Numbers().Count(); n != 80 {
		t.Fatalf("Numbers().Count()=%d, want 80", n)
	}
	if n := a.Quantiles().N(); n != 80 {
		t.Fatalf("Quantiles().N()=%d, want 80", n)
	}
	if n := a.Schema().Count(sketch.KindIntegral); n != 80 {
		t.Fatalf("schema integral count=%d, want 80", n)
	}

	// The argument is untouched.
	if n := b.TotalCount(); n != 31 {
		t.Fatalf("merge mutated argument: TotalCount()=%d, want 31", n)
	}
}

// TestColumnMergeMismatch verifies failed merges leave the receiver
// untouched.
//
// Errors:
//   - name mismatch wraps ErrSchemaMismatch.
//   - config mismatch wraps ErrSchemaMismatch and ErrIncompatibleSketch.
func TestColumnMergeMismatch(t *testing.T) {
	t.Run("name", func(t *testing.T) {
		a := mustColumn(t, "left", ColumnConfig{})
		b := mustColumn(t, "right", ColumnConfig{})
		if err := b.Track(1); err != nil {
			t.Fatalf("Track err=%v", err)
		}

		_, err := a.Merge(b)
		if !errors.Is(err, ErrSchemaMismatch) {
			t.Fatalf("Merge err=%v, want ErrSchemaMismatch", err)
		}
		if got := a.TotalCount(); got != 0 {
			t.Fatalf("failed merge mutated receiver: TotalCount()=%d, want 0", got)
		}
	})

	t.Run("config", func(t *testing.T) {
		a := mustColumn(t, "c", ColumnConfig{QuantileK: 64})
		b := mustColumn(t, "c", ColumnConfig{QuantileK: 128})
		if err := b.Track(1); err != nil {
			t.Fatalf("Track err=%v", err)
		}

		_, err := a.Merge(b)
		if !errors.Is(err, ErrSchemaMismatch) {
			t.Fatalf("Merge err=%v, want ErrSchemaMismatch", err)
		}
		if !errors.Is(err, sketch.ErrIncompatibleSketch) {
			t.Fatalf("Merge err=%v, want ErrIncompatibleSketch in chain", err)
		}
		if got := a.TotalCount(); got != 0 {
			t.Fatalf("failed merge mutated receiver: TotalCount()=%d, want 0", got)
		}
	})

	t.Run("nil", func(t *testing.T) {
		a := mustColumn(t, "c", ColumnConfig{})
		if _, err := a.Merge(nil); err != nil {
			t.Fatalf("Merge(nil) err=%v, want nil", err)
		}
	})
}

// TestColumnCloneIndependent verifies a clone shares no sketch state.
func TestColumnCloneIndependent(t *testing.T) {
	c := mustColumn(t, "c", ColumnConfig{})
	for i := 0; i < 10; i++ {
		if err := c.Track(i); err != nil {
			t.Fatalf("Track err=%v", err)
		}
	}

	cl := c.Clone()
	for i := 10; i < 20; i++ {
		if err := cl.Track(i); err != nil {
			t.Fatalf("Track err=%v", err)
		}
	}
	if err := cl.Track(nil); err != nil {
		t.Fatalf("Track(nil) err=%v", err)
	}

	if got := c.TotalCount(); got != 10 {
		t.Fatalf("source TotalCount()=%d after clone updates, want 10", got)
	}
	if got := c.NullCount(); got != 0 {
		t.Fatalf("source NullCount()=%d after clone updates, want 0", got)
	}
	if got := c.Quantiles().N(); got != 10 {
		t.Fatalf("source Quantiles().N()=%d after clone updates, want 10", got)
	}
	if got := cl.TotalCount(); got != 20 {
		t.Fatalf("clone TotalCount()=%d, want 20", got)
	}
}
