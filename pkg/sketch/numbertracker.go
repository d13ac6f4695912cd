// Package sketch implements the mergeable summaries behind column profiling:
//
//   - NumberTracker: exact streaming mean/variance/min/max
//   - QuantileSketch: approximate quantiles with bounded rank error
//   - CardinalitySketch: HyperLogLog distinct-value estimation
//   - FrequentItemsSketch: space-saving heavy hitters
//   - SchemaTracker: exact per-kind value counts
//
// All sketches share the same contract: single-writer updates, deep Clone,
// and a Merge that turns two sketches built with identical configuration
// into one equivalent to having observed both streams. Merge is commutative
// and associative (floating-point results within rounding tolerance) and
// never mutates its argument.
package sketch

import "math"

// NumberTracker maintains exact streaming statistics over float64 values
// using Welford's online algorithm: count, mean, the centered second moment
// m2, and exact min/max.
//
// Memory is constant. The tracker is not safe for concurrent writers.
type NumberTracker struct {
	count uint64
	mean  float64
	m2    float64
	min   float64
	max   float64
}

// NewNumberTracker returns an empty tracker. Min and Max start at the
// +Inf/-Inf identities so the first tracked value always replaces them.
func NewNumberTracker() *NumberTracker {
	return &NumberTracker{min: math.Inf(1), max: math.Inf(-1)}
}

// Track folds one value into the running statistics.
func (t *NumberTracker) Track(x float64) {
	t.count++
	delta := x - t.mean
	t.mean += delta / float64(t.count)
	t.m2 += delta * (x - t.mean)
	if x < t.min {
		t.min = x
	}
	if x > t.max {
		t.max = x
	}
}

// Count returns the number of tracked values.
func (t *NumberTracker) Count() uint64 { return t.count }

// Mean returns the running mean, or 0 for an empty tracker.
func (t *NumberTracker) Mean() float64 {
	if t.count == 0 {
		return 0
	}
	return t.mean
}

// Variance returns the sample variance (n-1 denominator).
//
// Edge cases:
//   - 0 or 1 values: returns 0 (the variance of a single value is 0).
func (t *NumberTracker) Variance() float64 {
	if t.count < 2 {
		return 0
	}
	return t.m2 / float64(t.count-1)
}

// Stddev returns the sample standard deviation.
func (t *NumberTracker) Stddev() float64 {
	return math.Sqrt(t.Variance())
}

// Min returns the smallest tracked value, or +Inf for an empty tracker.
func (t *NumberTracker) Min() float64 { return t.min }

// Max returns the largest tracked value, or -Inf for an empty tracker.
func (t *NumberTracker) Max() float64 { return t.max }

// Merge folds other into t using the parallel variance combination, leaving
// other untouched. The result is identical (within floating-point rounding)
// to having tracked both streams into one tracker.
//
// Edge cases:
//   - merging an empty tracker (either side, or both) is valid.
func (t *NumberTracker) Merge(other *NumberTracker) {
	if other == nil || other.count == 0 {
		return
	}
	if t.count == 0 {
		*t = *other
		return
	}

	n := t.count + other.count
	delta := other.mean - t.mean
	na := float64(t.count)
	nb := float64(other.count)
	nf := float64(n)

	t.mean += delta * (nb / nf)
	t.m2 += other.m2 + delta*delta*(na*nb/nf)
	t.count = n
	if other.min < t.min {
		t.min = other.min
	}
	if other.max > t.max {
		t.max = other.max
	}
}

// Clone returns an independent copy of t.
func (t *NumberTracker) Clone() *NumberTracker {
	c := *t
	return &c
}
