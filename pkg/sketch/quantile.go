package sketch

import (
	"fmt"
	"math"
	"sort"
)

const (
	// DefaultQuantileK gives roughly 1.65% normalized rank error.
	DefaultQuantileK = 200

	// MinQuantileK is the smallest accepted accuracy parameter and also the
	// floor on per-level buffer capacity.
	MinQuantileK = 8

	// levelCapacityRatio is the geometric decay of level capacities below
	// the top level.
	levelCapacityRatio = 2.0 / 3.0
)

// QuantileSketch estimates the rank/quantile relationship of a float64
// stream with bounded memory, in the KLL compactor family.
//
// Layout: items live in levels, where an item at level h represents 2^h
// stream values. Level 0 is an unsorted append buffer; higher levels stay
// sorted. When the sketch outgrows its capacity, the lowest over-full level
// is compacted: its items are sorted and every other one (odd or even
// offset, chosen by a fair coin) is promoted one level up, halving the item
// count while preserving total weight. The coin makes the rank error
// unbiased; Epsilon reports its expected magnitude.
//
// Exact min/max are tracked on the side so the extreme quantiles never
// suffer compaction error.
type QuantileSketch struct {
	k      uint16
	n      uint64
	min    float64
	max    float64
	levels [][]float64

	// Bits supplies the compaction coin. The constructor installs a fast
	// seeded source; tests replace it with NewSeededBitSource for
	// reproducible compaction.
	Bits BitSource
}

// NewQuantileSketch returns an empty sketch with the default accuracy
// parameter.
func NewQuantileSketch() *QuantileSketch {
	s, _ := NewQuantileSketchK(DefaultQuantileK)
	return s
}

// NewQuantileSketchK returns an empty sketch with accuracy parameter k.
// Larger k means lower rank error and more memory; see Epsilon.
//
// Errors:
//   - k below MinQuantileK.
func NewQuantileSketchK(k uint16) (*QuantileSketch, error) {
	if k < MinQuantileK {
		return nil, fmt.Errorf("quantile sketch: k=%d below minimum %d", k, MinQuantileK)
	}
	return &QuantileSketch{
		k:      k,
		min:    math.Inf(1),
		max:    math.Inf(-1),
		levels: [][]float64{nil},
		Bits:   NewBitSource(),
	}, nil
}

// K returns the accuracy parameter.
func (s *QuantileSketch) K() uint16 { return s.k }

// N returns the total number of values observed (not the number retained).
func (s *QuantileSketch) N() uint64 { return s.n }

// Epsilon returns the expected normalized rank error for this k: a quantile
// answer's true rank lies within Epsilon()*N of the requested rank with
// high (roughly 99%) confidence. The constant is the standard fit for this
// compactor family.
func (s *QuantileSketch) Epsilon() float64 {
	return 2.446 / math.Pow(float64(s.k), 0.9433)
}

// Update folds one value into the sketch.
//
// Edge cases:
//   - NaN is ignored; the profile layer classifies NaN as null before it
//     reaches any sketch, and a NaN here would poison sorting.
func (s *QuantileSketch) Update(x float64) {
	if math.IsNaN(x) {
		return
	}
	if x < s.min {
		s.min = x
	}
	if x > s.max {
		s.max = x
	}
	s.levels[0] = append(s.levels[0], x)
	s.n++
	if s.retained() > s.capacity() {
		s.compress()
	}
}

// retained returns the number of items currently held across all levels.
func (s *QuantileSketch) retained() int {
	total := 0
	for _, lv := range s.levels {
		total += len(lv)
	}
	return total
}

// capacity returns the retained-item budget for the current level count.
func (s *QuantileSketch) capacity() int {
	total := 0
	for h := range s.levels {
		total += s.levelCapacity(h)
	}
	return total
}

// levelCapacity returns the budget of level h given the current number of
// levels: k at the top, decaying by levelCapacityRatio per level below it,
// floored at MinQuantileK.
func (s *QuantileSketch) levelCapacity(h int) int {
	depth := len(s.levels) - 1 - h
	c := float64(s.k) * math.Pow(levelCapacityRatio, float64(depth))
	if c <= MinQuantileK {
		return MinQuantileK
	}
	return int(math.Ceil(c))
}

// compress compacts the lowest over-full level until the sketch fits its
// budget again. If every level were within budget the total would be too,
// so progress is guaranteed.
func (s *QuantileSketch) compress() {
	for s.retained() > s.capacity() {
		h := 0
		for ; h < len(s.levels); h++ {
			if len(s.levels[h]) > s.levelCapacity(h) {
				break
			}
		}
		if h == len(s.levels) {
			return
		}
		s.compactLevel(h)
	}
}

// compactLevel halves level h, promoting the surviving items into level h+1.
//
// The buffer is sorted (level 0 is the only unsorted one), an odd trailing
// item stays behind at level h, and of the remaining pairs either the odd or
// the even offsets survive, decided by one coin flip. Total weight is
// preserved: 2m items of weight 2^h leave, m items of weight 2^(h+1) arrive.
func (s *QuantileSketch) compactLevel(h int) {
	buf := s.levels[h]
	if h == 0 {
		sort.Float64s(buf)
	}

	m := len(buf) / 2
	even := buf[:2*m]

	offset := 0
	if s.bits().Bit() {
		offset = 1
	}
	promoted := make([]float64, 0, m)
	for i := offset; i < len(even); i += 2 {
		promoted = append(promoted, even[i])
	}

	var leftover []float64
	if len(buf) > 2*m {
		leftover = []float64{buf[len(buf)-1]}
	}
	s.levels[h] = leftover

	if h+1 == len(s.levels) {
		s.levels = append(s.levels, nil)
	}
	s.levels[h+1] = mergeSorted(s.levels[h+1], promoted)
}

func (s *QuantileSketch) bits() BitSource {
	if s.Bits == nil {
		s.Bits = NewBitSource()
	}
	return s.Bits
}

// mergeSorted merges two ascending slices into a fresh ascending slice.
func mergeSorted(a, b []float64) []float64 {
	if len(a) == 0 {
		return append([]float64(nil), b...)
	}
	if len(b) == 0 {
		return a
	}
	out := make([]float64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// weightedValue pairs a retained item with the stream weight it represents.
type weightedValue struct {
	value  float64
	weight uint64
}

// sortedView flattens all levels into one ascending weighted sequence.
func (s *QuantileSketch) sortedView() []weightedValue {
	view := make([]weightedValue, 0, s.retained())
	for h, lv := range s.levels {
		w := uint64(1) << uint(h)
		for _, v := range lv {
			view = append(view, weightedValue{value: v, weight: w})
		}
	}
	sort.Slice(view, func(i, j int) bool { return view[i].value < view[j].value })
	return view
}

// Quantile returns an estimate of the value at rank q in [0, 1].
//
// The answer is a value actually observed by the sketch whose true rank is
// within Epsilon()*N of q*N. q=0 and q=1 return the exact min and max.
//
// Errors:
//   - ErrEmptySketch when no values have been observed.
//   - q outside [0, 1].
func (s *QuantileSketch) Quantile(q float64) (float64, error) {
	vals, err := s.Quantiles([]float64{q})
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// Quantiles answers a batch of rank queries against one sorted view.
// The input ranks need not be sorted; results align with the input.
func (s *QuantileSketch) Quantiles(qs []float64) ([]float64, error) {
	if s.n == 0 {
		return nil, fmt.Errorf("quantile: %w", ErrEmptySketch)
	}
	for _, q := range qs {
		if math.IsNaN(q) || q < 0 || q > 1 {
			return nil, fmt.Errorf("quantile: rank %v outside [0, 1]", q)
		}
	}

	view := s.sortedView()
	out := make([]float64, len(qs))
	for i, q := range qs {
		out[i] = s.quantileFromView(view, q)
	}
	return out, nil
}

func (s *QuantileSketch) quantileFromView(view []weightedValue, q float64) float64 {
	switch q {
	case 0:
		return s.min
	case 1:
		return s.max
	}
	target := uint64(math.Ceil(q * float64(s.n)))
	if target == 0 {
		target = 1
	}
	var cum uint64
	for _, wv := range view {
		cum += wv.weight
		if cum >= target {
			return wv.value
		}
	}
	return s.max
}

// Rank returns the estimated fraction of observed values that are <= x
// (inclusive convention).
//
// Errors:
//   - ErrEmptySketch when no values have been observed.
func (s *QuantileSketch) Rank(x float64) (float64, error) {
	if s.n == 0 {
		return 0, fmt.Errorf("rank: %w", ErrEmptySketch)
	}
	var cum uint64
	for h, lv := range s.levels {
		w := uint64(1) << uint(h)
		for _, v := range lv {
			if v <= x {
				cum += w
			}
		}
	}
	return float64(cum) / float64(s.n), nil
}

// Merge folds other into s, leaving other untouched. Level buffers are
// concatenated level-wise and then compacted back under budget, so the
// result is a valid sketch over both streams.
//
// Errors:
//   - ErrIncompatibleSketch when the accuracy parameters differ.
func (s *QuantileSketch) Merge(other *QuantileSketch) error {
	if other == nil || other.n == 0 {
		return nil
	}
	if other.k != s.k {
		return fmt.Errorf("quantile merge: k=%d vs k=%d: %w", s.k, other.k, ErrIncompatibleSketch)
	}

	for h, lv := range other.levels {
		if len(lv) == 0 {
			continue
		}
		for len(s.levels) <= h {
			s.levels = append(s.levels, nil)
		}
		if h == 0 {
			s.levels[0] = append(s.levels[0], lv...)
		} else {
			s.levels[h] = mergeSorted(s.levels[h], append([]float64(nil), lv...))
		}
	}
	s.n += other.n
	if other.min < s.min {
		s.min = other.min
	}
	if other.max > s.max {
		s.max = other.max
	}
	s.compress()
	return nil
}

// Clone returns an independent copy of s. The copy shares the BitSource
// reference; replace Bits on the copy for independent coin streams.
func (s *QuantileSketch) Clone() *QuantileSketch {
	c := &QuantileSketch{
		k:      s.k,
		n:      s.n,
		min:    s.min,
		max:    s.max,
		levels: make([][]float64, len(s.levels)),
		Bits:   s.Bits,
	}
	for h, lv := range s.levels {
		if lv != nil {
			c.levels[h] = append([]float64(nil), lv...)
		}
	}
	return c
}
