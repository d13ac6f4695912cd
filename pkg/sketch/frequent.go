package sketch

import (
	"fmt"
	"sort"
)

const (
	// DefaultFrequentCapacity bounds the tracked item set of a column.
	DefaultFrequentCapacity = 128

	// MinFrequentCapacity and MaxFrequentCapacity bound the accepted
	// capacity range. The ceiling keeps decoded blocks from demanding
	// absurd allocations.
	MinFrequentCapacity = 1
	MaxFrequentCapacity = 1 << 20
)

// FrequentItem is one entry of a FrequentItems answer, annotated with the
// error interval implied by the sketch-wide bound: Lower <= true count <=
// Upper, including across merges.
type FrequentItem struct {
	Item     string
	Estimate uint64
	Lower    uint64
	Upper    uint64
}

// FrequentItemsSketch tracks up to a fixed number of heavy hitters with the
// space-saving policy: once full, the minimum-count item is evicted and the
// newcomer inherits its count, while a sketch-wide error bound remembers how
// much any estimate may be off by.
//
// Eviction ties are broken by the smallest item string so results do not
// depend on map iteration order; merges and serialized output stay
// deterministic.
type FrequentItemsSketch struct {
	capacity   int
	counts     map[string]uint64
	errorBound uint64
}

// NewFrequentItemsSketch returns an empty sketch with the default capacity.
func NewFrequentItemsSketch() *FrequentItemsSketch {
	s, _ := NewFrequentItemsSketchCapacity(DefaultFrequentCapacity)
	return s
}

// NewFrequentItemsSketchCapacity returns an empty sketch tracking at most
// capacity items.
//
// Errors:
//   - capacity outside [MinFrequentCapacity, MaxFrequentCapacity].
func NewFrequentItemsSketchCapacity(capacity int) (*FrequentItemsSketch, error) {
	if capacity < MinFrequentCapacity || capacity > MaxFrequentCapacity {
		return nil, fmt.Errorf("frequent items sketch: capacity %d outside [%d, %d]",
			capacity, MinFrequentCapacity, MaxFrequentCapacity)
	}
	hint := capacity
	if hint > 1024 {
		hint = 1024
	}
	return &FrequentItemsSketch{
		capacity: capacity,
		counts:   make(map[string]uint64, hint),
	}, nil
}

// Capacity returns the configured maximum tracked-item count.
func (s *FrequentItemsSketch) Capacity() int { return s.capacity }

// ItemCount returns the number of currently tracked items.
func (s *FrequentItemsSketch) ItemCount() int { return len(s.counts) }

// ErrorBound returns the sketch-wide count slack: any estimate may over- or
// under-state the true count by at most this much, and an untracked item
// occurred at most this many times.
func (s *FrequentItemsSketch) ErrorBound() uint64 { return s.errorBound }

// Update counts one occurrence of item.
func (s *FrequentItemsSketch) Update(item string) {
	s.UpdateWeighted(item, 1)
}

// UpdateWeighted counts weight occurrences of item.
//
// Edge cases:
//   - weight 0 is a no-op.
//   - at capacity, the minimum-count item is evicted; item enters at
//     evictedCount+weight and the error bound rises to evictedCount.
func (s *FrequentItemsSketch) UpdateWeighted(item string, weight uint64) {
	if weight == 0 {
		return
	}
	if _, ok := s.counts[item]; ok {
		s.counts[item] += weight
		return
	}
	if len(s.counts) < s.capacity {
		s.counts[item] = weight
		return
	}

	evicted, evictedCount := s.evictMin()
	delete(s.counts, evicted)
	s.counts[item] = evictedCount + weight
	if evictedCount > s.errorBound {
		s.errorBound = evictedCount
	}
}

// evictMin finds the minimum-count item, breaking count ties by smallest
// item string.
func (s *FrequentItemsSketch) evictMin() (string, uint64) {
	var minItem string
	var minCount uint64
	first := true
	for item, c := range s.counts {
		if first || c < minCount || (c == minCount && item < minItem) {
			minItem, minCount = item, c
			first = false
		}
	}
	return minItem, minCount
}

// Estimate returns the tracked count for item, or 0 when item is not
// tracked. An untracked item may still have occurred up to ErrorBound()
// times.
func (s *FrequentItemsSketch) Estimate(item string) uint64 {
	return s.counts[item]
}

// FrequentItems returns every tracked item whose estimate exceeds
// threshold, most frequent first (ties by ascending item string).
func (s *FrequentItemsSketch) FrequentItems(threshold uint64) []FrequentItem {
	out := make([]FrequentItem, 0, len(s.counts))
	for item, c := range s.counts {
		if c <= threshold {
			continue
		}
		lower := uint64(0)
		if c > s.errorBound {
			lower = c - s.errorBound
		}
		out = append(out, FrequentItem{
			Item:     item,
			Estimate: c,
			Lower:    lower,
			Upper:    c + s.errorBound,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Estimate != out[j].Estimate {
			return out[i].Estimate > out[j].Estimate
		}
		return out[i].Item < out[j].Item
	})
	return out
}

// Merge folds other into s, leaving other untouched: counts add for shared
// items, the rest are unioned, and the error bounds add. If the union
// exceeds capacity, minimum items are evicted (same deterministic rule as
// Update) and the bound additionally rises to the largest evicted count.
//
// Merges are commutative; they are associative as long as the running union
// stays within capacity, and the reported bounds stay sound either way.
//
// Errors:
//   - ErrIncompatibleSketch when the capacities differ.
func (s *FrequentItemsSketch) Merge(other *FrequentItemsSketch) error {
	if other == nil {
		return nil
	}
	if other.capacity != s.capacity {
		return fmt.Errorf("frequent items merge: capacity %d vs %d: %w",
			s.capacity, other.capacity, ErrIncompatibleSketch)
	}

	for item, c := range other.counts {
		s.counts[item] += c
	}
	s.errorBound += other.errorBound

	for len(s.counts) > s.capacity {
		item, c := s.evictMin()
		delete(s.counts, item)
		if c > s.errorBound {
			s.errorBound = c
		}
	}
	return nil
}

// Clone returns an independent copy of s.
func (s *FrequentItemsSketch) Clone() *FrequentItemsSketch {
	c := &FrequentItemsSketch{
		capacity:   s.capacity,
		counts:     make(map[string]uint64, len(s.counts)),
		errorBound: s.errorBound,
	}
	for item, n := range s.counts {
		c.counts[item] = n
	}
	return c
}

// sortedItems returns tracked items in ascending order; serialization uses
// it to keep output bytes deterministic.
func (s *FrequentItemsSketch) sortedItems() []string {
	items := make([]string, 0, len(s.counts))
	for item := range s.counts {
		items = append(items, item)
	}
	sort.Strings(items)
	return items
}
