package sketch

// Kind classifies a tracked value into one of the coarse type buckets a
// profile distinguishes.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNull
	KindBoolean
	KindIntegral
	KindFractional
	KindString

	numKinds = 6
)

var kindNames = [numKinds]string{
	"unknown", "null", "boolean", "integral", "fractional", "string",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// defaultKindPrecedence breaks DominantKind ties: numeric kinds win over
// boolean, boolean over string, string over null, anything over unknown.
var defaultKindPrecedence = []Kind{
	KindFractional, KindIntegral, KindBoolean, KindString, KindNull, KindUnknown,
}

// SchemaTracker keeps exact per-kind counters for a column.
//
// Invariant: Total() equals the number of Observe calls, so for a column it
// equals the number of non-null values presented (nulls are counted by the
// profile, not the schema tracker).
type SchemaTracker struct {
	counts [numKinds]uint64

	// Precedence orders kinds for DominantKind tie-breaking. Kinds missing
	// from the slice lose against every listed kind. Replace it to change
	// inference behavior; leave it alone for the default
	// fractional > integral > boolean > string > null > unknown.
	Precedence []Kind
}

// NewSchemaTracker returns an empty tracker with the default tie-break
// precedence. The precedence slice is a copy; mutating it affects only this
// tracker.
func NewSchemaTracker() *SchemaTracker {
	return &SchemaTracker{Precedence: append([]Kind(nil), defaultKindPrecedence...)}
}

// Observe counts one value of the given kind. Out-of-range kinds count as
// unknown.
func (s *SchemaTracker) Observe(k Kind) {
	if int(k) >= numKinds {
		k = KindUnknown
	}
	s.counts[k]++
}

// Count returns the counter for one kind.
func (s *SchemaTracker) Count(k Kind) uint64 {
	if int(k) >= numKinds {
		return 0
	}
	return s.counts[k]
}

// Total returns the sum of all kind counters.
func (s *SchemaTracker) Total() uint64 {
	var n uint64
	for _, c := range s.counts {
		n += c
	}
	return n
}

// TypeCounts returns the non-zero counters keyed by kind.
func (s *SchemaTracker) TypeCounts() map[Kind]uint64 {
	out := make(map[Kind]uint64)
	for k, c := range s.counts {
		if c > 0 {
			out[Kind(k)] = c
		}
	}
	return out
}

// DominantKind returns the kind with the highest count.
//
// Edge cases:
//   - empty tracker: returns KindUnknown.
//   - ties: resolved by Precedence order; a kind not listed there loses.
func (s *SchemaTracker) DominantKind() Kind {
	best := KindUnknown
	var bestCount uint64
	for _, k := range s.precedence() {
		if c := s.Count(k); c > bestCount {
			best = k
			bestCount = c
		}
	}
	if bestCount == 0 {
		return KindUnknown
	}
	return best
}

func (s *SchemaTracker) precedence() []Kind {
	if len(s.Precedence) > 0 {
		return s.Precedence
	}
	return defaultKindPrecedence
}

// Merge adds other's counters into s. Schema merges cannot fail: every
// tracker counts the same fixed kind set.
func (s *SchemaTracker) Merge(other *SchemaTracker) {
	if other == nil {
		return
	}
	for k := range s.counts {
		s.counts[k] += other.counts[k]
	}
}

// Clone returns an independent copy of s.
func (s *SchemaTracker) Clone() *SchemaTracker {
	c := &SchemaTracker{counts: s.counts}
	if s.Precedence != nil {
		c.Precedence = append([]Kind(nil), s.Precedence...)
	}
	return c
}
