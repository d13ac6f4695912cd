package sketch

import (
	"reflect"
	"testing"
)

// observeAll returns a tracker fed with all kinds in order.
func observeAll(kinds []Kind) *SchemaTracker {
	s := NewSchemaTracker()
	for _, k := range kinds {
		s.Observe(k)
	}
	return s
}

// TestSchemaTrackerCounts verifies per-kind counters and the total
// invariant (total equals the number of observations).
func TestSchemaTrackerCounts(t *testing.T) {
	s := observeAll([]Kind{
		KindIntegral, KindIntegral, KindString, KindBoolean, KindFractional,
		KindNull, KindUnknown, KindIntegral,
	})

	wants := map[Kind]uint64{
		KindIntegral:   3,
		KindString:     1,
		KindBoolean:    1,
		KindFractional: 1,
		KindNull:       1,
		KindUnknown:    1,
	}
	for k, want := range wants {
		if got := s.Count(k); got != want {
			t.Fatalf("Count(%s)=%d, want %d", k, got, want)
		}
	}
	if got := s.Total(); got != 8 {
		t.Fatalf("Total()=%d, want 8", got)
	}
	if got := s.TypeCounts(); !reflect.DeepEqual(got, wants) {
		t.Fatalf("TypeCounts()=%v, want %v", got, wants)
	}
}

// TestSchemaTrackerDominantKind verifies majority picks and tie-breaking.
//
// Edge cases:
//   - empty tracker returns KindUnknown.
//   - ties resolve by precedence (numeric beats boolean beats string).
func TestSchemaTrackerDominantKind(t *testing.T) {
	tests := []struct {
		name  string
		kinds []Kind
		want  Kind
	}{
		{name: "empty", kinds: nil, want: KindUnknown},
		{name: "clear_majority", kinds: []Kind{KindString, KindString, KindIntegral}, want: KindString},
		{
			name:  "integral_string_tie_prefers_integral",
			kinds: []Kind{KindIntegral, KindString},
			want:  KindIntegral,
		},
		{
			name:  "fractional_integral_tie_prefers_fractional",
			kinds: []Kind{KindIntegral, KindFractional},
			want:  KindFractional,
		},
		{
			name:  "boolean_string_tie_prefers_boolean",
			kinds: []Kind{KindString, KindBoolean},
			want:  KindBoolean,
		},
		{
			name:  "null_only",
			kinds: []Kind{KindNull, KindNull},
			want:  KindNull,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := observeAll(tc.kinds).DominantKind(); got != tc.want {
				t.Fatalf("DominantKind()=%s, want %s", got, tc.want)
			}
		})
	}
}

// TestSchemaTrackerPrecedenceOverride verifies a caller-supplied precedence
// changes tie-breaking.
func TestSchemaTrackerPrecedenceOverride(t *testing.T) {
	s := observeAll([]Kind{KindIntegral, KindString})
	s.Precedence = []Kind{KindString, KindIntegral, KindBoolean, KindFractional, KindNull, KindUnknown}

	if got := s.DominantKind(); got != KindString {
		t.Fatalf("DominantKind()=%s with string-first precedence, want string", got)
	}
}

// TestSchemaTrackerMerge verifies element-wise addition and that the
// argument is untouched.
func TestSchemaTrackerMerge(t *testing.T) {
	a := observeAll([]Kind{KindIntegral, KindString})
	b := observeAll([]Kind{KindIntegral, KindNull, KindNull})
	bTotal := b.Total()

	a.Merge(b)
	if got := a.Count(KindIntegral); got != 2 {
		t.Fatalf("Count(integral)=%d, want 2", got)
	}
	if got := a.Count(KindNull); got != 2 {
		t.Fatalf("Count(null)=%d, want 2", got)
	}
	if got := a.Total(); got != 5 {
		t.Fatalf("Total()=%d, want 5", got)
	}
	if b.Total() != bTotal {
		t.Fatalf("argument mutated: Total()=%d, want %d", b.Total(), bTotal)
	}

	a.Merge(nil) // no-op
	if got := a.Total(); got != 5 {
		t.Fatalf("Total() after nil merge=%d, want 5", got)
	}
}

// TestSchemaTrackerClone verifies clone independence, including the
// precedence slice.
func TestSchemaTrackerClone(t *testing.T) {
	orig := observeAll([]Kind{KindBoolean})
	cl := orig.Clone()
	cl.Observe(KindBoolean)
	cl.Precedence[0] = KindString

	if got := orig.Count(KindBoolean); got != 1 {
		t.Fatalf("original Count(boolean)=%d after clone update, want 1", got)
	}
	if orig.Precedence[0] != KindFractional {
		t.Fatalf("original precedence mutated through clone: %v", orig.Precedence[0])
	}
}

// TestKindString verifies the stable names used in summaries and logs.
func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindUnknown, "unknown"},
		{KindNull, "null"},
		{KindBoolean, "boolean"},
		{KindIntegral, "integral"},
		{KindFractional, "fractional"},
		{KindString, "string"},
		{Kind(200), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.kind.String(); got != tc.want {
			t.Fatalf("Kind(%d).String()=%q, want %q", tc.kind, got, tc.want)
		}
	}
}

// TestSchemaTrackerBinaryRoundTrip verifies counters survive encoding.
func TestSchemaTrackerBinaryRoundTrip(t *testing.T) {
	orig := observeAll([]Kind{KindIntegral, KindIntegral, KindString, KindNull})
	data := orig.AppendBinary(nil)

	got, rest, err := DecodeSchemaTracker(data)
	if err != nil {
		t.Fatalf("DecodeSchemaTracker: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("rest has %d bytes, want 0", len(rest))
	}
	if got.counts != orig.counts {
		t.Fatalf("round trip counts=%v, want %v", got.counts, orig.counts)
	}
}
