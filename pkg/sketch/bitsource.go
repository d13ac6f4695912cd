package sketch

import "math/rand/v2"

// BitSource supplies fair coin flips for compaction decisions.
//
// The quantile sketch consumes one bit per compaction. The bit must be
// unbiased and independent across calls, or the rank-error guarantees
// degrade. Implementations do not need to be safe for concurrent use; the
// sketches in this package are single-writer.
type BitSource interface {
	// Bit returns the next coin flip.
	Bit() bool
}

// randBitSource draws 64 bits at a time from a PCG generator and hands them
// out one by one.
type randBitSource struct {
	rng  *rand.Rand
	bits uint64
	n    int
}

// NewBitSource returns the production bit source: a fast PCG generator
// seeded from the process-global random state.
func NewBitSource() BitSource {
	return &randBitSource{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededBitSource returns a deterministic bit source for tests.
//
// Two sources built from the same seed yield the same flip sequence, which
// makes compaction (and therefore quantile results) reproducible.
func NewSeededBitSource(seed uint64) BitSource {
	// Second stream constant is the splitmix64 increment; it only needs to
	// differ per seed word.
	return &randBitSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *randBitSource) Bit() bool {
	if s.n == 0 {
		s.bits = s.rng.Uint64()
		s.n = 64
	}
	b := s.bits&1 == 1
	s.bits >>= 1
	s.n--
	return b
}
