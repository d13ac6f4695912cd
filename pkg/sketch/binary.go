package sketch

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Sketch wire blocks. Every sketch encodes its state as a fixed,
// little-endian block with no magic of its own; the enclosing profile
// envelope carries versioning. AppendBinary never fails; the Decode
// functions validate strictly and return the unread remainder so blocks can
// be chained.
//
// Block layouts (all little-endian):
//
//	NumberTracker:       u64 count, f64 mean, f64 m2, f64 min, f64 max
//	SchemaTracker:       u8 kinds (must be 6), kinds x u64 counts
//	QuantileSketch:      u16 k, u64 n, f64 min, f64 max, u8 levels,
//	                     per level: u32 len, len x f64 (level order bottom-up)
//	CardinalitySketch:   u8 precision, 2^precision register bytes
//	FrequentItemsSketch: u32 capacity, u64 errorBound, u32 items,
//	                     per item: u32 len, bytes, u64 count (ascending item)

// cursor is a sticky-error reader over a byte slice; the first failure
// poisons every later read so decode paths stay linear.
type cursor struct {
	data []byte
	err  error
}

func (c *cursor) fail(format string, args ...any) {
	if c.err == nil {
		c.err = fmt.Errorf(format, args...)
	}
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || len(c.data) < n {
		c.fail("short buffer: need %d bytes, have %d", n, len(c.data))
		return nil
	}
	b := c.data[:n]
	c.data = c.data[n:]
	return b
}

func (c *cursor) u8() uint8 {
	b := c.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (c *cursor) u16() uint16 {
	b := c.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (c *cursor) u32() uint32 {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (c *cursor) u64() uint64 {
	b := c.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (c *cursor) f64() float64 {
	return math.Float64frombits(c.u64())
}

func appendU16(dst []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(dst, v)
}

func appendU32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

func appendU64(dst []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, v)
}

func appendF64(dst []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
}

// ---- NumberTracker ----

// AppendBinary appends the tracker block to dst and returns the extended
// slice.
func (t *NumberTracker) AppendBinary(dst []byte) []byte {
	dst = appendU64(dst, t.count)
	dst = appendF64(dst, t.mean)
	dst = appendF64(dst, t.m2)
	dst = appendF64(dst, t.min)
	return appendF64(dst, t.max)
}

// DecodeNumberTracker reads one tracker block from data and returns the
// tracker and the unread remainder.
func DecodeNumberTracker(data []byte) (*NumberTracker, []byte, error) {
	c := cursor{data: data}
	t := &NumberTracker{
		count: c.u64(),
		mean:  c.f64(),
		m2:    c.f64(),
		min:   c.f64(),
		max:   c.f64(),
	}
	if c.err != nil {
		return nil, nil, fmt.Errorf("number tracker: %w", c.err)
	}
	return t, c.data, nil
}

// ---- SchemaTracker ----

// AppendBinary appends the schema counter block to dst.
func (s *SchemaTracker) AppendBinary(dst []byte) []byte {
	dst = append(dst, numKinds)
	for _, n := range s.counts {
		dst = appendU64(dst, n)
	}
	return dst
}

// DecodeSchemaTracker reads one schema counter block. The kind count is
// pinned to the current enum; a different count means a foreign or corrupt
// block.
func DecodeSchemaTracker(data []byte) (*SchemaTracker, []byte, error) {
	c := cursor{data: data}
	if kinds := c.u8(); c.err == nil && kinds != numKinds {
		return nil, nil, fmt.Errorf("schema tracker: kind count %d, want %d", kinds, numKinds)
	}
	s := NewSchemaTracker()
	for k := range s.counts {
		s.counts[k] = c.u64()
	}
	if c.err != nil {
		return nil, nil, fmt.Errorf("schema tracker: %w", c.err)
	}
	return s, c.data, nil
}

// ---- QuantileSketch ----

// AppendBinary appends the sketch block to dst. Level buffers are written
// as stored, so the encoding round-trips the retained items exactly.
func (s *QuantileSketch) AppendBinary(dst []byte) []byte {
	dst = appendU16(dst, s.k)
	dst = appendU64(dst, s.n)
	dst = appendF64(dst, s.min)
	dst = appendF64(dst, s.max)
	dst = append(dst, uint8(len(s.levels)))
	for _, lv := range s.levels {
		dst = appendU32(dst, uint32(len(lv)))
		for _, v := range lv {
			dst = appendF64(dst, v)
		}
	}
	return dst
}

// DecodeQuantileSketch reads one sketch block, validating the accuracy
// parameter, the level structure, and the weight invariant (level sizes
// must sum, weighted, to n).
func DecodeQuantileSketch(data []byte) (*QuantileSketch, []byte, error) {
	c := cursor{data: data}
	k := c.u16()
	n := c.u64()
	min := c.f64()
	max := c.f64()
	numLevels := int(c.u8())
	if c.err != nil {
		return nil, nil, fmt.Errorf("quantile sketch: %w", c.err)
	}
	if numLevels < 1 || numLevels > 64 {
		return nil, nil, fmt.Errorf("quantile sketch: level count %d outside [1, 64]", numLevels)
	}

	s, err := NewQuantileSketchK(k)
	if err != nil {
		return nil, nil, err
	}
	s.n = n
	s.min = min
	s.max = max
	s.levels = make([][]float64, numLevels)

	var weight uint64
	for h := 0; h < numLevels; h++ {
		length := int(c.u32())
		if c.err == nil && length > len(c.data)/8 {
			return nil, nil, fmt.Errorf("quantile sketch: level %d length %d exceeds payload", h, length)
		}
		// Empty levels stay nil, matching live sketch state.
		if length > 0 {
			lv := make([]float64, length)
			for i := range lv {
				lv[i] = c.f64()
			}
			s.levels[h] = lv
		}
		weight += uint64(length) << uint(h)
	}
	if c.err != nil {
		return nil, nil, fmt.Errorf("quantile sketch: %w", c.err)
	}
	if weight != n {
		return nil, nil, fmt.Errorf("quantile sketch: retained weight %d does not match n=%d", weight, n)
	}
	return s, c.data, nil
}

// ---- CardinalitySketch ----

// AppendBinary appends the register block to dst.
func (s *CardinalitySketch) AppendBinary(dst []byte) []byte {
	dst = append(dst, s.precision)
	return append(dst, s.registers...)
}

// DecodeCardinalitySketch reads one register block.
func DecodeCardinalitySketch(data []byte) (*CardinalitySketch, []byte, error) {
	c := cursor{data: data}
	p := c.u8()
	if c.err != nil {
		return nil, nil, fmt.Errorf("cardinality sketch: %w", c.err)
	}
	s, err := NewCardinalitySketchPrecision(p)
	if err != nil {
		return nil, nil, err
	}
	regs := c.take(1 << p)
	if c.err != nil {
		return nil, nil, fmt.Errorf("cardinality sketch: %w", c.err)
	}
	copy(s.registers, regs)
	return s, c.data, nil
}

// ---- FrequentItemsSketch ----

// AppendBinary appends the item block to dst in ascending item order, so
// equal sketches always encode to equal bytes.
func (s *FrequentItemsSketch) AppendBinary(dst []byte) []byte {
	dst = appendU32(dst, uint32(s.capacity))
	dst = appendU64(dst, s.errorBound)
	dst = appendU32(dst, uint32(len(s.counts)))
	for _, item := range s.sortedItems() {
		dst = appendU32(dst, uint32(len(item)))
		dst = append(dst, item...)
		dst = appendU64(dst, s.counts[item])
	}
	return dst
}

// DecodeFrequentItemsSketch reads one item block, validating capacity and
// that the item count fits it.
func DecodeFrequentItemsSketch(data []byte) (*FrequentItemsSketch, []byte, error) {
	c := cursor{data: data}
	capacity := int(c.u32())
	errorBound := c.u64()
	items := int(c.u32())
	if c.err != nil {
		return nil, nil, fmt.Errorf("frequent items sketch: %w", c.err)
	}
	s, err := NewFrequentItemsSketchCapacity(capacity)
	if err != nil {
		return nil, nil, err
	}
	if items > capacity {
		return nil, nil, fmt.Errorf("frequent items sketch: %d items exceed capacity %d", items, capacity)
	}
	s.errorBound = errorBound
	for i := 0; i < items; i++ {
		length := int(c.u32())
		item := c.take(length)
		count := c.u64()
		if c.err != nil {
			return nil, nil, fmt.Errorf("frequent items sketch: item %d: %w", i, c.err)
		}
		s.counts[string(item)] = count
	}
	return s, c.data, nil
}
