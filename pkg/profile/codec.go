package profile

import (
	"bufio"
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"dataprof/pkg/sketch"
)

// Magic opens every serialized profile envelope.
const Magic = "DPRF"

const (
	envelopeVersion = 1

	flagDataTimestamp = 1 << 0

	// maxEnvelopeSize caps one delimited frame. A longer length prefix is
	// treated as corruption rather than an allocation request.
	maxEnvelopeSize = 1 << 30
)

// Envelope v1, all integers little-endian:
//
//	magic "DPRF" | u16 version | u16 flags
//	name, session id (u32-length strings)
//	u64 session timestamp (unix ms)
//	u64 data timestamp (unix ms), only when flag bit 0 is set
//	u64 row count
//	tags, metadata: u32 count, then sorted key/value string pairs
//	u32 column count, then columns sorted by name:
//	  name | u16 quantile k | u8 hll precision | u32 frequent capacity
//	  u64 total | u64 nulls | u64 value errors
//	  schema, numbers, string lengths, quantiles, hll, frequent blocks
//	  (each in its sketch encoding)
//
// Maps are written in sorted key order, so the same profile always encodes
// to the same bytes. Timestamps carry millisecond precision.

var (
	_ encoding.BinaryMarshaler   = (*DatasetProfile)(nil)
	_ encoding.BinaryUnmarshaler = (*DatasetProfile)(nil)
)

// MarshalBinary serializes p into a v1 envelope. Serializing the same
// profile twice yields identical bytes.
func (p *DatasetProfile) MarshalBinary() ([]byte, error) {
	dst := make([]byte, 0, 512)
	dst = append(dst, Magic...)
	dst = appendU16(dst, envelopeVersion)

	var flags uint16
	if !p.dataTimestamp.IsZero() {
		flags |= flagDataTimestamp
	}
	dst = appendU16(dst, flags)

	dst = appendString(dst, p.name)
	dst = appendString(dst, p.sessionID)
	dst = appendU64(dst, uint64(p.sessionTimestamp.UnixMilli()))
	if flags&flagDataTimestamp != 0 {
		dst = appendU64(dst, uint64(p.dataTimestamp.UnixMilli()))
	}
	dst = appendU64(dst, p.rows)

	dst = appendStringMap(dst, p.tags)
	dst = appendStringMap(dst, p.metadata)

	names := p.ColumnNames()
	dst = appendU32(dst, uint32(len(names)))
	for _, name := range names {
		dst = p.columns[name].appendBinary(dst)
	}
	return dst, nil
}

// UnmarshalBinary decodes a v1 envelope into p, replacing its state. A
// failed decode leaves p untouched.
//
// Errors:
//   - ErrCorruptData on bad magic, truncation, inconsistent lengths, or
//     trailing bytes.
//   - ErrUnsupportedVersion on a version above this build's.
func (p *DatasetProfile) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*p = *decoded
	return nil
}

// Decode parses a v1 envelope into a fresh profile. See UnmarshalBinary for
// the error contract.
func Decode(data []byte) (*DatasetProfile, error) {
	r := &reader{data: data}
	if magic := r.take(len(Magic)); r.err != nil || string(magic) != Magic {
		return nil, corrupt(errors.New("bad magic"))
	}
	version := r.u16()
	if r.err != nil {
		return nil, corrupt(r.err)
	}
	if version == 0 {
		return nil, corrupt(fmt.Errorf("version %d", version))
	}
	if version > envelopeVersion {
		return nil, fmt.Errorf("profile decode: version %d, this build reads up to %d: %w",
			version, envelopeVersion, ErrUnsupportedVersion)
	}
	flags := r.u16()

	p := &DatasetProfile{
		name:      r.str(),
		sessionID: r.str(),
		columns:   make(map[string]*ColumnProfile),
	}
	p.sessionTimestamp = time.UnixMilli(int64(r.u64())).UTC()
	if flags&flagDataTimestamp != 0 {
		p.dataTimestamp = time.UnixMilli(int64(r.u64())).UTC()
	}
	p.rows = r.u64()

	p.tags = r.stringMap()
	p.metadata = r.stringMap()

	columnCount := int(r.u32())
	if r.err != nil {
		return nil, corrupt(r.err)
	}
	prev := ""
	for i := 0; i < columnCount; i++ {
		col, err := decodeColumn(r)
		if err != nil {
			return nil, corrupt(err)
		}
		if i > 0 && col.name <= prev {
			return nil, corrupt(fmt.Errorf("column %q out of order", col.name))
		}
		prev = col.name
		p.columns[col.name] = col
		p.columnCfg = col.cfg
	}
	if r.err != nil {
		return nil, corrupt(r.err)
	}
	if len(r.data) != 0 {
		return nil, corrupt(fmt.Errorf("%d trailing bytes", len(r.data)))
	}
	return p, nil
}

func (c *ColumnProfile) appendBinary(dst []byte) []byte {
	dst = appendString(dst, c.name)
	dst = appendU16(dst, c.cfg.QuantileK)
	dst = append(dst, c.cfg.HLLPrecision)
	dst = appendU32(dst, uint32(c.cfg.FrequentCapacity))
	dst = appendU64(dst, c.total)
	dst = appendU64(dst, c.nulls)
	dst = appendU64(dst, c.valueErrs)
	dst = c.schema.AppendBinary(dst)
	dst = c.numbers.AppendBinary(dst)
	dst = c.strLengths.AppendBinary(dst)
	dst = c.quantiles.AppendBinary(dst)
	dst = c.unique.AppendBinary(dst)
	return c.frequent.AppendBinary(dst)
}

func decodeColumn(r *reader) (*ColumnProfile, error) {
	c := &ColumnProfile{name: r.str()}
	c.cfg = ColumnConfig{
		QuantileK:        r.u16(),
		HLLPrecision:     r.u8(),
		FrequentCapacity: int(r.u32()),
	}
	c.total = r.u64()
	c.nulls = r.u64()
	c.valueErrs = r.u64()
	if r.err != nil {
		return nil, r.err
	}

	var err error
	if c.schema, r.data, err = sketch.DecodeSchemaTracker(r.data); err != nil {
		return nil, fmt.Errorf("column %q: %w", c.name, err)
	}
	if c.numbers, r.data, err = sketch.DecodeNumberTracker(r.data); err != nil {
		return nil, fmt.Errorf("column %q: %w", c.name, err)
	}
	if c.strLengths, r.data, err = sketch.DecodeNumberTracker(r.data); err != nil {
		return nil, fmt.Errorf("column %q: %w", c.name, err)
	}
	if c.quantiles, r.data, err = sketch.DecodeQuantileSketch(r.data); err != nil {
		return nil, fmt.Errorf("column %q: %w", c.name, err)
	}
	if c.unique, r.data, err = sketch.DecodeCardinalitySketch(r.data); err != nil {
		return nil, fmt.Errorf("column %q: %w", c.name, err)
	}
	if c.frequent, r.data, err = sketch.DecodeFrequentItemsSketch(r.data); err != nil {
		return nil, fmt.Errorf("column %q: %w", c.name, err)
	}

	// The sketch blocks repeat their parameters; they must agree with the
	// recorded config.
	if c.quantiles.K() != c.cfg.QuantileK ||
		c.unique.Precision() != c.cfg.HLLPrecision ||
		c.frequent.Capacity() != c.cfg.FrequentCapacity {
		return nil, fmt.Errorf("column %q: sketch blocks disagree with recorded config", c.name)
	}
	return c, nil
}

// WriteDelimited writes p as a uvarint length prefix followed by the
// envelope, the framing used to append many profiles to one stream.
func WriteDelimited(w io.Writer, p *DatasetProfile) error {
	buf, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	var prefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(len(buf)))
	if _, err := w.Write(prefix[:n]); err != nil {
		return fmt.Errorf("write profile frame: %w", err)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write profile frame: %w", err)
	}
	return nil
}

// ReadDelimited reads the next length-delimited profile from r.
//
// Errors:
//   - io.EOF at a clean stream end (zero bytes before the next frame).
//   - ErrCorruptData on a truncated frame or oversized length prefix.
func ReadDelimited(r *bufio.Reader) (*DatasetProfile, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, corrupt(fmt.Errorf("frame length: %w", err))
	}
	if size > maxEnvelopeSize {
		return nil, corrupt(fmt.Errorf("frame length %d exceeds %d", size, maxEnvelopeSize))
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, corrupt(fmt.Errorf("frame body: %w", err))
	}
	return Decode(buf)
}

func corrupt(err error) error {
	return fmt.Errorf("profile decode: %v: %w", err, ErrCorruptData)
}

// ---- envelope primitives ----

// reader walks envelope bytes with a sticky error, same contract as the
// sketch block decoder: after the first failure every read returns zeros
// and the error survives for the caller to check once.
type reader struct {
	data []byte
	err  error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf(format, args...)
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.data) {
		r.fail("need %d bytes, have %d", n, len(r.data))
		return nil
	}
	out := r.data[:n]
	r.data = r.data[n:]
	return out
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if r.err != nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) str() string {
	n := int(r.u32())
	return string(r.take(n))
}

// stringMap reads a sorted key/value list. Order is enforced so that
// re-encoding a decoded profile reproduces the original bytes.
func (r *reader) stringMap() map[string]string {
	n := int(r.u32())
	if r.err != nil || n == 0 {
		return nil
	}
	hint := n
	if hint > 1024 {
		hint = 1024
	}
	m := make(map[string]string, hint)
	prev := ""
	for i := 0; i < n; i++ {
		k := r.str()
		v := r.str()
		if r.err != nil {
			return nil
		}
		if i > 0 && k <= prev {
			r.fail("map key %q out of order", k)
			return nil
		}
		prev = k
		m[k] = v
	}
	return m
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

func appendString(dst []byte, s string) []byte {
	dst = appendU32(dst, uint32(len(s)))
	return append(dst, s...)
}

func appendStringMap(dst []byte, m map[string]string) []byte {
	dst = appendU32(dst, uint32(len(m)))
	for _, k := range sortedKeys(m) {
		dst = appendString(dst, k)
		dst = appendString(dst, m[k])
	}
	return dst
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
