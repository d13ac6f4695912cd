package profile

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"math"
	"reflect"
	"testing"
	"time"
)

// buildFixtureProfile returns a profile with a fixed header and a little of
// every value kind, small enough that its sketches stay in exact mode.
func buildFixtureProfile(t *testing.T) *DatasetProfile {
	t.Helper()
	p := mustProfile(t, Config{
		Name:             "orders",
		SessionID:        "11111111-2222-3333-4444-555555555555",
		SessionTimestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		DataTimestamp:    time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
		Tags:             map[string]string{"env": "test", "region": "eu"},
		Metadata:         map[string]string{"host": "ci-1"},
		Column:           ColumnConfig{QuantileK: 32, HLLPrecision: 10, FrequentCapacity: 16},
	})
	rows := []map[string]any{
		{"amount": 12.5, "status": "ok", "retries": 0, "flagged": false},
		{"amount": 80.0, "status": "failed", "retries": 3, "flagged": true},
		{"amount": nil, "status": "ok", "retries": 1, "flagged": false},
	}
	trackRows(t, p, rows)
	return p
}

// marshal serializes p or fails the test.
func marshal(t *testing.T, p *DatasetProfile) []byte {
	t.Helper()
	buf, err := p.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary err=%v, want nil", err)
	}
	return buf
}

// TestCodecRoundTrip verifies a decoded profile carries the full state by
// checking fields and by re-encoding to identical bytes.
func TestCodecRoundTrip(t *testing.T) {
	p := buildFixtureProfile(t)
	buf := marshal(t, p)

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode err=%v, want nil", err)
	}

	if got.Name() != p.Name() || got.SessionID() != p.SessionID() {
		t.Fatalf("header %q/%q, want %q/%q", got.Name(), got.SessionID(), p.Name(), p.SessionID())
	}
	if !got.SessionTimestamp().Equal(p.SessionTimestamp()) {
		t.Fatalf("SessionTimestamp()=%v, want %v", got.SessionTimestamp(), p.SessionTimestamp())
	}
	if !got.DataTimestamp().Equal(p.DataTimestamp()) {
		t.Fatalf("DataTimestamp()=%v, want %v", got.DataTimestamp(), p.DataTimestamp())
	}
	if got.RowCount() != p.RowCount() {
		t.Fatalf("RowCount()=%d, want %d", got.RowCount(), p.RowCount())
	}
	if !reflect.DeepEqual(got.Tags(), p.Tags()) {
		t.Fatalf("Tags()=%v, want %v", got.Tags(), p.Tags())
	}
	if !reflect.DeepEqual(got.Metadata(), p.Metadata()) {
		t.Fatalf("Metadata()=%v, want %v", got.Metadata(), p.Metadata())
	}
	if !reflect.DeepEqual(got.ColumnNames(), p.ColumnNames()) {
		t.Fatalf("ColumnNames()=%v, want %v", got.ColumnNames(), p.ColumnNames())
	}

	for _, name := range p.ColumnNames() {
		want, have := p.Column(name), got.Column(name)
		if have.TotalCount() != want.TotalCount() || have.NullCount() != want.NullCount() {
			t.Fatalf("column %q counters %d/%d, want %d/%d",
				name, have.TotalCount(), have.NullCount(), want.TotalCount(), want.NullCount())
		}
		if have.Config() != want.Config() {
			t.Fatalf("column %q config %+v, want %+v", name, have.Config(), want.Config())
		}
		if have.Cardinality().Estimate() != want.Cardinality().Estimate() {
			t.Fatalf("column %q cardinality %v, want %v",
				name, have.Cardinality().Estimate(), want.Cardinality().Estimate())
		}
	}

	amount := got.Column("amount")
	med, err := amount.Quantiles().Quantile(0.5)
	if err != nil {
		t.Fatalf("decoded Quantile err=%v, want nil", err)
	}
	if math.Abs(med-12.5) > 1e-9 {
		t.Fatalf("decoded median=%v, want 12.5", med)
	}
	if got := got.Column("status").Frequent().Estimate("ok"); got != 2 {
		t.Fatalf("decoded Frequent().Estimate(ok)=%d, want 2", got)
	}

	// Full-fidelity check: the decoded profile re-encodes byte for byte.
	if again := marshal(t, got); !bytes.Equal(again, buf) {
		t.Fatalf("re-encoded bytes differ from original")
	}
}

// TestCodecDeterministic verifies the same logical content always encodes
// to the same bytes regardless of map insertion order.
func TestCodecDeterministic(t *testing.T) {
	build := func(tagOrder []string) *DatasetProfile {
		tags := make(map[string]string)
		for _, k := range tagOrder {
			tags[k] = "v-" + k
		}
		p := mustProfile(t, Config{
			Name:             "d",
			SessionID:        "fixed",
			SessionTimestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Tags:             tags,
			Column:           ColumnConfig{QuantileK: 32, HLLPrecision: 8, FrequentCapacity: 8},
		})
		trackRows(t, p, []map[string]any{
			{"a": 1, "b": "x"},
			{"a": 2, "b": "y"},
		})
		return p
	}

	first := marshal(t, build([]string{"env", "region", "team"}))
	second := marshal(t, build([]string{"team", "env", "region"}))
	if !bytes.Equal(first, second) {
		t.Fatalf("same content encoded to different bytes")
	}
	// And the same profile twice.
	p := build([]string{"env"})
	if !bytes.Equal(marshal(t, p), marshal(t, p)) {
		t.Fatalf("one profile encoded to different bytes on repeat")
	}
}

// TestUnmarshalBinaryAtomic verifies a failed decode leaves the receiver
// untouched while a successful one replaces it.
func TestUnmarshalBinaryAtomic(t *testing.T) {
	p := buildFixtureProfile(t)
	buf := marshal(t, p)

	var fresh DatasetProfile
	if err := fresh.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary err=%v, want nil", err)
	}
	if fresh.RowCount() != p.RowCount() {
		t.Fatalf("RowCount()=%d, want %d", fresh.RowCount(), p.RowCount())
	}

	before := marshal(t, &fresh)
	if err := fresh.UnmarshalBinary(buf[:len(buf)-3]); err == nil {
		t.Fatalf("UnmarshalBinary(truncated) err=nil, want error")
	}
	if after := marshal(t, &fresh); !bytes.Equal(before, after) {
		t.Fatalf("failed UnmarshalBinary mutated the receiver")
	}
}

// TestDecodeRejectsCorrupt verifies the strict error contract.
//
// Errors:
//   - bad magic, truncation anywhere, and trailing bytes wrap ErrCorruptData.
//   - a higher version wraps ErrUnsupportedVersion.
func TestDecodeRejectsCorrupt(t *testing.T) {
	p := buildFixtureProfile(t)
	buf := marshal(t, p)

	t.Run("bad_magic", func(t *testing.T) {
		bad := bytes.Clone(buf)
		bad[0] = 'X'
		if _, err := Decode(bad); !errors.Is(err, ErrCorruptData) {
			t.Fatalf("Decode err=%v, want ErrCorruptData", err)
		}
	})

	t.Run("future_version", func(t *testing.T) {
		bad := bytes.Clone(buf)
		bad[4] = envelopeVersion + 1
		bad[5] = 0
		if _, err := Decode(bad); !errors.Is(err, ErrUnsupportedVersion) {
			t.Fatalf("Decode err=%v, want ErrUnsupportedVersion", err)
		}
	})

	t.Run("version_zero", func(t *testing.T) {
		bad := bytes.Clone(buf)
		bad[4] = 0
		bad[5] = 0
		if _, err := Decode(bad); !errors.Is(err, ErrCorruptData) {
			t.Fatalf("Decode err=%v, want ErrCorruptData", err)
		}
	})

	t.Run("trailing_bytes", func(t *testing.T) {
		bad := append(bytes.Clone(buf), 0xAB)
		if _, err := Decode(bad); !errors.Is(err, ErrCorruptData) {
			t.Fatalf("Decode err=%v, want ErrCorruptData", err)
		}
	})

	t.Run("truncation_never_panics", func(t *testing.T) {
		for cut := 0; cut < len(buf); cut++ {
			got, err := Decode(buf[:cut])
			if err == nil {
				t.Fatalf("Decode(buf[:%d]) err=nil, want error", cut)
			}
			if got != nil {
				t.Fatalf("Decode(buf[:%d]) returned a partial profile", cut)
			}
		}
	})
}

// TestDelimitedRoundTrip verifies the length-prefixed stream framing.
//
// Edge cases:
//   - a clean end of stream returns io.EOF.
//   - envelope bytes survive framing exactly.
func TestDelimitedRoundTrip(t *testing.T) {
	profiles := []*DatasetProfile{
		buildFixtureProfile(t),
		NewDefault("empty"),
		buildFixtureProfile(t),
	}

	var stream bytes.Buffer
	for _, p := range profiles {
		if err := WriteDelimited(&stream, p); err != nil {
			t.Fatalf("WriteDelimited err=%v, want nil", err)
		}
	}

	r := bufio.NewReader(bytes.NewReader(stream.Bytes()))
	var got []*DatasetProfile
	for {
		p, err := ReadDelimited(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadDelimited err=%v, want nil", err)
		}
		got = append(got, p)
	}

	if len(got) != len(profiles) {
		t.Fatalf("read %d profiles, want %d", len(got), len(profiles))
	}
	for i := range got {
		want := marshal(t, profiles[i])
		have := marshal(t, got[i])
		if !bytes.Equal(have, want) {
			t.Fatalf("profile %d bytes changed across framing", i)
		}
	}
}

// TestReadDelimitedTruncated verifies frame-level corruption handling.
func TestReadDelimitedTruncated(t *testing.T) {
	var stream bytes.Buffer
	if err := WriteDelimited(&stream, buildFixtureProfile(t)); err != nil {
		t.Fatalf("WriteDelimited err=%v, want nil", err)
	}
	full := stream.Bytes()

	t.Run("empty_stream", func(t *testing.T) {
		_, err := ReadDelimited(bufio.NewReader(bytes.NewReader(nil)))
		if !errors.Is(err, io.EOF) {
			t.Fatalf("ReadDelimited err=%v, want io.EOF", err)
		}
	})

	t.Run("cut_mid_body", func(t *testing.T) {
		_, err := ReadDelimited(bufio.NewReader(bytes.NewReader(full[:len(full)/2])))
		if !errors.Is(err, ErrCorruptData) {
			t.Fatalf("ReadDelimited err=%v, want ErrCorruptData", err)
		}
	})

	t.Run("oversized_length", func(t *testing.T) {
		// A uvarint announcing more than the frame cap.
		huge := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x7F}
		_, err := ReadDelimited(bufio.NewReader(bytes.NewReader(huge)))
		if !errors.Is(err, ErrCorruptData) {
			t.Fatalf("ReadDelimited err=%v, want ErrCorruptData", err)
		}
	})
}
