// Package ingest streams tabular sources (CSV, JSON, HTML tables) as
// generic records for profiling. Sources are read row by row; malformed
// rows are reported through an error callback and skipped, so one bad line
// never aborts a profiling run.
package ingest

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Record is one source row keyed by column name.
type Record = map[string]any

// RowFunc consumes one record. Returning a non-nil error stops the stream;
// the error is returned to the caller unchanged.
type RowFunc func(Record) error

// Options control how a source is read. The zero value is usable.
type Options struct {
	// Delimiter is the CSV field separator. Zero means comma.
	Delimiter rune

	// Encoding names the source character set. Empty or "utf-8" passes
	// bytes through; see DecodeReader for the supported set.
	Encoding string

	// NormalizeHeaders rewrites column names with NormalizeColumnName.
	NormalizeHeaders bool

	// ArrayJoinSeparator joins JSON string arrays into one scalar. Empty
	// means comma.
	ArrayJoinSeparator string

	// TableSelector picks the HTML table to read. Empty means "table".
	TableSelector string
}

func (o Options) delimiter() rune {
	if o.Delimiter == 0 {
		return ','
	}
	return o.Delimiter
}

func (o Options) joinSeparator() string {
	if sep := strings.TrimSpace(o.ArrayJoinSeparator); sep != "" {
		return sep
	}
	return ","
}

func (o Options) tableSelector() string {
	if sel := strings.TrimSpace(o.TableSelector); sel != "" {
		return sel
	}
	return "table"
}

// DecodeReader wraps r so its bytes come out UTF-8.
//
// Supported encodings: "" and "utf-8" (pass-through), "latin1" /
// "iso-8859-1", "windows-1252", "utf-16le", "utf-16be". Names are
// case-insensitive.
//
// Errors:
//   - an unknown encoding name, listing the supported set.
func DecodeReader(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return r, nil
	case "latin1", "iso-8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(r, charmap.Windows1252.NewDecoder()), nil
	case "utf-16le":
		return transform.NewReader(r, unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()), nil
	case "utf-16be":
		return transform.NewReader(r, unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()), nil
	default:
		return nil, fmt.Errorf("ingest: unsupported encoding %q (supported: utf-8, latin1, iso-8859-1, windows-1252, utf-16le, utf-16be)", encoding)
	}
}

// NormalizeColumnName converts an arbitrary header cell into a safe
// lowercase identifier: separators collapse to single underscores, other
// non-alphanumerics are dropped, a leading digit gets a "c_" prefix, and
// the result is truncated to 63 bytes on a rune boundary.
//
// Edge cases:
//   - a header that normalizes to nothing returns "".
func NormalizeColumnName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))

	lastUnderscore := false
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t' || r == '-' || r == '.' || r == '/' || r == '\\' || r == ':' || r == ';':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			// Drop everything else.
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return ""
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "c_" + out
	}
	return truncateColumnName(out)
}

func truncateColumnName(s string) string {
	const maxLen = 63
	if len(s) <= maxLen {
		return s
	}
	b := []byte(s)
	cut := maxLen
	for cut > 0 && !utf8.Valid(b[:cut]) {
		cut--
	}
	if cut <= 0 {
		return s[:maxLen]
	}
	return string(b[:cut])
}

// headerName normalizes a header cell per opts, falling back to a
// positional name when the cell is empty or normalizes away.
func headerName(cell string, index int, opts Options) string {
	name := strings.TrimSpace(cell)
	if opts.NormalizeHeaders {
		name = NormalizeColumnName(name)
	}
	if name == "" {
		name = "column_" + strconv.Itoa(index+1)
	}
	return name
}

// coerceCell turns a text cell into the value the profile should see:
// empty means missing, then int64, then float64, then bool, then the
// trimmed string itself.
//
// Edge cases:
//   - "NaN" parses as a float and classifies as null downstream.
//   - bool matching is case-insensitive but strict ("true"/"false" only),
//     so "1" and "0" stay numeric.
func coerceCell(cell string) any {
	s := strings.TrimSpace(cell)
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
