package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// StreamCSV reads a delimited file with a header row and emits one record
// per data row. Cell text is coerced (see coerceCell), so "" arrives as nil
// and numeric text as numbers.
//
// Rows whose field count does not match the header are reported through
// onErr with their 1-based line number and skipped; csv-level parse errors
// are handled the same way. The stream stops early when emit returns an
// error or ctx is cancelled.
func StreamCSV(ctx context.Context, r io.Reader, opts Options, emit RowFunc, onErr func(line int, err error)) error {
	src, err := DecodeReader(r, opts.Encoding)
	if err != nil {
		return err
	}

	cr := csv.NewReader(src)
	cr.Comma = opts.delimiter()
	cr.ReuseRecord = true
	cr.LazyQuotes = true
	// Width is validated by hand below so a ragged row is a skip, not a
	// stream abort.
	cr.FieldsPerRecord = -1

	var line int
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	hdr, err := readRec()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("csv: read header: %w", err)
	}
	columns := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		columns[i] = headerName(h, i, opts)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}
		if len(rec) != len(columns) {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv row has %d fields, header has %d", len(rec), len(columns)))
			}
			continue
		}

		row := make(Record, len(columns))
		for i, col := range columns {
			row[col] = coerceCell(rec[i])
		}
		if err := emit(row); err != nil {
			return err
		}
	}
}
