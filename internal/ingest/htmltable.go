package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StreamHTMLTable reads the first table matched by opts.TableSelector and
// emits one record per data row.
//
// Headers come from thead th cells, falling back to the first row's th/td
// cells when the table has no thead. Cell text is trimmed and coerced like
// CSV cells. Ragged rows (including rows of nested tables) are reported
// through onErr with their 1-based data-row number and skipped.
//
// Errors:
//   - unparseable HTML.
//   - no table matching the selector, or a table without header cells.
func StreamHTMLTable(ctx context.Context, r io.Reader, opts Options, emit RowFunc, onErr func(line int, err error)) error {
	src, err := DecodeReader(r, opts.Encoding)
	if err != nil {
		return err
	}

	doc, err := goquery.NewDocumentFromReader(src)
	if err != nil {
		return fmt.Errorf("html: parse: %w", err)
	}

	selector := opts.tableSelector()
	table := doc.Find(selector).First()
	if table.Length() == 0 {
		return fmt.Errorf("html: no table matches selector %q", selector)
	}

	headerRow := table.Find("thead tr").First()
	headerInBody := headerRow.Length() == 0
	if headerInBody {
		headerRow = table.Find("tr").First()
	}

	var columns []string
	headerRow.Find("th, td").Each(func(i int, cell *goquery.Selection) {
		columns = append(columns, headerName(strings.TrimSpace(cell.Text()), i, opts))
	})
	if len(columns) == 0 {
		return fmt.Errorf("html: table matched by %q has no header cells", selector)
	}

	line := 0
	var stopErr error
	table.Find("tbody tr").EachWithBreak(func(i int, tr *goquery.Selection) bool {
		if headerInBody && i == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			stopErr = ctx.Err()
			return false
		default:
		}
		line++

		cells := tr.Find("td, th")
		if cells.Length() != len(columns) {
			if onErr != nil {
				onErr(line, fmt.Errorf("html row has %d cells, header has %d", cells.Length(), len(columns)))
			}
			return true
		}

		row := make(Record, len(columns))
		cells.Each(func(j int, cell *goquery.Selection) {
			row[columns[j]] = coerceCell(strings.TrimSpace(cell.Text()))
		})
		if err := emit(row); err != nil {
			stopErr = err
			return false
		}
		return true
	})
	return stopErr
}
