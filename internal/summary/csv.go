package summary

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// csvHeader is the fixed CSV column set. Every summary row carries every
// column; sections the profile lacks leave their cells empty. The quantile
// columns are the default grid, so summaries flattened with a custom grid
// leave unmatched quantile cells empty.
var csvHeader = []string{
	"column", "total_count", "null_count", "error_count", "inferred_type",
	"count_boolean", "count_integral", "count_fractional", "count_string", "count_unknown",
	"unique_estimate", "unique_lower", "unique_upper",
	"number_count", "number_mean", "number_stddev", "number_min", "number_max",
	"q_0.05", "q_0.25", "q_0.50", "q_0.75", "q_0.95",
	"string_count", "string_mean_length", "string_stddev_length", "string_min_length", "string_max_length",
	"top_items",
}

// WriteCSV renders s as one flat CSV row per column under a fixed header.
// Dataset-level fields (session, tags, row count) are JSON-only; the CSV
// form is meant for spreadsheet-style column comparison.
func WriteCSV(w io.Writer, s DatasetSummary) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write summary header: %w", err)
	}
	for _, col := range s.Columns {
		if err := cw.Write(csvRecord(col)); err != nil {
			return fmt.Errorf("write summary row %q: %w", col.Column, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush summary: %w", err)
	}
	return nil
}

func csvRecord(c ColumnSummary) []string {
	rec := make([]string, 0, len(csvHeader))
	rec = append(rec,
		c.Column,
		formatUint(c.TotalCount),
		formatUint(c.NullCount),
		formatUint(c.ErrorCount),
		c.InferredType,
	)

	for _, kind := range []string{"boolean", "integral", "fractional", "string", "unknown"} {
		rec = append(rec, formatUint(c.TypeCounts[kind]))
	}

	rec = append(rec,
		formatFloat(c.Unique.Estimate),
		formatFloat(c.Unique.Lower),
		formatFloat(c.Unique.Upper),
	)

	if n := c.Numbers; n != nil {
		rec = append(rec,
			formatUint(n.Count),
			formatFloat(n.Mean),
			formatFloat(n.Stddev),
			formatFloat(n.Min),
			formatFloat(n.Max),
		)
		byRank := make(map[float64]float64, len(n.Quantiles))
		for _, qv := range n.Quantiles {
			byRank[qv.Q] = qv.Value
		}
		for _, q := range DefaultQuantiles {
			if v, ok := byRank[q]; ok {
				rec = append(rec, formatFloat(v))
			} else {
				rec = append(rec, "")
			}
		}
	} else {
		for i := 0; i < 5+len(DefaultQuantiles); i++ {
			rec = append(rec, "")
		}
	}

	if st := c.Strings; st != nil {
		rec = append(rec,
			formatUint(st.Count),
			formatFloat(st.MeanLen),
			formatFloat(st.StddevLen),
			formatFloat(st.MinLen),
			formatFloat(st.MaxLen),
		)
	} else {
		for i := 0; i < 5; i++ {
			rec = append(rec, "")
		}
	}

	rec = append(rec, formatTopItems(c.Frequent))
	return rec
}

// formatTopItems renders frequent items as "item=estimate" pairs joined
// with "; ", a compact single-cell form for spreadsheets.
func formatTopItems(items []FrequentItem) string {
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.Item + "=" + formatUint(it.Estimate)
	}
	return strings.Join(parts, "; ")
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
