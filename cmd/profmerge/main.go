// Command profmerge combines profiles produced by separate runs into one.
// Inputs may be single envelopes or delimited streams; the two are told
// apart by sniffing the envelope magic, since a delimited stream opens
// with a length prefix instead.
//
// Usage:
//
//	profmerge -out merged.bin shard1.bin shard2.bin stream.bin
//	profmerge -out merged.bin -summary merged.json runs/*.bin
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"dataprof/internal/summary"
	"dataprof/pkg/profile"
)

func main() {
	os.Exit(runMerge(os.Args[1:], os.Stdout, os.Stderr))
}

// runMerge is the testable CLI entry point. Exit codes: 0 on success,
// 1 on read/merge/write failures, 2 on usage errors.
func runMerge(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("profmerge", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		outPath       string
		summaryPath   string
		summaryFormat string
	)
	fs.StringVar(&outPath, "out", "", "merged profile output path")
	fs.StringVar(&summaryPath, "summary", "", "optional flat summary output path")
	fs.StringVar(&summaryFormat, "summary-format", "json", "summary format (json, csv)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	inputs := fs.Args()
	if outPath == "" || len(inputs) == 0 {
		fmt.Fprintln(stderr, "usage: profmerge -out merged.bin [-summary out.json] profile.bin [profile.bin ...]")
		return 2
	}

	var profiles []*profile.DatasetProfile
	for _, path := range inputs {
		ps, err := readProfiles(path)
		if err != nil {
			fmt.Fprintf(stderr, "read %s: %v\n", path, err)
			return 1
		}
		profiles = append(profiles, ps...)
	}

	merged, err := profile.MergeAll(profiles)
	if err != nil {
		fmt.Fprintf(stderr, "merge: %v\n", err)
		return 1
	}

	data, err := merged.MarshalBinary()
	if err != nil {
		fmt.Fprintf(stderr, "encode merged profile: %v\n", err)
		return 1
	}
	if err := writeFileAtomic(outPath, data); err != nil {
		fmt.Fprintf(stderr, "write %s: %v\n", outPath, err)
		return 1
	}

	if summaryPath != "" {
		if err := writeSummary(summaryPath, summaryFormat, merged); err != nil {
			fmt.Fprintf(stderr, "write summary %s: %v\n", summaryPath, err)
			return 1
		}
	}

	fmt.Fprintf(stdout, "ok profiles=%d rows=%d columns=%d out=%s\n",
		len(profiles), merged.RowCount(), len(merged.ColumnNames()), outPath)
	return 0
}

// readProfiles reads every profile in one file. A file starting with the
// envelope magic holds a single profile; anything else is treated as a
// delimited stream.
func readProfiles(path string) ([]*profile.DatasetProfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, err := br.Peek(len(profile.Magic))
	if err != nil {
		return nil, fmt.Errorf("sniff format: %w", err)
	}

	if string(head) == profile.Magic {
		data, err := io.ReadAll(br)
		if err != nil {
			return nil, err
		}
		p, err := profile.Decode(data)
		if err != nil {
			return nil, err
		}
		return []*profile.DatasetProfile{p}, nil
	}

	var out []*profile.DatasetProfile
	for {
		p, err := profile.ReadDelimited(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no profiles in stream")
	}
	return out, nil
}

func writeSummary(path, format string, p *profile.DatasetProfile) error {
	flat, err := summary.Flatten(p, summary.Options{})
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	switch format {
	case "json":
		err = summary.WriteJSON(&buf, flat)
	case "csv":
		err = summary.WriteCSV(&buf, flat)
	default:
		return fmt.Errorf("summary format %q not supported", format)
	}
	if err != nil {
		return err
	}
	return writeFileAtomic(path, buf.Bytes())
}

// writeFileAtomic writes data through a temp file in the target directory
// so a crash never leaves a partial output.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".profmerge-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
