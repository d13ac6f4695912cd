package runner

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dataprof/internal/summary"
	"dataprof/pkg/profile"
)

// ExpandPath expands output path templates against a profile:
//
//	$name               profile name
//	$session_id         profiling-run identifier
//	$session_timestamp  session start, Unix milliseconds
//	$dataset_timestamp  data batch timestamp, Unix milliseconds
//
// $dataset_timestamp falls back to the session timestamp when the profile
// carries no data timestamp, so templated paths never render a zero epoch.
func ExpandPath(template string, p *profile.DatasetProfile) string {
	dataTS := p.DataTimestamp()
	if dataTS.IsZero() {
		dataTS = p.SessionTimestamp()
	}
	return strings.NewReplacer(
		"$session_timestamp", strconv.FormatInt(p.SessionTimestamp().UnixMilli(), 10),
		"$dataset_timestamp", strconv.FormatInt(dataTS.UnixMilli(), 10),
		"$session_id", p.SessionID(),
		"$name", p.Name(),
	).Replace(template)
}

func writeProfile(path string, p *profile.DatasetProfile, delimited bool) error {
	if delimited {
		return appendDelimited(path, p)
	}
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
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

// writeFileAtomic writes data to path through a temp file in the same
// directory so readers never observe a partial file. Parent directories
// are created as needed.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".dataprof-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// appendDelimited appends one length-prefixed envelope to path, creating
// the file on first use. Appends are not atomic; a crash mid-append can
// leave a truncated final record.
func appendDelimited(path string, p *profile.DatasetProfile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open envelope stream: %w", err)
	}
	if err := profile.WriteDelimited(f, p); err != nil {
		_ = f.Close()
		return fmt.Errorf("append envelope: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close envelope stream: %w", err)
	}
	return nil
}
