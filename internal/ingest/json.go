package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// StreamJSON reads JSON from r and emits one record per object, without
// buffering the document.
//
// Accepted shapes:
//   - a root array of objects, streamed element by element;
//   - an envelope object whose first array-of-objects field holds the
//     records (other envelope fields are skipped);
//   - a single root object, emitted as one record;
//   - trailing JSON-lines objects after the root value.
//
// Numbers arrive as json.Number, string arrays are joined with the
// configured separator, and nested objects pass through untouched for the
// profile to count as unsupported values. Non-object array elements are
// reported through onErr and skipped.
func StreamJSON(ctx context.Context, r io.Reader, opts Options, emit RowFunc, onErr func(line int, err error)) error {
	src, err := DecodeReader(r, opts.Encoding)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(src)
	dec.UseNumber()

	sep := opts.joinSeparator()
	line := 0

	emitObject := func(obj map[string]any) error {
		line++
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return emit(objectToRecord(obj, opts, sep))
	}

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("json: read first token: %w", err)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("json: unsupported root token %v (want object or array)", tok)
	}

	switch d {
	case '[':
		if err := streamArrayOfObjects(dec, emitObject, onErr, &line); err != nil {
			return err
		}
		if err := expectDelim(dec, ']'); err != nil {
			return err
		}
		return streamTrailingObjects(dec, emitObject, onErr, &line)

	case '{':
		streamed, single, err := streamEnvelopeOrSingle(dec, emitObject, onErr, &line)
		if err != nil {
			return err
		}
		if err := expectDelim(dec, '}'); err != nil {
			return err
		}
		if !streamed && single != nil {
			if err := emitObject(single); err != nil {
				return err
			}
		}
		return streamTrailingObjects(dec, emitObject, onErr, &line)

	default:
		return fmt.Errorf("json: unsupported root delimiter %q", d)
	}
}

// streamArrayOfObjects streams elements of the current array, after '[' has
// been consumed. Object elements are emitted, null elements are skipped,
// and other element types are reported through onErr and skipped.
func streamArrayOfObjects(dec *json.Decoder, emit func(map[string]any) error, onErr func(line int, err error), line *int) error {
	for dec.More() {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("json: decode array element: %w", err)
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			if onErr != nil {
				onErr(*line+1, fmt.Errorf("json: array element is %T, not an object", raw))
			}
			continue
		}
		if err := emit(obj); err != nil {
			return err
		}
	}
	return nil
}

// streamTrailingObjects consumes optional JSON-lines objects after the root
// value.
func streamTrailingObjects(dec *json.Decoder, emit func(map[string]any) error, onErr func(line int, err error), line *int) error {
	for {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			if err == io.EOF {
				return nil
			}
			if onErr != nil {
				onErr(*line+1, err)
			}
			return fmt.Errorf("json: decode trailing object: %w", err)
		}
		if obj == nil {
			continue
		}
		if err := emit(obj); err != nil {
			return err
		}
	}
}

// streamEnvelopeOrSingle walks a root object after '{' has been consumed.
//
// The first field holding an array of objects is streamed as the record set
// and the remaining fields are skipped without materializing. When no such
// field exists the whole object is returned for the caller to emit as a
// single record.
func streamEnvelopeOrSingle(dec *json.Decoder, emit func(map[string]any) error, onErr func(line int, err error), line *int) (streamed bool, single map[string]any, _ error) {
	single = make(map[string]any)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return false, nil, fmt.Errorf("json: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return false, nil, fmt.Errorf("json: object key is %T, not a string", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			return false, nil, fmt.Errorf("json: read value of %q: %w", key, err)
		}

		delim, isDelim := valTok.(json.Delim)
		if !isDelim || delim != '[' {
			val, err := materializeValue(dec, valTok)
			if err != nil {
				return false, nil, err
			}
			single[key] = val
			continue
		}

		// An array value. Peek its first element to decide between record
		// set and plain array field.
		if !dec.More() {
			if err := expectDelim(dec, ']'); err != nil {
				return false, nil, err
			}
			single[key] = []any(nil)
			continue
		}
		var first any
		if err := dec.Decode(&first); err != nil {
			return false, nil, fmt.Errorf("json: decode first element of %q: %w", key, err)
		}

		if obj, isObj := first.(map[string]any); isObj {
			if err := emit(obj); err != nil {
				return true, nil, err
			}
			if err := streamArrayOfObjects(dec, emit, onErr, line); err != nil {
				return true, nil, err
			}
			if err := expectDelim(dec, ']'); err != nil {
				return true, nil, err
			}
			// Skip the remaining envelope fields without decoding them
			// into Go values.
			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return true, nil, fmt.Errorf("json: skip envelope key: %w", err)
				}
				if err := skipNextValue(dec); err != nil {
					return true, nil, err
				}
			}
			return true, nil, nil
		}

		arr := []any{first}
		for dec.More() {
			var el any
			if err := dec.Decode(&el); err != nil {
				return false, nil, fmt.Errorf("json: decode element of %q: %w", key, err)
			}
			arr = append(arr, el)
		}
		if err := expectDelim(dec, ']'); err != nil {
			return false, nil, err
		}
		single[key] = arr
	}

	return false, single, nil
}

// skipNextValue consumes the next JSON value without materializing it.
func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value: %w", err)
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch d {
	case '{':
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("json: skip object key: %w", err)
			}
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		return expectDelim(dec, '}')
	case '[':
		for dec.More() {
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		return expectDelim(dec, ']')
	default:
		return fmt.Errorf("json: unexpected delimiter %q", d)
	}
}

// materializeValue builds a Go value for the current JSON value given its
// first token. Only the single-record root path uses it, so the values stay
// small.
func materializeValue(dec *json.Decoder, tok json.Token) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		m := make(map[string]any)
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested key: %w", err)
			}
			k, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("json: nested key is %T, not a string", kt)
			}
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested value: %w", err)
			}
			v, err := materializeValue(dec, vt)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
		return m, nil

	case '[':
		var arr []any
		for dec.More() {
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested element: %w", err)
			}
			v, err := materializeValue(dec, vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if err := expectDelim(dec, ']'); err != nil {
			return nil, err
		}
		return arr, nil

	default:
		return nil, fmt.Errorf("json: unexpected delimiter %q", d)
	}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if tok != want {
		return fmt.Errorf("json: expected %q, got %v", want, tok)
	}
	return nil
}

// objectToRecord maps a decoded object to a record, normalizing keys and
// flattening string arrays.
func objectToRecord(obj map[string]any, opts Options, sep string) Record {
	rec := make(Record, len(obj))
	for k, v := range obj {
		name := k
		if opts.NormalizeHeaders {
			if n := NormalizeColumnName(k); n != "" {
				name = n
			}
		}
		rec[name] = flattenJSONValue(v, sep)
	}
	return rec
}

// flattenJSONValue joins arrays of strings into one scalar. Empty and
// all-null arrays become "". Mixed or non-string arrays pass through for
// the profile to count as unsupported.
func flattenJSONValue(v any, sep string) any {
	arr, ok := v.([]any)
	if !ok {
		return v
	}
	if len(arr) == 0 {
		return ""
	}
	ss := make([]string, 0, len(arr))
	for _, it := range arr {
		if it == nil {
			continue
		}
		s, ok := it.(string)
		if !ok {
			return v
		}
		ss = append(ss, s)
	}
	if len(ss) == 0 {
		return ""
	}
	return strings.Join(ss, sep)
}
