package profile

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"dataprof/pkg/sketch"
)

// Classify maps a dynamic Go value onto the coarse kind lattice a profile
// distinguishes and returns the normalized value the trackers consume:
// int64 for Integral, float64 for Fractional, string for String, bool for
// Boolean, nil for Null, the original value for Unknown.
//
// Edge cases:
//   - NaN floats classify as Null: a NaN cell means "missing", not a number.
//   - uint64 above MaxInt64 loses exactness and classifies as Fractional.
//   - json.Number prefers Integral, falls back to Fractional, then String.
//   - time.Time becomes its RFC3339Nano text in UTC.
//   - []byte is treated as string data.
func Classify(v any) (sketch.Kind, any) {
	switch t := v.(type) {
	case nil:
		return sketch.KindNull, nil

	case bool:
		return sketch.KindBoolean, t

	case string:
		return sketch.KindString, t
	case []byte:
		return sketch.KindString, string(t)

	case int:
		return sketch.KindIntegral, int64(t)
	case int8:
		return sketch.KindIntegral, int64(t)
	case int16:
		return sketch.KindIntegral, int64(t)
	case int32:
		return sketch.KindIntegral, int64(t)
	case int64:
		return sketch.KindIntegral, t

	case uint:
		return classifyUint(uint64(t))
	case uint8:
		return sketch.KindIntegral, int64(t)
	case uint16:
		return sketch.KindIntegral, int64(t)
	case uint32:
		return sketch.KindIntegral, int64(t)
	case uint64:
		return classifyUint(t)

	case float32:
		return classifyFloat(float64(t))
	case float64:
		return classifyFloat(t)

	case json.Number:
		if i, err := t.Int64(); err == nil {
			return sketch.KindIntegral, i
		}
		if f, err := t.Float64(); err == nil {
			return classifyFloat(f)
		}
		return sketch.KindString, string(t)

	case time.Time:
		tt := t
		if !tt.IsZero() {
			tt = tt.UTC()
		}
		return sketch.KindString, tt.Format(time.RFC3339Nano)

	default:
		return sketch.KindUnknown, v
	}
}

func classifyUint(u uint64) (sketch.Kind, any) {
	if u > math.MaxInt64 {
		return sketch.KindFractional, float64(u)
	}
	return sketch.KindIntegral, int64(u)
}

func classifyFloat(f float64) (sketch.Kind, any) {
	if math.IsNaN(f) {
		return sketch.KindNull, nil
	}
	return sketch.KindFractional, f
}

// appendCanonical appends the canonical byte form of a normalized value, the
// form cardinality and frequent-items sketches count by. Two values with the
// same canonical bytes are the same item: 1 and 1.0 both render "1", and the
// bool true collides with the string "true". That coarseness is intentional
// for profiling.
func appendCanonical(dst []byte, kind sketch.Kind, v any) []byte {
	switch kind {
	case sketch.KindBoolean:
		if v.(bool) {
			return append(dst, "true"...)
		}
		return append(dst, "false"...)
	case sketch.KindIntegral:
		return strconv.AppendInt(dst, v.(int64), 10)
	case sketch.KindFractional:
		return strconv.AppendFloat(dst, v.(float64), 'g', -1, 64)
	case sketch.KindString:
		return append(dst, v.(string)...)
	default:
		return dst
	}
}
