package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Record is one schemaless row. Any field may be absent; typed access goes
// through the helpers below or the entity views (User, Team, Task).
type Record map[string]interface{}

// Clone returns a shallow copy
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ID returns the record id, or 0 when missing
func (r Record) ID() int64 {
	id, _ := r.Int("id")
	return id
}

// Has reports whether key is present and non-null
func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// Int reads an integral value. JSON numbers, Go ints and numeric strings are
// accepted; fractional numbers are rejected.
func (r Record) Int(key string) (int64, bool) {
	return ToInt64(r[key])
}

// String reads a string value; numbers are not converted
func (r Record) String(key string) string {
	if s, ok := r[key].(string); ok {
		return s
	}
	return ""
}

// Bool reads a boolean. Numeric 0/1 (MySQL TINYINT) is accepted.
func (r Record) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case nil:
		return false
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		if n, ok := ToInt64(v); ok {
			return n != 0
		}
	}
	return false
}

// NonEmpty reports whether key holds a value that is not null and not a blank string
func (r Record) NonEmpty(key string) bool {
	switch v := r[key].(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	default:
		return true
	}
}

// ToInt64 converts any numeric representation to int64
func ToInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt(f)
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
