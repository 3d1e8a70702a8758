package database

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"teamboard-backend/pkg/models"
)

// matchesSelect applies the select rule: equality, or membership when the
// condition value is a slice. An absent field matches nothing, not even nil.
func matchesSelect(record models.Record, conditions Conditions) bool {
	for field, want := range conditions {
		got, present := record[field]
		if !present {
			return false
		}
		if items, ok := sliceValues(want); ok {
			if !containsValue(items, got) {
				return false
			}
			continue
		}
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// matchesExact applies the update/delete rule: plain equality on every key
func matchesExact(record models.Record, conditions Conditions) bool {
	for field, want := range conditions {
		got, present := record[field]
		if !present || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// sliceValues unpacks any slice or array except []byte
func sliceValues(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, false
	}
	if items, ok := v.([]interface{}); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	items := make([]interface{}, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func containsValue(items []interface{}, v interface{}) bool {
	for _, item := range items {
		if valuesEqual(v, item) {
			return true
		}
	}
	return false
}

// valuesEqual compares two scalar values. Numbers compare by value whatever
// their Go type, so a decoded float64 id matches an int64 condition. Two
// integral values compare as int64 to stay exact above 2^53.
func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ia, ok := toInt64(a); ok {
		if ib, ok := toInt64(b); ok {
			return ia == ib
		}
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}

// toInt64 accepts integers and integral floats; strings never count as numbers
func toInt64(v interface{}) (int64, bool) {
	if _, isString := v.(string); isString {
		return 0, false
	}
	return models.ToInt64(v)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// compareValues orders nil first, then numbers by value, then strings
// lexicographically. Mixed kinds compare by their string form.
func compareValues(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if ia, ok := toInt64(a); ok {
		if ib, ok := toInt64(b); ok {
			switch {
			case ia < ib:
				return -1
			case ia > ib:
				return 1
			}
			return 0
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// parseOrderBy splits "field DIRECTION"; direction defaults to ASC
func parseOrderBy(orderBy string) (field string, desc bool, err error) {
	parts := strings.Fields(orderBy)
	if len(parts) == 0 || len(parts) > 2 {
		return "", false, fmt.Errorf("%w: order by %q", ErrInvalidQuery, orderBy)
	}
	field = parts[0]
	if !identifierPattern.MatchString(field) {
		return "", false, fmt.Errorf("%w: order field %q", ErrInvalidQuery, field)
	}
	if len(parts) == 2 {
		switch strings.ToUpper(parts[1]) {
		case "ASC":
		case "DESC":
			desc = true
		default:
			return "", false, fmt.Errorf("%w: order direction %q", ErrInvalidQuery, parts[1])
		}
	}
	return field, desc, nil
}

// applyOptions sorts (stable) and paginates an already filtered slice
func applyOptions(records []models.Record, opts *SelectOptions) ([]models.Record, error) {
	if opts == nil {
		return records, nil
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, fmt.Errorf("%w: negative limit or offset", ErrInvalidQuery)
	}

	if opts.OrderBy != "" {
		field, desc, err := parseOrderBy(opts.OrderBy)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(records, func(i, j int) bool {
			c := compareValues(records[i][field], records[j][field])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}

	if opts.Offset > 0 || opts.Limit > 0 {
		start := opts.Offset
		if start > len(records) {
			start = len(records)
		}
		end := len(records)
		if opts.Limit > 0 && start+opts.Limit < end {
			end = start + opts.Limit
		}
		records = records[start:end]
	}
	return records, nil
}
