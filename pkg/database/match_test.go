package database

import (
	"encoding/json"
	"testing"

	"teamboard-backend/pkg/models"

	"github.com/stretchr/testify/assert"
)

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(1, int64(1)))
	assert.True(t, valuesEqual(json.Number("7"), 7.0))
	assert.True(t, valuesEqual("a", "a"))
	assert.True(t, valuesEqual(nil, nil))
	assert.True(t, valuesEqual(true, true))

	assert.False(t, valuesEqual(1, "1"))
	assert.False(t, valuesEqual(nil, 0))
	assert.False(t, valuesEqual(true, 1))
}

func TestValuesEqualLargeIntegers(t *testing.T) {
	const big = int64(1) << 53
	assert.False(t, valuesEqual(big, big+1))
	assert.False(t, valuesEqual(json.Number("9007199254740992"), json.Number("9007199254740993")))
	assert.False(t, valuesEqual(json.Number("9007199254740993"), big))
	assert.True(t, valuesEqual(json.Number("9007199254740993"), big+1))
	assert.True(t, valuesEqual(uint64(big+1), big+1))
	assert.True(t, valuesEqual(json.Number("2.0"), 2))
	assert.True(t, valuesEqual(json.Number("2.5"), 2.5))

	assert.Equal(t, -1, compareValues(big, json.Number("9007199254740993")))
	assert.Equal(t, 1, compareValues(2.5, 2))
}

func TestMatchesSelect(t *testing.T) {
	record := models.Record{"status_id": json.Number("2"), "title": "x"}

	assert.True(t, matchesSelect(record, nil))
	assert.True(t, matchesSelect(record, Conditions{"status_id": 2}))
	assert.True(t, matchesSelect(record, Conditions{"status_id": []int64{1, 2}}))
	assert.True(t, matchesSelect(record, Conditions{"status_id": []interface{}{"a", 2}, "title": "x"}))
	assert.False(t, matchesSelect(record, Conditions{"status_id": []int{}}))
	assert.False(t, matchesSelect(record, Conditions{"missing": 1}))
	assert.False(t, matchesSelect(record, Conditions{"missing": nil}))
	assert.True(t, matchesSelect(models.Record{"due_date": nil}, Conditions{"due_date": nil}))
}

func TestMatchesExactIgnoresMembership(t *testing.T) {
	record := models.Record{"status_id": 2}
	assert.True(t, matchesExact(record, Conditions{"status_id": 2}))
	assert.False(t, matchesExact(record, Conditions{"title": nil}))
	assert.False(t, matchesExact(record, Conditions{"status_id": []int{2}}))
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, -1, compareValues(nil, 1))
	assert.Equal(t, 1, compareValues(2, json.Number("1")))
	assert.Equal(t, 0, compareValues(int64(3), 3.0))
	assert.Equal(t, -1, compareValues("apple", "banana"))
	assert.Equal(t, -1, compareValues(false, true))
	// numbers compare numerically, not as strings
	assert.Equal(t, -1, compareValues(9, 10))
}

func TestParseOrderBy(t *testing.T) {
	field, desc, err := parseOrderBy("created_at DESC")
	assert.NoError(t, err)
	assert.Equal(t, "created_at", field)
	assert.True(t, desc)

	field, desc, err = parseOrderBy("title")
	assert.NoError(t, err)
	assert.Equal(t, "title", field)
	assert.False(t, desc)

	for _, bad := range []string{"", "a b c", "title SIDEWAYS", "1abc"} {
		_, _, err := parseOrderBy(bad)
		assert.ErrorIs(t, err, ErrInvalidQuery, bad)
	}
}

func TestApplyOptionsRejectsNegative(t *testing.T) {
	_, err := applyOptions([]models.Record{}, &SelectOptions{Limit: -1})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}
