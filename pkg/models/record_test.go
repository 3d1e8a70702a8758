package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToInt64(t *testing.T) {
	cases := []struct {
		in   interface{}
		want int64
		ok   bool
	}{
		{7, 7, true},
		{int64(7), 7, true},
		{float64(7), 7, true},
		{7.5, 0, false},
		{json.Number("42"), 42, true},
		{json.Number("9007199254740993"), 9007199254740993, true},
		{1e20, 0, false},
		{"13", 13, true},
		{"x", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, c := range cases {
		got, ok := ToInt64(c.in)
		assert.Equal(t, c.ok, ok, "%v", c.in)
		assert.Equal(t, c.want, got, "%v", c.in)
	}
}

func TestRecordBool(t *testing.T) {
	r := Record{"a": true, "b": float64(1), "c": int64(0), "d": "true", "e": nil}
	assert.True(t, r.Bool("a"))
	assert.True(t, r.Bool("b"))
	assert.False(t, r.Bool("c"))
	assert.True(t, r.Bool("d"))
	assert.False(t, r.Bool("e"))
	assert.False(t, r.Bool("missing"))
}

func TestUserProfileComplete(t *testing.T) {
	u := AsUser(Record{"email": "a@b.c", "phone": "1", "position": "dev", "company": nil})
	assert.False(t, u.ProfileComplete())

	u.Record["company"] = "   "
	assert.False(t, u.ProfileComplete())

	u.Record["company"] = "Acme"
	assert.True(t, u.ProfileComplete())
}

func TestUserTeamID(t *testing.T) {
	_, ok := AsUser(Record{"team_id": nil}).TeamID()
	assert.False(t, ok)

	id, ok := AsUser(Record{"team_id": float64(3)}).TeamID()
	assert.True(t, ok)
	assert.Equal(t, int64(3), id)
}

func TestTaskInvolvesUser(t *testing.T) {
	task := AsTask(Record{"created_by": float64(1), "assigned_to": float64(2)})
	assert.True(t, task.InvolvesUser(1))
	assert.True(t, task.InvolvesUser(2))
	assert.False(t, task.InvolvesUser(3))

	unassigned := AsTask(Record{"created_by": float64(1), "assigned_to": nil})
	assert.False(t, unassigned.InvolvesUser(0))
}
