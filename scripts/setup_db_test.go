package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPassword(t *testing.T) {
	assert.Equal(t, "postgres://app:****@db:5432/teamboard", maskPassword("postgres://app:secret@db:5432/teamboard"))
	assert.Equal(t, "app:****@tcp(db:3306)/teamboard", maskPassword("app:secret@tcp(db:3306)/teamboard"))
	assert.Equal(t, "postgres://app@db/teamboard", maskPassword("postgres://app@db/teamboard"))
	assert.Equal(t, "", maskPassword(""))
}
