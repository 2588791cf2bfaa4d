package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDIN(t *testing.T) {
	d := JoinDIN("1232100-00-E", "TG123456789ABC")
	assert.Equal(t, DIN("1232100-00-E--TG123456789ABC"), d)
	assert.True(t, d.Valid())
	assert.Equal(t, "1232100-00-E", d.PartNumber())
	assert.Equal(t, "TG123456789ABC", d.SerialNumber())

	assert.False(t, DIN("").Valid())
	assert.False(t, DIN("no-separator").Valid())
	assert.Empty(t, DIN("no-separator").PartNumber())
}
