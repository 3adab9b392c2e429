package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogFields(t *testing.T) {
	fields := LogFields()
	assert.Len(t, fields, 6)
	assert.Equal(t, "version", fields[0])
	assert.Equal(t, Version, fields[1])
}
