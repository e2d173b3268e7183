package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePlate(t *testing.T) {
	assert.True(t, ValidatePlate("OD-05-AB-1234"))
	assert.True(t, ValidatePlate("AP-39-T-1234"))
	assert.False(t, ValidatePlate("OD05AB1234"))
	assert.False(t, ValidatePlate("od-05-ab-1234"))
	assert.False(t, ValidatePlate("OD-05-ABC-1234"))
	assert.False(t, ValidatePlate(" OD-05-AB-1234"))
}

func TestValidateCoordinates(t *testing.T) {
	assert.True(t, ValidateCoordinates(20.29, 85.82))
	assert.False(t, ValidateCoordinates(91, 0))
	assert.False(t, ValidateCoordinates(0, -181))
}

func TestNormalizePriority(t *testing.T) {
	assert.Equal(t, "normal", NormalizePriority("  "))
	assert.Equal(t, "critical", NormalizePriority("critical"))
}
