package apperr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExternalKeepsCause(t *testing.T) {
	err := External("osrm route", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrExternal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "osrm route")
	assert.NoError(t, External("noop", nil))
}

func TestKinds(t *testing.T) {
	assert.True(t, errors.Is(Validation("pickup %s", "missing"), ErrValidation))
	assert.True(t, errors.Is(Unavailable("no ambulances"), ErrUnavailable))
	assert.False(t, errors.Is(Validation("x"), ErrUnavailable))
}
