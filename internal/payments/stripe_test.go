package payments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(6700), MinorUnits(67))
	assert.Equal(t, int64(1999), MinorUnits(19.99))
}

func TestNoopHoldIsDisabled(t *testing.T) {
	var h FareHolder = Noop{}
	_, err := h.Hold(context.Background(), 10, "trip")
	assert.ErrorIs(t, err, ErrDisabled)
	assert.NoError(t, h.Capture(context.Background(), "pi_1"))
}
