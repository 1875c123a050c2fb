package shared

import (
	"testing"

	"github.com/peterldowns/testy/assert"
)

func TestSideForAction(t *testing.T) {
	assert.Equal(t, SideForAction(Buy), Long)
	assert.Equal(t, SideForAction(Sell), Short)
}

func TestSideDirection(t *testing.T) {
	assert.Equal(t, Long.Direction(), float64(1))
	assert.Equal(t, Short.Direction(), float64(-1))
}
