package shared

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
)

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)

	// Ensure times are truncated to midnight utc.
	assert.Equal(t, StartOfDay(time.Date(2024, 3, 15, 17, 45, 3, 0, time.UTC)),
		time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, StartOfDay(time.Date(2024, 3, 15, 5, 0, 0, 0, loc)),
		time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC))
}
