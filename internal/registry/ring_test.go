package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRingMinIgnoresStaleSlots(t *testing.T) {
	var r metricsRing
	base := time.Unix(0, 0).Add(time.Hour)

	r.sample(base, 500)
	r.sample(base.Add(time.Minute), 100)

	min, ok := r.min(base.Add(time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 100.0, min)

	// Past the 60-slot window, both samples are stale.
	_, ok = r.min(base.Add(2 * time.Hour))
	assert.False(t, ok, "samples older than ringSlots minutes must read as no data")
}

func TestMetricsRingRollsUpOncePerHour(t *testing.T) {
	var r metricsRing
	hourOne := time.Unix(3600, 0)

	rolledMin, rolled := r.sample(hourOne, 200)
	assert.False(t, rolled, "no rollup on the very first sample")
	assert.Zero(t, rolledMin)

	r.sample(hourOne.Add(time.Minute), 50)

	hourTwo := hourOne.Add(time.Hour)
	rolledMin, rolled = r.sample(hourTwo, 900)
	assert.True(t, rolled, "crossing an hour boundary must trigger a rollup")
	assert.Equal(t, 50.0, rolledMin, "rollup reports the minimum sample from the prior hour")

	// The ring was cleared before this hour's sample was recorded, so only
	// hourTwo's own reading is visible now.
	min, ok := r.min(hourTwo)
	assert.True(t, ok)
	assert.Equal(t, 900.0, min)
}
