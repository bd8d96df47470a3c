package registry

import "time"

const ringSlots = 60

// metricsRing tracks per-server available-space samples at minute
// resolution: one slot per minute of the last hour, erased when stale
// and rolled up hourly.
type metricsRing struct {
	slots    [ringSlots]float64
	stamped  [ringSlots]int64 // unix minute each slot was last written, 0 = empty
	lastHour int64
}

// sample records one reading in the current minute's slot. Slots left
// over from more than ringSlots minutes ago are not erased here; min
// skips them by their stamp, so they read as no data. When the wall-clock
// hour has rolled over since the previous sample, it first
// rolls up: the minimum non-negative sample collected over the past hour
// is returned (via rolled=true) so the caller can emit it to the sensor
// sink, and the ring is cleared before this sample is recorded.
func (r *metricsRing) sample(now time.Time, value float64) (rolledMin float64, rolled bool) {
	hour := now.Unix() / 3600
	if r.lastHour != 0 && hour != r.lastHour {
		rolledMin, rolled = r.min(now)
		r.clear()
	}
	r.lastHour = hour

	minute := now.Unix() / 60
	slot := int(minute % ringSlots)
	r.slots[slot] = value
	r.stamped[slot] = minute
	return rolledMin, rolled
}

func (r *metricsRing) clear() {
	for i := range r.slots {
		r.slots[i] = 0
		r.stamped[i] = 0
	}
}

// min returns the smallest non-stale sample currently in the ring, and
// whether any sample was present at all.
func (r *metricsRing) min(now time.Time) (float64, bool) {
	cutoff := now.Unix()/60 - ringSlots
	best := 0.0
	found := false
	for i, stamp := range r.stamped {
		if stamp == 0 || stamp < cutoff {
			continue
		}
		if !found || r.slots[i] < best {
			best = r.slots[i]
			found = true
		}
	}
	return best, found
}
