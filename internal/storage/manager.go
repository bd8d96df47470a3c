package storage

import (
	"time"

	"github.com/pascal-fb-martin/housedvr-go/internal/eventlog"
	"github.com/pascal-fb-martin/housedvr-go/internal/metrics"
)

// Tick runs the periodic work the core schedules every 60s: daily-link
// rotation, then cleanup cycles while the archive is over budget.
// maxPercent == 0 disables budget enforcement.
func (m *Manager) Tick(now time.Time, sink eventlog.Sink) {
	if err := m.UpdateDailyLinks(now); err != nil {
		sink.Trace(eventlog.LevelWarning, "storage", "daily link update: %v", err)
	}

	used, err := m.DiskUsedPercent()
	if err != nil {
		sink.Trace(eventlog.LevelWarning, "storage", "statfs: %v", err)
		return
	}
	metrics.StorageUsedPercent.Set(used)

	maxPercent := m.MaxPercent()
	if maxPercent <= 0 {
		return
	}

	for cycles := 0; cycles < maxCleanupCyclesPerTick && used > float64(maxPercent); cycles++ {
		m.mu.Lock()
		deleted, err := m.runOneCleanupCycle(sink)
		m.mu.Unlock()
		if err != nil {
			sink.Trace(eventlog.LevelFailure, "storage", "cleanup cycle: %v", err)
			return
		}
		if !deleted {
			return
		}
		metrics.StorageCleanupsTotal.WithLabelValues("over_budget").Inc()

		used, err = m.DiskUsedPercent()
		if err != nil {
			sink.Trace(eventlog.LevelWarning, "storage", "statfs: %v", err)
			return
		}
		metrics.StorageUsedPercent.Set(used)
	}
}

// Status produces the storage section of the combined /dvr/status
// document.
func (m *Manager) Status() (map[string]any, error) {
	used, err := m.DiskUsedPercent()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"root":       m.root,
		"usedPct":    used,
		"maxPercent": m.MaxPercent(),
	}, nil
}
