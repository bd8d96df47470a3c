package storage

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pascal-fb-martin/housedvr-go/internal/eventlog"
)

const maxCleanupCyclesPerTick = 10

// DiskUsedPercent reports the archive filesystem's used percent. Returns 0
// if the root does not exist yet.
func (m *Manager) DiskUsedPercent() (float64, error) {
	if _, err := os.Stat(m.root); os.IsNotExist(err) {
		return 0, nil
	}
	return usedPercent(m.root)
}

func sortedSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// sortedYearDirs lists only the numeric year directories under the
// archive root. The root also holds non-archive entries (the snapshot
// state directory, the Today/Yesterday links) that the cleaner must
// never touch.
func (m *Manager) sortedYearDirs() ([]string, error) {
	all, err := sortedSubdirs(m.root)
	if err != nil {
		return nil, err
	}
	var years []string
	for _, name := range all {
		if yearDirRe.MatchString(name) {
			years = append(years, name)
		}
	}
	return years, nil
}

// runOneCleanupCycle performs a single step of budget enforcement: find
// the smallest year, then smallest month within it, then smallest day
// within that, and either prune an empty ancestor or delete the oldest
// day wholesale. Returns false once the archive has nothing left to
// delete.
func (m *Manager) runOneCleanupCycle(sink eventlog.Sink) (bool, error) {
	years, err := m.sortedYearDirs()
	if err != nil || len(years) == 0 {
		return false, err
	}
	year := years[0]
	yearPath := filepath.Join(m.root, year)

	months, err := sortedSubdirs(yearPath)
	if err != nil {
		return false, err
	}
	if len(months) == 0 {
		if err := os.Remove(yearPath); err != nil {
			return false, err
		}
		sink.Event("storage", yearPath, "cleanup", "DIRECTORY DELETED EMPTY", nil)
		return true, nil
	}
	month := months[0]
	monthPath := filepath.Join(yearPath, month)

	days, err := sortedSubdirs(monthPath)
	if err != nil {
		return false, err
	}
	if len(days) == 0 {
		if err := os.Remove(monthPath); err != nil {
			return false, err
		}
		sink.Event("storage", monthPath, "cleanup", "DIRECTORY DELETED EMPTY", nil)
		return true, nil
	}
	day := days[0]
	dayPath := filepath.Join(monthPath, day)

	if err := os.RemoveAll(dayPath); err != nil {
		return false, err
	}
	sink.Event("storage", dayPath, "cleanup", "DIRECTORY DELETED TO FREE DISK SPACE", nil)
	return true, nil
}

