// Package storage is the Storage Manager (C3): it owns the date-partitioned
// archive tree, the Today/Yesterday symlinks, the browse endpoints, and the
// disk-usage budget cleaner. It has no dependency on the registry or the
// transfer queue; the transfer queue only borrows Root() to know where
// to write.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

var yearDirRe = regexp.MustCompile(`^[0-9]{4}$`)

// Manager owns the archive root and the disk-budget configuration. All
// exported methods are safe for concurrent use; writers (cleanup, daily
// link rotation) take the write lock, browse endpoints read the
// filesystem without taking the lock.
type Manager struct {
	root       string
	maxPercent int32 // hot-reloadable; 0 disables budget enforcement

	mu          sync.RWMutex
	lastLinkDay string // YYYY/MM/DD of the day the Today/Yesterday links were last pointed at
}

func New(root string, maxPercent int) *Manager {
	m := &Manager{root: root}
	m.SetMaxPercent(maxPercent)
	return m
}

func (m *Manager) Root() string { return m.root }

// SetMaxPercent updates the disk-usage threshold that triggers cleanup.
// Safe to call concurrently with Tick, so the config overlay can
// hot-reload it without restarting the process.
func (m *Manager) SetMaxPercent(pct int) {
	atomic.StoreInt32(&m.maxPercent, int32(pct))
}

func (m *Manager) MaxPercent() int {
	return int(atomic.LoadInt32(&m.maxPercent))
}

// DayDir returns the archive-relative day directory for t, e.g. "2024/01/02".
func DayDir(t time.Time) string {
	return filepath.Join(fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", t.Month()), fmt.Sprintf("%02d", t.Day()))
}

// UpdateDailyLinks re-creates the Today and Yesterday symlinks when the
// local calendar day has changed since the last call. The old link is
// removed first; a missing target directory is tolerated (first boot of
// the day, nothing has arrived yet).
func (m *Manager) UpdateDailyLinks(now time.Time) error {
	today := DayDir(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	if today == m.lastLinkDay {
		return nil
	}

	yesterday := DayDir(now.AddDate(0, 0, -1))

	if err := m.relink("Today", today); err != nil {
		return err
	}
	if err := m.relink("Yesterday", yesterday); err != nil {
		return err
	}
	m.lastLinkDay = today
	return nil
}

func (m *Manager) relink(name, target string) error {
	link := filepath.Join(m.root, name)
	_ = os.Remove(link)
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("storage: relink %s: %w", name, err)
	}
	return nil
}

// Top lists the numeric year directories under the archive root, sorted
// ascending.
func (m *Manager) Top() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var years []string
	for _, e := range entries {
		if e.IsDir() && yearDirRe.MatchString(e.Name()) {
			years = append(years, e.Name())
		}
	}
	sort.Strings(years)
	return years, nil
}

// Yearly returns a 13-element slice; index 0 is always false, and index
// 1..12 report whether that month's directory exists under year.
func (m *Manager) Yearly(year string) ([]bool, error) {
	out := make([]bool, 13)
	for month := 1; month <= 12; month++ {
		p := filepath.Join(m.root, year, fmt.Sprintf("%02d", month))
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			out[month] = true
		}
	}
	return out, nil
}

// Monthly reports, per day of the given year/month, whether the day
// directory exists. The walk starts at 02:02:02 local time on the 1st of
// the month and advances by wall-clock days so a DST transition never
// skips or repeats a calendar day.
func (m *Manager) Monthly(year, month string) ([]bool, error) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return nil, fmt.Errorf("storage: bad year %q: %w", year, err)
	}
	mo, err := strconv.Atoi(month)
	if err != nil || mo < 1 || mo > 12 {
		return nil, fmt.Errorf("storage: bad month %q", month)
	}

	var out []bool
	cursor := time.Date(y, time.Month(mo), 1, 2, 2, 2, 0, time.Local)
	for cursor.Month() == time.Month(mo) && cursor.Year() == y {
		p := filepath.Join(m.root, year, month, fmt.Sprintf("%02d", cursor.Day()))
		info, err := os.Stat(p)
		out = append(out, err == nil && info.IsDir())
		cursor = cursor.AddDate(0, 0, 1)
	}
	return out, nil
}
