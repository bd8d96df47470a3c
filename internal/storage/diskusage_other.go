//go:build !linux

package storage

import "golang.org/x/sys/unix"

// usedPercent falls back to a single block-size unit on platforms whose
// statfs struct has no distinct fragment size (darwin, bsd).
func usedPercent(path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	total := float64(st.Blocks) * float64(st.Bsize)
	avail := float64(st.Bavail) * float64(st.Bsize)
	if total == 0 {
		return 0, nil
	}
	return (total - avail) * 100 / total, nil
}
