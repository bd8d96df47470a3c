//go:build linux

package storage

import "golang.org/x/sys/unix"

// usedPercent computes the fraction of the filesystem backing path that
// is in use. Blocks and fragments carry distinct unit fields and must
// not be conflated: used = blocks*frsize - bavail*bsize.
func usedPercent(path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	total := float64(st.Blocks) * float64(st.Frsize)
	avail := float64(st.Bavail) * float64(st.Bsize)
	if total == 0 {
		return 0, nil
	}
	return (total - avail) * 100 / total, nil
}
