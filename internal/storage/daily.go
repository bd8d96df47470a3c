package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// filenameRe parses "<HH-MM-SS>-<camera>[:<seq>].<ext>".
var filenameRe = regexp.MustCompile(`^(\d{2}-\d{2}-\d{2})-(.+)\.([a-zA-Z0-9]+)$`)

var videoExts = map[string]bool{"mkv": true, "mp4": true, "avi": true}

// Entry is one recording listed by the daily browse endpoint.
type Entry struct {
	Src   string `json:"src"`
	Time  string `json:"time"`
	Size  int64  `json:"size"`
	Video string `json:"video"`
	Image string `json:"image,omitempty"`
}

// Daily lists the recordings in one day directory. The .jpg sibling of a
// video, if present, is folded into that video's Image field rather than
// listed as its own entry.
func (m *Manager) Daily(year, month, day string) ([]Entry, error) {
	dir := filepath.Join(m.root, year, month, day)
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, err
	}

	thumbs := map[string]bool{}
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".jpg") {
			thumbs[strings.TrimSuffix(f.Name(), ".jpg")] = true
		}
	}

	var out []Entry
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		m := filenameRe.FindStringSubmatch(f.Name())
		if m == nil {
			continue
		}
		hhmmss, src, ext := m[1], m[2], strings.ToLower(m[3])
		if !videoExts[ext] {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		base := strings.TrimSuffix(f.Name(), "."+ext)
		entry := Entry{
			Src:   stripSeq(src),
			Time:  hhmmss,
			Size:  info.Size(),
			Video: fmt.Sprintf("/dvr/storage/videos/%s/%s/%s/%s", year, month, day, f.Name()),
		}
		if thumbs[base] {
			entry.Image = fmt.Sprintf("/dvr/storage/videos/%s/%s/%s/%s.jpg", year, month, day, base)
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

// stripSeq removes a trailing ":<seq>" camera-name suffix.
func stripSeq(src string) string {
	if i := strings.LastIndex(src, ":"); i >= 0 {
		return src[:i]
	}
	return src
}
