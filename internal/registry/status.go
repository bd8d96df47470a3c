package registry

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

var availableRe = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*([kKmMgGtT]?)$`)

// parseAvailable normalizes a peer-reported "available" string (e.g.
// "12G", "512M", "2.5T") to megabytes, so ServerMetricsRing samples are
// comparable across units. Unparseable input, or a unit other than
// K/M/G/T, yields 0.
func parseAvailable(raw string) float64 {
	m := availableRe.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch m[2] {
	case "k", "K":
		return value / 1024
	case "", "m", "M":
		return value
	case "g", "G":
		return value * 1024
	case "t", "T":
		return value * 1024 * 1024
	default:
		return value
	}
}

func formatMB(mb float64) string {
	return fmt.Sprintf("%d MB", int64(mb))
}

type serverView struct {
	Name      string `json:"name"`
	Console   string `json:"console,omitempty"`
	Available string `json:"available,omitempty"`
	Space     string `json:"space"`
}

type cameraView struct {
	Name      string `json:"name"`
	Server    string `json:"server,omitempty"`
	StreamURL string `json:"url,omitempty"`
}

// Status emits the {"servers":[...], "feed":[...]} fragment, sorted by
// name for a stable document across ticks.
func (r *Registry) Status() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	servers := make([]serverView, 0, len(r.servers))
	for _, srv := range r.servers {
		// Space is the peer's most recent report; the minute ring only
		// feeds the hourly sensor rollup, never this view.
		servers = append(servers, serverView{
			Name:      srv.Name,
			Console:   srv.Console,
			Available: srv.Available,
			Space:     formatMB(parseAvailable(srv.Available)),
		})
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })

	cameras := make([]cameraView, 0, len(r.cameras))
	for _, cam := range r.cameras {
		if cam.Forgotten {
			continue
		}
		cameras = append(cameras, cameraView{
			Name:      cam.Name,
			Server:    cam.Server,
			StreamURL: cam.StreamURL,
		})
	}
	sort.Slice(cameras, func(i, j int) bool { return cameras[i].Name < cameras[j].Name })

	return map[string]any{
		"servers": servers,
		"feed":    cameras,
	}
}
