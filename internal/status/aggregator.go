// Package status composes the combined /dvr/status document from the
// registry, storage and transfer components without holding any state of
// its own.
package status

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/pascal-fb-martin/housedvr-go/internal/eventlog"
	"github.com/pascal-fb-martin/housedvr-go/internal/transfer"
)

// maxDocumentBytes bounds the combined document; anything past this is
// dropped and the request answered 413 so a runaway section can never
// produce an unbounded response.
const maxDocumentBytes = 1 << 20

// RegistrySection produces the {"servers":[...],"feed":[...]} fragment.
type RegistrySection interface {
	Status() map[string]any
}

// TransferSection produces the queue fragment.
type TransferSection interface {
	Status() []transfer.Slot
	Depth() int
}

// StorageSection produces the storage fragment.
type StorageSection interface {
	Status() (map[string]any, error)
}

// Aggregator wires the three owning components together. Proxy is the
// externally visible base URL this instance advertises itself under
// (used by UIs/peers to build absolute links); it may be empty.
type Aggregator struct {
	Host     string
	Proxy    string
	Registry RegistrySection
	Storage  StorageSection
	Queue    TransferSection
	Sink     eventlog.Sink
}

// Build assembles the combined document. Any per-section error is
// reported and that section becomes an empty object rather than failing
// the whole request; a feed glitch shouldn't hide storage/queue health.
func (a *Aggregator) Build(now time.Time) map[string]any {
	dvr := map[string]any{}

	if a.Registry != nil {
		for k, v := range a.Registry.Status() {
			dvr[k] = v
		}
	}
	if a.Storage != nil {
		if s, err := a.Storage.Status(); err == nil {
			dvr["storage"] = s
		} else {
			a.trace("storage status: %v", err)
			dvr["storage"] = map[string]any{}
		}
	}
	if a.Queue != nil {
		dvr["queue"] = a.Queue.Status()
	}

	return map[string]any{
		"host":      a.Host,
		"proxy":     a.Proxy,
		"timestamp": now.Unix(),
		"dvr":       dvr,
	}
}

func (a *Aggregator) trace(format string, args ...any) {
	if a.Sink != nil {
		a.Sink.Trace(eventlog.LevelWarning, "status", format, args...)
	}
}

// Handler serves GET /dvr/status. If the encoded document would exceed
// maxDocumentBytes the response is 413 with an overflow trace and no
// partial body.
func (a *Aggregator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := a.Build(time.Now())

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		if err := enc.Encode(doc); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if buf.Len() > maxDocumentBytes {
			a.trace("status document overflow: %d bytes", buf.Len())
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(buf.Bytes())
	}
}

// Healthz reports process liveness and whether the archive root is
// writable.
func Healthz(root string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		probe := root + "/.healthz-probe"
		f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			http.Error(w, "archive root not writable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		f.Close()
		os.Remove(probe)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}
}
