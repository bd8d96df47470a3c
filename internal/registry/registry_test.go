package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pascal-fb-martin/housedvr-go/internal/eventlog"
	"github.com/pascal-fb-martin/housedvr-go/internal/sdiscovery"
	"github.com/pascal-fb-martin/housedvr-go/internal/snapshot"
)

// rawTuples marshals a list of recording tuples (each []any of
// [epoch, path, size] or [epoch, path, size, stable]) into the
// []json.RawMessage shape handleRecordings expects off the wire.
func rawTuples(t *testing.T, tuples []any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(tuples))
	for _, tuple := range tuples {
		data, err := json.Marshal(tuple)
		require.NoError(t, err)
		out = append(out, json.RawMessage(data))
	}
	return out
}

type fakeNotifier struct {
	calls []string
}

func (f *fakeNotifier) Notify(feed, path string, size int64) bool {
	f.calls = append(f.calls, path)
	return true
}

func newTestRegistry(t *testing.T, resolver sdiscovery.Resolver) (*Registry, *fakeNotifier) {
	t.Helper()
	notifier := &fakeNotifier{}
	store := snapshot.NewFileStore(t.TempDir())
	reg := New("cctv", 30*time.Second, resolver, notifier, store, eventlog.NewStdSink())
	reg.Start(context.Background(), time.Now())
	return reg, notifier
}

func TestParseAvailableUnits(t *testing.T) {
	cases := map[string]float64{
		"12G":   12288,
		"512M":  512,
		"2T":    2 * 1024 * 1024,
		"2048K": 2,
		"":      0,
		"bogus": 0,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseAvailable(in), "input %q", in)
	}
}

func TestHandleStatusUpsertsServerAndCameras(t *testing.T) {
	reg, notifier := newTestRegistry(t, sdiscovery.NewStaticResolver(nil))

	doc := statusDoc{Host: "p1", Updated: 42}
	doc.CCTV.Console = "http://p1/ui"
	doc.CCTV.Available = "12G"
	doc.CCTV.Feeds = map[string]string{"a": "http://p1/a/stream"}

	reg.handleStatus("http://p1:8080", doc, time.Now())

	status := reg.Status()
	servers := status["servers"].([]serverView)
	require.Len(t, servers, 1)
	assert.Equal(t, "p1", servers[0].Name)
	assert.Equal(t, "12288 MB", servers[0].Space)

	feed := status["feed"].([]cameraView)
	require.Len(t, feed, 1)
	assert.Equal(t, "p1:a", feed[0].Name)

	assert.Empty(t, notifier.calls, "no recordings in this status doc")
}

func TestHandleRecordingsForwardsOnlyStableEntries(t *testing.T) {
	reg, notifier := newTestRegistry(t, sdiscovery.NewStaticResolver(nil))

	now := time.Now()
	raw := rawTuples(t, []any{
		[]any{now.Unix(), "2024/01/02/fresh.mkv", 100, false}, // explicit not-stable
		[]any{now.Add(-2 * time.Minute).Unix(), "2024/01/02/old.mkv", 100},
		[]any{now.Unix(), "2024/01/02/explicit.mkv", 100, true},
	})

	reg.handleRecordings("http://p1", "p1", raw, now)

	assert.ElementsMatch(t, []string{"2024/01/02/old.mkv", "2024/01/02/explicit.mkv"}, notifier.calls)
}

func TestPruneDeletesServerAfterDeadline(t *testing.T) {
	reg, _ := newTestRegistry(t, sdiscovery.NewStaticResolver(nil))

	doc := statusDoc{Host: "p1"}
	doc.CCTV.Feeds = map[string]string{"a": "http://p1/a"}
	reg.handleStatus("http://p1", doc, time.Now().Add(-200*time.Second))

	reg.mu.Lock()
	reg.lastPrune = time.Time{}
	reg.mu.Unlock()

	reg.pruneIfDue(time.Now())

	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, known := reg.servers["p1"]
	assert.False(t, known, "server past the 180s prune deadline must be deleted")

	cam, known := reg.cameras["p1:a"]
	require.True(t, known, "camera name slot must be retained for legacy recordings")
	assert.True(t, cam.Forgotten)
	assert.Empty(t, cam.StreamURL)
}

func TestDeclareHandlerRegistersLegacyPeer(t *testing.T) {
	reg, _ := newTestRegistry(t, sdiscovery.NewStaticResolver(nil))

	form := url.Values{
		"name":      {"legacy1"},
		"admin":     {"legacy1/ui"},
		"url":       {"legacy1:8080"},
		"available": {"5G"},
		"devices":   {"front+back"},
	}
	req := httptest.NewRequest(http.MethodPost, "/dvr/source/declare", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	reg.DeclareHandler(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	status := reg.Status()
	feed := status["feed"].([]cameraView)
	require.Len(t, feed, 2)
	assert.Equal(t, "http://legacy1:8080/front/stream", feed[1].StreamURL)
}

func TestDeclareHandlerIgnoresIncompleteForm(t *testing.T) {
	cases := map[string]url.Values{
		"only name": {"name": {"legacy1"}},
		"no available": {
			"name":    {"legacy1"},
			"url":     {"legacy1:8080"},
			"devices": {"front"},
		},
		"no url": {
			"name":      {"legacy1"},
			"available": {"5G"},
			"devices":   {"front"},
		},
	}
	for label, form := range cases {
		reg, _ := newTestRegistry(t, sdiscovery.NewStaticResolver(nil))

		req := httptest.NewRequest(http.MethodPost, "/dvr/source/declare", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()

		reg.DeclareHandler(w, req)
		assert.Equal(t, http.StatusOK, w.Code, label)

		status := reg.Status()
		assert.Empty(t, status["servers"].([]serverView), label)
	}
}

func TestStatusReportsLiveAvailableNotRingMinimum(t *testing.T) {
	reg, _ := newTestRegistry(t, sdiscovery.NewStaticResolver(nil))

	doc := statusDoc{Host: "p1"}
	doc.CCTV.Feeds = map[string]string{"a": "http://p1/a"}

	now := time.Now()
	doc.CCTV.Available = "20G"
	reg.handleStatus("http://p1", doc, now)
	doc.CCTV.Available = "2G"
	reg.handleStatus("http://p1", doc, now.Add(time.Minute))
	doc.CCTV.Available = "20G"
	reg.handleStatus("http://p1", doc, now.Add(2*time.Minute))

	servers := reg.Status()["servers"].([]serverView)
	require.Len(t, servers, 1)
	assert.Equal(t, "20G", servers[0].Available)
	assert.Equal(t, "20480 MB", servers[0].Space, "a transient low sample must not depress the reported space")
}
