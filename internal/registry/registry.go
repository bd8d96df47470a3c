package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pascal-fb-martin/housedvr-go/internal/eventlog"
	"github.com/pascal-fb-martin/housedvr-go/internal/metrics"
	"github.com/pascal-fb-martin/housedvr-go/internal/sdiscovery"
	"github.com/pascal-fb-martin/housedvr-go/internal/snapshot"
)

const (
	// startupGrace is the window after boot during which checkPeriod is
	// forced down to startupCheckPeriod to recover quickly from a power
	// cycle where peer start order is arbitrary.
	startupGrace       = 60 * time.Second
	startupCheckPeriod = 10 * time.Second

	fullScanInterval = 5 * time.Minute
	rushFullScan     = 10 * time.Second

	pruneDeadline = 180 * time.Second
	pruneInterval = 10 * time.Second
	watchdogLimit = 300 * time.Second

	snapshotKey = "cameras"
)

// Registry is C1: the discovery/feed registry.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*FeedServer // by server name
	cameras map[string]*Camera     // by "<server>:<device>"

	tag         string
	checkPeriod time.Duration

	startTime    time.Time
	nextScanAt   time.Time
	nextFullScan time.Time
	lastPrune    time.Time

	lastServerContact time.Time
	lastCameraContact time.Time

	dirty    bool
	started  bool
	scanning bool

	resolver sdiscovery.Resolver
	transfer TransferNotifier
	snap     snapshot.Store
	sink     eventlog.Sink
	client   *http.Client
}

// New builds a registry. checkPeriod is the steady-state discovery
// interval (30s in a default deployment); tag is the service-discovery
// tag (default "cctv").
func New(tag string, checkPeriod time.Duration, resolver sdiscovery.Resolver, transfer TransferNotifier, snap snapshot.Store, sink eventlog.Sink) *Registry {
	return &Registry{
		servers:     make(map[string]*FeedServer),
		cameras:     make(map[string]*Camera),
		tag:         tag,
		checkPeriod: checkPeriod,
		resolver:    resolver,
		transfer:    transfer,
		snap:        snap,
		sink:        sink,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Start records boot time and seeds the watchdog baseline so the 300s
// no-contact counters run from process start rather than from zero time,
// which would otherwise fire the watchdog immediately on a cold start
// with no peers yet discovered.
func (r *Registry) Start(ctx context.Context, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.startTime = now
	r.lastServerContact = now
	r.lastCameraContact = now
	r.lastPrune = now
	r.nextFullScan = now

	if data, err := r.snap.Load(ctx, snapshotKey); err == nil {
		r.restoreCamerasLocked(data)
	} else if err != snapshot.ErrNotFound {
		r.sink.Trace(eventlog.LevelWarning, "registry", "restore cameras: %v", err)
	}
}

func (r *Registry) restoreCamerasLocked(data []byte) {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		r.sink.Trace(eventlog.LevelWarning, "registry", "restore cameras: bad snapshot: %v", err)
		return
	}
	for _, name := range names {
		server := ""
		if i := strings.LastIndex(name, ":"); i >= 0 {
			server = name[:i]
		}
		r.cameras[name] = &Camera{Name: name, Server: server, Forgotten: true}
	}
}

// effectiveCheckPeriod applies the startup-acceleration window.
func (r *Registry) effectiveCheckPeriod(now time.Time) time.Duration {
	if now.Sub(r.startTime) < startupGrace {
		return startupCheckPeriod
	}
	return r.checkPeriod
}

// Tick drives one iteration of the cooperative event loop: pruning,
// watchdog check, persistence, and (if due) kicking off a discovery round.
// The round itself runs on its own goroutine rather than inline: per-peer
// HTTP round-trips must never stall the shared ticker that also drives
// the transfer queue and storage cleanup. A round already in flight is
// never overlapped with another.
func (r *Registry) Tick(ctx context.Context, now time.Time) {
	r.pruneIfDue(now)
	r.checkWatchdog(now)
	r.persistIfDirty(ctx)

	r.mu.Lock()
	due := !now.Before(r.nextScanAt) && !r.scanning
	if !due {
		r.mu.Unlock()
		return
	}
	full := !now.Before(r.nextFullScan)
	if full {
		// Scheduled before the round starts, so a recording enqueued
		// during this round can still bring the next full scan forward.
		r.nextFullScan = now.Add(fullScanInterval)
	}
	r.scanning = true
	r.nextScanAt = now.Add(r.effectiveCheckPeriod(now))
	r.mu.Unlock()

	go r.runScan(ctx, now, full)
}

// runScan executes one discovery round off the ticker goroutine.
func (r *Registry) runScan(ctx context.Context, now time.Time, full bool) {
	start := time.Now()
	r.runDiscoveryRound(ctx, now, full)
	metrics.DiscoveryScanDuration.Observe(time.Since(start).Seconds())

	r.mu.Lock()
	r.scanning = false
	r.mu.Unlock()
}

// rushFullScanLocked brings the next full scan forward, used when a
// recording is newly enqueued so its confirmation comes quickly.
func (r *Registry) rushFullScanLocked(now time.Time) {
	candidate := now.Add(rushFullScan)
	if candidate.Before(r.nextFullScan) {
		r.nextFullScan = candidate
	}
}

// runDiscoveryRound polls every discovered peer concurrently. One peer's
// slow or unreachable HTTP round-trip must not delay another's; per-peer
// results are independent and may land in any order.
func (r *Registry) runDiscoveryRound(ctx context.Context, now time.Time, full bool) {
	peers, err := r.resolver.Discover(ctx, r.tag)
	if err != nil {
		r.sink.Trace(eventlog.LevelWarning, "discovery", "resolve %s: %v", r.tag, err)
		metrics.DiscoveryScansTotal.WithLabelValues("resolve_error").Inc()
		return
	}
	var wg sync.WaitGroup
	for _, base := range peers {
		wg.Add(1)
		go func(base string) {
			defer wg.Done()
			if full {
				r.fetchStatus(ctx, base, now)
				return
			}
			r.checkPeer(ctx, base, now)
		}(base)
	}
	wg.Wait()
	metrics.DiscoveryScansTotal.WithLabelValues("ok").Inc()
}

// checkPeer issues the cheap /check probe and upgrades to a full /status
// fetch when the peer's updated counter has moved, or when /check itself
// isn't implemented (401).
func (r *Registry) checkPeer(ctx context.Context, base string, now time.Time) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/check", nil)
	if err != nil {
		r.sink.Trace(eventlog.LevelWarning, base, "build check request: %v", err)
		return
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.sink.Trace(eventlog.LevelWarning, base, "check: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		r.fetchStatus(ctx, base, now)
		return
	}
	if resp.StatusCode != http.StatusOK {
		r.sink.Trace(eventlog.LevelWarning, base, "check: status %d", resp.StatusCode)
		return
	}

	var body struct {
		Host    string `json:"host"`
		Updated int64  `json:"updated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		r.sink.Trace(eventlog.LevelWarning, base, "check: decode: %v", err)
		return
	}

	r.mu.Lock()
	srv, known := r.servers[body.Host]
	unchanged := known && body.Updated != 0 && body.Updated == srv.Updated
	if unchanged {
		srv.LastContact = now
		r.lastServerContact = now
	}
	r.mu.Unlock()

	if unchanged {
		return
	}
	r.fetchStatus(ctx, base, now)
}

type statusDoc struct {
	Host    string `json:"host"`
	Updated int64  `json:"updated"`
	CCTV    struct {
		Console    string            `json:"console"`
		Available  string            `json:"available"`
		Feeds      map[string]string `json:"feeds"`
		Recordings []json.RawMessage `json:"recordings"`
	} `json:"cctv"`
}

func (r *Registry) fetchStatus(ctx context.Context, base string, now time.Time) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/status", nil)
	if err != nil {
		r.sink.Trace(eventlog.LevelWarning, base, "build status request: %v", err)
		return
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.sink.Trace(eventlog.LevelWarning, base, "status: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.sink.Trace(eventlog.LevelWarning, base, "status: http %d", resp.StatusCode)
		return
	}

	var doc statusDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		r.sink.Trace(eventlog.LevelWarning, base, "status: decode: %v", err)
		return
	}
	if doc.Host == "" {
		r.sink.Trace(eventlog.LevelWarning, base, "status: missing host")
		return
	}
	if len(doc.CCTV.Feeds) == 0 {
		r.sink.Trace(eventlog.LevelWarning, base, "status: empty feeds")
		return
	}

	r.handleStatus(base, doc, now)
}

func (r *Registry) handleStatus(base string, doc statusDoc, now time.Time) {
	r.mu.Lock()
	srv, known := r.servers[doc.Host]
	if !known {
		srv = &FeedServer{Name: doc.Host, BaseURL: base}
		r.servers[doc.Host] = srv
		metrics.ServersKnown.Set(float64(len(r.servers)))
	}
	srv.BaseURL = base
	srv.Console = doc.CCTV.Console
	srv.Available = doc.CCTV.Available
	if doc.Updated != 0 {
		srv.Updated = doc.Updated
	}
	srv.LastContact = now
	if rolledMin, rolled := srv.Ring.sample(now, parseAvailable(doc.CCTV.Available)); rolled {
		r.sink.Event("registry", srv.Name, "SENSOR", "hourly minimum available space", map[string]any{"availableMB": rolledMin})
	}
	r.lastServerContact = now

	seen := make(map[string]bool, len(doc.CCTV.Feeds))
	for device, streamURL := range doc.CCTV.Feeds {
		name := doc.Host + ":" + device
		seen[name] = true
		cam, known := r.cameras[name]
		if !known {
			cam = &Camera{Name: name}
			r.cameras[name] = cam
			r.markDirtyLocked()
		}
		cam.Server = doc.Host
		cam.StreamURL = streamURL
		cam.LastContact = now
		cam.Forgotten = false
	}
	// Cameras previously attributed to this peer but absent from this
	// confirmed list are pruned immediately; the peer positively
	// confirmed its current set.
	cutoff := now.Add(-(r.checkPeriod - time.Second))
	for name, cam := range r.cameras {
		if cam.Server != doc.Host || cam.Forgotten || seen[name] {
			continue
		}
		if cam.LastContact.Before(cutoff) {
			cam.Forgotten = true
			cam.StreamURL = ""
			r.sink.Event("registry", name, "PRUNED", "camera absent from confirmed peer list", nil)
		}
	}
	metrics.CamerasKnown.Set(float64(len(r.cameras)))
	r.lastCameraContact = now

	recordings := doc.CCTV.Recordings
	r.mu.Unlock()

	r.handleRecordings(base, doc.Host, recordings, now)
}

// handleRecordings forwards every stable tuple to the transfer queue.
func (r *Registry) handleRecordings(base, host string, raw []json.RawMessage, now time.Time) {
	for _, entry := range raw {
		var tuple []json.RawMessage
		if err := json.Unmarshal(entry, &tuple); err != nil || len(tuple) < 3 {
			r.sink.Trace(eventlog.LevelWarning, base, "recording tuple: %v", err)
			continue
		}
		var epoch int64
		var path string
		var size int64
		if err := json.Unmarshal(tuple[0], &epoch); err != nil {
			continue
		}
		if err := json.Unmarshal(tuple[1], &path); err != nil {
			continue
		}
		if err := json.Unmarshal(tuple[2], &size); err != nil {
			continue
		}
		stable := now.Unix()-epoch > 60
		if len(tuple) >= 4 {
			var explicit bool
			if err := json.Unmarshal(tuple[3], &explicit); err == nil {
				stable = explicit
			}
		}
		if !stable {
			continue
		}
		if r.transfer.Notify(base, path, size) {
			r.mu.Lock()
			r.rushFullScanLocked(now)
			r.mu.Unlock()
		}
	}
}

func (r *Registry) markDirtyLocked() {
	if time.Since(r.startTime) < startupGrace {
		return
	}
	r.dirty = true
}

func (r *Registry) persistIfDirty(ctx context.Context) {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return
	}
	names := make([]string, 0, len(r.cameras))
	for name := range r.cameras {
		names = append(names, name)
	}
	r.dirty = false
	r.mu.Unlock()

	sort.Strings(names)
	data, err := json.Marshal(names)
	if err != nil {
		r.sink.Trace(eventlog.LevelWarning, "registry", "marshal cameras: %v", err)
		return
	}
	if err := r.snap.Save(ctx, snapshotKey, data); err != nil {
		r.sink.Trace(eventlog.LevelWarning, "registry", "save cameras: %v", err)
	}
}

// pruneIfDue clears stale FeedServer and Camera entries every 10s.
func (r *Registry) pruneIfDue(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.lastPrune) < pruneInterval {
		return
	}
	r.lastPrune = now

	cutoff := now.Add(-pruneDeadline)
	for name, srv := range r.servers {
		if srv.LastContact.After(cutoff) {
			continue
		}
		delete(r.servers, name)
		r.sink.Event("registry", name, "PRUNED", "server contact deadline exceeded", nil)
	}
	metrics.ServersKnown.Set(float64(len(r.servers)))

	for name, cam := range r.cameras {
		if cam.Forgotten || cam.LastContact.IsZero() || cam.LastContact.After(cutoff) {
			continue
		}
		cam.Forgotten = true
		cam.Server = ""
		cam.StreamURL = ""
		r.sink.Event("registry", name, "PRUNED", "camera contact deadline exceeded", nil)
	}
}

// checkWatchdog aborts the process if either watchdog counter has run
// past the 300s limit while the registry still holds entries. A wedged
// discovery facility is worse than a supervisor-driven restart.
func (r *Registry) checkWatchdog(now time.Time) {
	r.mu.Lock()
	hasServers := len(r.servers) > 0
	hasCameras := len(r.cameras) > 0
	serverStale := now.Sub(r.lastServerContact)
	cameraStale := now.Sub(r.lastCameraContact)
	r.mu.Unlock()

	if hasServers && serverStale > watchdogLimit {
		panic(fmt.Sprintf("registry: serverWatchdog exceeded %s with no contact (supervisor restart expected)", watchdogLimit))
	}
	if hasCameras && cameraStale > watchdogLimit {
		panic(fmt.Sprintf("registry: feedWatchdog exceeded %s with no contact (supervisor restart expected)", watchdogLimit))
	}
}
