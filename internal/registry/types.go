// Package registry is the Discovery & Feed Registry (C1): it polls peer
// feed servers over the two-level check/status protocol, maintains the
// FeedServer and Camera tables, forwards stable recordings to the
// Transfer Queue, enforces the watchdog/prune deadlines, and persists the
// camera name set across restarts.
package registry

import "time"

// FeedServer is one discovered peer.
type FeedServer struct {
	Name        string
	BaseURL     string
	Console     string
	Available   string // as reported by the peer, e.g. "12G"
	Updated     int64  // peer's self-reported generation counter
	LastContact time.Time
	Ring        metricsRing
}

// Camera is one device name attributed to a server.
type Camera struct {
	Name        string // "<server>:<device>"
	Server      string
	StreamURL   string
	LastContact time.Time
	Forgotten   bool // name slot retained for legacy recordings after prune
}

// TransferNotifier is the subset of *transfer.Queue the registry depends
// on, kept as an interface so registry tests don't need a real queue.
type TransferNotifier interface {
	Notify(feed, path string, size int64) bool
}
