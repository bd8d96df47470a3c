// Package eventlog gives the core a place to report peer-transient errors,
// lifecycle events (PRUNED, cleanup, transfer completion) and debug traces
// without scattering log.Printf calls with ad hoc formatting across every
// component.
package eventlog

import (
	"fmt"
	"log"
	"time"
)

// Severity mirrors the disposition levels the core distinguishes: a Trace
// never crashes anything, it just records that a peer-transient operation
// failed this round.
type Severity string

const (
	LevelInfo    Severity = "INFO"
	LevelWarning Severity = "WARNING"
	LevelFailure Severity = "FAILURE"
)

// Event is the structured record published through a Sink. Fields carries
// whatever extra context a component wants attached (camera name, byte
// counts, HTTP status) without forcing every caller to agree on a schema.
type Event struct {
	Time     time.Time      `json:"time"`
	Category string         `json:"category"`
	Target   string         `json:"target"`
	Action   string         `json:"action"`
	Detail   string         `json:"detail"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Sink is the structured event log this core treats as an external
// collaborator. StdSink is the always-available default; NATSSink adds a
// publish fan-out on top of it.
type Sink interface {
	// Event records a discrete occurrence: a server was pruned, a transfer
	// completed, a directory was deleted to free space.
	Event(category, target, action, detail string, fields map[string]any)
	// Trace records a peer-transient or local-recoverable error scoped to
	// an origin (a peer URL, a file path, "BUFFER").
	Trace(level Severity, origin, format string, args ...any)
}

// StdSink formats everything through the standard logger, matching the
// log.Printf("[ERROR] ...") convention used throughout this core.
type StdSink struct{}

func NewStdSink() *StdSink { return &StdSink{} }

func (StdSink) Event(category, target, action, detail string, fields map[string]any) {
	if len(fields) > 0 {
		log.Printf("[%s] %s %s: %s %v", category, target, action, detail, fields)
	} else {
		log.Printf("[%s] %s %s: %s", category, target, action, detail)
	}
}

func (StdSink) Trace(level Severity, origin, format string, args ...any) {
	log.Printf("[%s] %s: %s", level, origin, fmt.Sprintf(format, args...))
}
