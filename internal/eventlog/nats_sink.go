package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes every event as JSON to a subject, in addition to the
// plain log line StdSink already writes, so an operator can tail /var/log
// or subscribe a downstream consumer without choosing one or the other.
// A failed publish is retried maxRetries times with a short, growing
// sleep in the caller, then spooled to a local file and replayed on a
// timer, so a broker outage never silently drops an event.
type NATSSink struct {
	std        StdSink
	conn       *nats.Conn
	subject    string
	maxRetries int

	spoolDir string
	mu       sync.Mutex
}

// NewNATSSink wires a sink that also fans events out to NATS. spoolDir
// holds events that failed to publish; pass "" to disable spooling (the
// event is then only logged via StdSink on failure).
func NewNATSSink(conn *nats.Conn, subject string, maxRetries int, spoolDir string) *NATSSink {
	if subject == "" {
		subject = "cctv.events"
	}
	if spoolDir != "" {
		_ = os.MkdirAll(spoolDir, 0750)
	}
	return &NATSSink{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
		spoolDir:   spoolDir,
	}
}

func (s *NATSSink) Event(category, target, action, detail string, fields map[string]any) {
	s.std.Event(category, target, action, detail, fields)
	s.publish(Event{
		Time:     time.Now(),
		Category: category,
		Target:   target,
		Action:   action,
		Detail:   detail,
		Fields:   fields,
	})
}

func (s *NATSSink) Trace(level Severity, origin, format string, args ...any) {
	s.std.Trace(level, origin, format, args...)
	s.publish(Event{
		Time:     time.Now(),
		Category: string(level),
		Target:   origin,
		Action:   "TRACE",
		Detail:   fmt.Sprintf(format, args...),
	})
}

func (s *NATSSink) publish(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}

	var pubErr error
	for i := 0; i <= s.maxRetries; i++ {
		pubErr = s.conn.Publish(s.subject, data)
		if pubErr == nil {
			return
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	if s.spoolDir != "" {
		s.spool(data)
	}
}

func (s *NATSSink) spoolFile() string {
	return filepath.Join(s.spoolDir, "events.spool")
}

func (s *NATSSink) spool(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.spoolFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		log.Printf("[WARNING] eventlog: failed to spool event: %v", err)
		return
	}
	defer f.Close()
	f.Write(append(line, '\n'))
}

// StartReplayer periodically retries spooled events against NATS. It
// returns immediately; the replay loop runs in its own goroutine until
// stop is closed.
func (s *NATSSink) StartReplayer(stop <-chan struct{}) {
	if s.spoolDir == "" {
		return
	}
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.replay()
			}
		}
	}()
}

func (s *NATSSink) replay() {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.spoolFile()
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return
	}

	replayPath := path + fmt.Sprintf(".replay-%d", time.Now().UnixNano())
	if err := os.Rename(path, replayPath); err != nil {
		return
	}
	defer os.Remove(replayPath)

	f, err := os.Open(replayPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var flushed int
	for scanner.Scan() {
		line := scanner.Bytes()
		if err := s.conn.Publish(s.subject, line); err != nil {
			// Couldn't flush this one, keep it for next time.
			s.appendRaw(line)
			continue
		}
		flushed++
	}
	if flushed > 0 {
		log.Printf("[INFO] eventlog: replayed %d spooled events", flushed)
	}
}

// appendRaw re-spools a line outside the normal lock (replay already holds it).
func (s *NATSSink) appendRaw(line []byte) {
	f, err := os.OpenFile(s.spoolFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	f.Write(append(append([]byte{}, line...), '\n'))
}
