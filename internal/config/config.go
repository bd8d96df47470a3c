// Package config loads the core's runtime parameters from CLI flags with
// a YAML overlay that supplies defaults and can hot-reload a subset of
// tunables.
package config

import (
	"context"
	"flag"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/pascal-fb-martin/housedvr-go/internal/eventlog"
)

// fileOverlay is the shape of config/default.yaml. Every field is a
// pointer so "absent" and "explicitly zero" are distinguishable when
// the overlay supplies flag defaults.
type fileOverlay struct {
	ServiceTag    *string `yaml:"serviceTag"`
	CheckPeriod   *int    `yaml:"checkPeriodSeconds"`
	QueueCapacity *int    `yaml:"queueCapacity"`
	ArchiveRoot   *string `yaml:"archiveRoot"`
	CleanPercent  *int    `yaml:"cleanPercent"`
	ListenAddr    *string `yaml:"listen"`
	NATSUrl       *string `yaml:"natsUrl"`
	RedisAddr     *string `yaml:"redisAddr"`
}

// Config holds the resolved runtime parameters. CleanPercent is the one
// field the overlay can hot-reload without a restart; everything else
// takes effect only at startup.
type Config struct {
	ServiceTag    string
	CheckPeriod   time.Duration
	QueueCapacity int
	ArchiveRoot   string
	ListenAddr    string
	NATSUrl       string
	RedisAddr     string

	cleanPercent int32
}

func (c *Config) CleanPercent() int { return int(atomic.LoadInt32(&c.cleanPercent)) }

func (c *Config) setCleanPercent(pct int) { atomic.StoreInt32(&c.cleanPercent, int32(pct)) }

// Load parses flags against fs, applying any values found in the YAML
// overlay at overlayPath as flag defaults before parsing, so an explicit
// CLI flag always wins once defaults are seeded from the file.
func Load(fs *flag.FlagSet, args []string, overlayPath string) (*Config, error) {
	overlay, err := loadOverlay(overlayPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	tag := fs.String("dvr-feed", overlayStr(overlay.ServiceTag, "cctv"), "service discovery tag to poll for")
	checkPeriod := fs.Int("dvr-check", overlayInt(overlay.CheckPeriod, 30), "steady-state discovery poll period, seconds")
	queueCap := fs.Int("dvr-queue", overlayInt(overlay.QueueCapacity, 128), "transfer queue capacity (min 16)")
	root := fs.String("dvr-store", overlayStr(overlay.ArchiveRoot, "./dvr"), "archive root directory")
	cleanPct := fs.Int("dvr-clean", overlayInt(overlay.CleanPercent, 0), "disk used-percent threshold that triggers cleanup, 0 disables")
	listen := fs.String("dvr-http", overlayStr(overlay.ListenAddr, ":8080"), "HTTP listen address")
	natsURL := fs.String("dvr-nats", overlayStr(overlay.NATSUrl, ""), "NATS URL for event fan-out, empty disables")
	redisAddr := fs.String("dvr-redis", overlayStr(overlay.RedisAddr, ""), "Redis address for the snapshot store, empty uses the file store")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.ServiceTag = *tag
	cfg.CheckPeriod = time.Duration(*checkPeriod) * time.Second
	cfg.QueueCapacity = *queueCap
	cfg.ArchiveRoot = *root
	cfg.ListenAddr = *listen
	cfg.NATSUrl = *natsURL
	cfg.RedisAddr = *redisAddr
	cfg.setCleanPercent(*cleanPct)
	return cfg, nil
}

func overlayStr(p *string, def string) string {
	if p != nil {
		return *p
	}
	return def
}

func overlayInt(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func loadOverlay(path string) (*fileOverlay, error) {
	overlay := &fileOverlay{}
	if path == "" {
		return overlay, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return overlay, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, overlay); err != nil {
		return nil, err
	}
	return overlay, nil
}

// WatchOverlay re-reads the YAML overlay's cleanPercent field on every
// write/create event, debounced, and applies it to cfg and onReload
// without a restart. Falls back to a no-op (with a trace) if fsnotify
// can't watch the path; there may be no overlay file in this deployment.
func WatchOverlay(ctx context.Context, path string, cfg *Config, onReload func(cleanPercent int), sink eventlog.Sink) {
	if path == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		sink.Trace(eventlog.LevelWarning, "config", "fsnotify: %v", err)
		return
	}
	if err := watcher.Add(path); err != nil {
		sink.Trace(eventlog.LevelWarning, "config", "watch %s: %v", path, err)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				time.Sleep(100 * time.Millisecond) // debounce editor save-replace sequences
				applyOverlay(path, cfg, onReload, sink)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				sink.Trace(eventlog.LevelWarning, "config", "watch error: %v", err)
			}
		}
	}()
}

func applyOverlay(path string, cfg *Config, onReload func(cleanPercent int), sink eventlog.Sink) {
	overlay, err := loadOverlay(path)
	if err != nil {
		sink.Trace(eventlog.LevelWarning, "config", "reload %s: %v", path, err)
		return
	}
	if overlay.CleanPercent != nil {
		cfg.setCleanPercent(*overlay.CleanPercent)
		if onReload != nil {
			onReload(*overlay.CleanPercent)
		}
		sink.Event("config", path, "RELOADED", "cleanPercent updated", map[string]any{"cleanPercent": *overlay.CleanPercent})
	}
}
