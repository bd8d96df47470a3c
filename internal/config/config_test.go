package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pascal-fb-martin/housedvr-go/internal/eventlog"
)

func TestLoadAppliesOverlayDefaultsBeforeFlags(t *testing.T) {
	dir := t.TempDir()
	overlay := filepath.Join(dir, "default.yaml")
	require.NoError(t, os.WriteFile(overlay, []byte("serviceTag: fromfile\ncleanPercent: 70\n"), 0640))

	cfg, err := Load(flag.NewFlagSet("t", flag.ContinueOnError), nil, overlay)
	require.NoError(t, err)
	assert.Equal(t, "fromfile", cfg.ServiceTag)
	assert.Equal(t, 70, cfg.CleanPercent())

	cfg2, err := Load(flag.NewFlagSet("t2", flag.ContinueOnError), []string{"-dvr-feed=fromflag"}, overlay)
	require.NoError(t, err)
	assert.Equal(t, "fromflag", cfg2.ServiceTag, "an explicit CLI flag overrides the overlay default")
}

func TestLoadMissingOverlayFallsBackToBuiltinDefaults(t *testing.T) {
	cfg, err := Load(flag.NewFlagSet("t", flag.ContinueOnError), nil, filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "cctv", cfg.ServiceTag)
	assert.Equal(t, 128, cfg.QueueCapacity)
}

func TestApplyOverlayUpdatesCleanPercentAndNotifiesCallback(t *testing.T) {
	dir := t.TempDir()
	overlay := filepath.Join(dir, "default.yaml")
	require.NoError(t, os.WriteFile(overlay, []byte("cleanPercent: 50\n"), 0640))

	cfg, err := Load(flag.NewFlagSet("t", flag.ContinueOnError), nil, overlay)
	require.NoError(t, err)

	var notified int
	onReload := func(pct int) { notified = pct }

	require.NoError(t, os.WriteFile(overlay, []byte("cleanPercent: 85\n"), 0640))
	applyOverlay(overlay, cfg, onReload, eventlog.NewStdSink())

	assert.Equal(t, 85, cfg.CleanPercent())
	assert.Equal(t, 85, notified, "reload must propagate to the storage manager's hot-reload hook, not just cfg")
}
