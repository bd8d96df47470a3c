package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/pascal-fb-martin/housedvr-go/internal/config"
	"github.com/pascal-fb-martin/housedvr-go/internal/eventlog"
	"github.com/pascal-fb-martin/housedvr-go/internal/metrics"
	"github.com/pascal-fb-martin/housedvr-go/internal/registry"
	"github.com/pascal-fb-martin/housedvr-go/internal/sdiscovery"
	"github.com/pascal-fb-martin/housedvr-go/internal/snapshot"
	"github.com/pascal-fb-martin/housedvr-go/internal/status"
	"github.com/pascal-fb-martin/housedvr-go/internal/storage"
	"github.com/pascal-fb-martin/housedvr-go/internal/transfer"
)

// tickInterval is the event loop's cadence. The registry wants roughly
// one-second resolution; the storage and transfer ticks piggyback on the
// same ticker since neither needs anything finer.
const tickInterval = 1 * time.Second

func main() {
	instanceID := uuid.NewString()
	log.Printf("[INFO] housedvr starting, instance %s", instanceID)

	cfg, err := config.Load(flag.NewFlagSet("housedvr", flag.ExitOnError), os.Args[1:], "config/default.yaml")
	if err != nil {
		log.Fatalf("[FAILURE] config: %v", err)
	}

	sink := buildSink(cfg)
	if natsSink, ok := sink.(*eventlog.NATSSink); ok {
		stop := make(chan struct{})
		natsSink.StartReplayer(stop)
		defer close(stop)
	}
	sink.Event("core", instanceID, "START", "housedvr starting", map[string]any{"archiveRoot": cfg.ArchiveRoot})

	snap := buildSnapshotStore(cfg)

	if err := os.MkdirAll(cfg.ArchiveRoot, 0750); err != nil {
		log.Fatalf("[FAILURE] archive root %s: %v", cfg.ArchiveRoot, err)
	}
	storageMgr := storage.New(cfg.ArchiveRoot, cfg.CleanPercent())

	queue := transfer.New(cfg.QueueCapacity, storageMgr.Root, sink)

	var resolver sdiscovery.Resolver = sdiscovery.NewMulticastResolver()
	reg := registry.New(cfg.ServiceTag, cfg.CheckPeriod, resolver, queue, snap, sink)

	hostname, _ := os.Hostname()
	agg := &status.Aggregator{
		Host:     hostname,
		Registry: reg,
		Storage:  storageMgr,
		Queue:    queue,
		Sink:     sink,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.Start(ctx, time.Now())
	config.WatchOverlay(ctx, "config/default.yaml", cfg, storageMgr.SetMaxPercent, sink)

	mux := buildMux(reg, storageMgr, queue, agg, cfg)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Printf("[INFO] http listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[FAILURE] http server: %v", err)
		}
	}()

	go runEventLoop(ctx, reg, storageMgr, queue, sink)

	waitForShutdown()

	sink.Event("core", instanceID, "STOP", "housedvr stopping", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARNING] http shutdown: %v", err)
	}
	cancel()
}

// runEventLoop is the single ticker goroutine that drives all three
// components' writes. A component's own invariant-assertion panic here
// is intentional: it propagates out of this goroutine and crashes the
// process so a supervisor can restart it, rather than letting corrupted
// state limp along.
func runEventLoop(ctx context.Context, reg *registry.Registry, storageMgr *storage.Manager, queue *transfer.Queue, sink eventlog.Sink) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	lastStorageTick := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			reg.Tick(ctx, now)
			queue.Tick()
			if now.Sub(lastStorageTick) >= 60*time.Second {
				storageMgr.Tick(now, sink)
				lastStorageTick = now
			}
		}
	}
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func buildMux(reg *registry.Registry, storageMgr *storage.Manager, queue *transfer.Queue, agg *status.Aggregator, cfg *config.Config) *http.ServeMux {
	mux := http.NewServeMux()

	storageHandler := storage.NewHandler(storageMgr)
	mux.HandleFunc("GET /dvr/storage/top", storageHandler.Top)
	mux.HandleFunc("GET /dvr/storage/yearly", storageHandler.Yearly)
	mux.HandleFunc("GET /dvr/storage/monthly", storageHandler.Monthly)
	mux.HandleFunc("GET /dvr/storage/daily", storageHandler.Daily)
	mux.HandleFunc("GET /dvr/storage/download", storageHandler.Download)
	mux.Handle("GET /dvr/storage/videos/", storageHandler.Videos())

	mux.HandleFunc("GET /dvr/source/declare", reg.DeclareHandler)
	mux.HandleFunc("POST /dvr/source/declare", reg.DeclareHandler)

	mux.HandleFunc("GET /dvr/status", agg.Handler())

	mux.HandleFunc("GET /healthz", status.Healthz(cfg.ArchiveRoot))
	mux.Handle("GET /metrics", metrics.Handler())

	// The browser UI bundle, when deployed alongside the binary.
	if info, err := os.Stat("public"); err == nil && info.IsDir() {
		mux.Handle("GET /", http.FileServer(http.Dir("public")))
	}

	return mux
}

func buildSink(cfg *config.Config) eventlog.Sink {
	if cfg.NATSUrl == "" {
		return eventlog.NewStdSink()
	}
	conn, err := nats.Connect(cfg.NATSUrl)
	if err != nil {
		log.Printf("[WARNING] nats connect %s: %v, falling back to stdlib logging", cfg.NATSUrl, err)
		return eventlog.NewStdSink()
	}
	return eventlog.NewNATSSink(conn, "cctv.events", 3, "./dvr-spool")
}

func buildSnapshotStore(cfg *config.Config) snapshot.Store {
	if cfg.RedisAddr == "" {
		return snapshot.NewFileStore(fmt.Sprintf("%s/.state", cfg.ArchiveRoot))
	}
	return snapshot.NewRedisStore(cfg.RedisAddr, "", 0, "housedvr:")
}
