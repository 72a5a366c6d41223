package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"turtlecraft.ai/internal/transport/ws"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		tickRate    = flag.Int("tick_rate", 20, "world ticks per second advertised to clients")
		maxStep     = flag.Float64("max_step", 0.5, "maximum distance an agent may move per position update")
		slack       = flag.Float64("slack", 0.01, "fraction above max_step tolerated before a move is rejected")
		minY        = flag.Int("min_y", 0, "lowest buildable y")
		maxY        = flag.Int("max_y", 127, "highest buildable y")
		spawnX      = flag.Int("spawn_x", 0, "spawn block x")
		spawnY      = flag.Int("spawn_y", 64, "spawn block y")
		spawnZ      = flag.Int("spawn_z", 0, "spawn block z")
		broadcast   = flag.Duration("broadcast_every", time.Second, "interval of TIME and KEEPALIVE broadcasts")
		dataDir     = flag.String("data", "./data", "runtime data directory for snapshots (empty disables persistence)")
		snapEvery   = flag.Duration("snapshot_every", 30*time.Second, "interval between block map snapshots")
		mirrorURL   = flag.String("mirror_endpoint", "", "S3-compatible endpoint snapshots are copied to (empty disables)")
		mirrorBkt   = flag.String("mirror_bucket", "turtlecraft", "bucket for mirrored snapshots")
		mirrorPfx   = flag.String("mirror_prefix", "snapshots", "object key prefix for mirrored snapshots")
		enableAdmin = flag.Bool("admin", envBool("TC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()), "serve loopback-only admin endpoints")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	srv := ws.NewServer(ws.ServerConfig{
		TickRateHz:     *tickRate,
		MaxStep:        *maxStep,
		Slack:          *slack,
		MinY:           *minY,
		MaxY:           *maxY,
		SpawnX:         *spawnX,
		SpawnY:         *spawnY,
		SpawnZ:         *spawnZ,
		BroadcastEvery: *broadcast,
	}, logger)

	if *dataDir != "" {
		if err := restoreLatest(srv, *dataDir, logger); err != nil {
			logger.Fatalf("load snapshot: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	snapDone := make(chan struct{})
	if *dataDir != "" {
		mirror, err := newMirror(*mirrorURL, *mirrorBkt, *mirrorPfx, logger)
		if err != nil {
			logger.Fatalf("snapshot mirror: %v", err)
		}
		go func() {
			defer close(snapDone)
			runSnapshots(ctx, srv, *dataDir, *snapEvery, mirror, logger)
		}()
	} else {
		close(snapDone)
	}

	go func() {
		if err := srv.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := newMux(srv, *enableAdmin)
	if !*enableAdmin {
		logger.Printf("admin endpoints disabled")
	}

	hs := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = hs.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-snapDone
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
