// skymesh ingests the Bluesky Jetstream firehose into a Bolt-protocol
// graph database and serves a feed-generator HTTP endpoint that
// backfills a user's follow graph the first time they request the feed.
//
// Configuration comes from environment variables; see internal/config.
// With FORWARD_MODE set the process skips ingestion entirely and
// proxies feed requests to the given endpoint.
//
// Usage:
//
//	skymesh
//	FORWARD_MODE=https://feed.example.com/xrpc/app.bsky.feed.getFeedSkeleton skymesh
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/skymesh-social/skymesh/internal/backfill"
	"github.com/skymesh-social/skymesh/internal/classify"
	"github.com/skymesh-social/skymesh/internal/codec"
	"github.com/skymesh-social/skymesh/internal/config"
	"github.com/skymesh-social/skymesh/internal/drift"
	"github.com/skymesh-social/skymesh/internal/feedserver"
	"github.com/skymesh-social/skymesh/internal/firehose"
	"github.com/skymesh-social/skymesh/internal/graph"
)

// exitGraceful is the status reported after a clean signal-initiated
// shutdown, distinguishing it from crash exits in process supervisors.
const exitGraceful = 0x0100

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting skymesh...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	stopProfile := func() {}
	if cfg.ProfileEnabled {
		f, err := os.Create("profile.pb")
		if err != nil {
			log.Fatalf("Failed to create profile.pb: %v", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("Failed to start CPU profile: %v", err)
		}
		stopProfile = func() {
			pprof.StopCPUProfile()
			f.Close()
		}
		log.Println("CPU profiling enabled, writing profile.pb on shutdown")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %v, shutting down...", sig)
		cancel()
	}()

	if cfg.ForwardEndpoint != "" {
		log.Printf("Forward mode, relaying feed requests to %s", cfg.ForwardEndpoint)
		srv := feedserver.New(cfg, nil, nil)
		if err := srv.Start(ctx); err != nil {
			log.Fatalf("Feed server error: %v", err)
		}
		log.Println("skymesh stopped")
		stopProfile()
		os.Exit(exitGraceful)
	}

	log.Printf("Connecting to graph at %s", cfg.BoltURL)
	store, err := graph.Open(ctx, cfg.BoltURL, cfg.GraphUser, cfg.GraphPassword, cfg.PurgeHorizon)
	if err != nil {
		log.Fatalf("Failed to connect to graph: %v", err)
	}
	log.Println("Graph connected")

	meter := drift.NewMeter()
	go meter.LogLoop(ctx)

	requests := make(chan backfill.Request, backfill.QueueDepth)
	worker := backfill.NewWorker(store, requests)
	go worker.Run(ctx)

	go store.RunPurge(ctx)

	srv := feedserver.New(cfg, requests, store.Inner())
	go func() {
		if err := srv.Start(ctx); err != nil {
			log.Fatalf("Feed server error: %v", err)
		}
	}()

	dec, err := codec.NewDecoder()
	if err != nil {
		log.Fatalf("Failed to create frame decoder: %v", err)
	}

	classifier := classify.New(store, meter)
	client := firehose.NewClient(cfg.FirehoseURL(), cfg.CompressEnabled, func(ctx context.Context, payload []byte) error {
		evt, err := dec.Decode(payload, cfg.CompressEnabled)
		if err != nil {
			return err
		}
		return classifier.Handle(ctx, evt)
	})

	log.Printf("Connecting to firehose at %s", cfg.FirehoseURL())
	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("Firehose error: %v", err)
	}

	dec.Close()
	if err := store.Close(context.Background()); err != nil {
		log.Printf("Warning: closing graph: %v", err)
	}
	log.Println("skymesh stopped")
	stopProfile()
	os.Exit(exitGraceful)
}
