// import-follows seeds the graph with one user's existing follow and
// block records, using the same paging and bulk-write path as the
// in-process backfill worker. Useful for warming users up before the
// service first sees them.
//
// Usage:
//
//	import-follows -did did:plc:abc123
//	import-follows -did did:plc:abc123 -bolt bolt://graph.internal:7687
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/skymesh-social/skymesh/internal/backfill"
	"github.com/skymesh-social/skymesh/internal/config"
	"github.com/skymesh-social/skymesh/internal/graph"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	did := flag.String("did", "", "DID of the repo to import (e.g., did:plc:abc123)")
	bolt := flag.String("bolt", "", "Graph database URL (defaults to BOLT_URL)")
	timeout := flag.Duration("timeout", 10*time.Minute, "Overall import timeout")
	flag.Parse()

	if *did == "" {
		log.Fatal("-did is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *bolt != "" {
		cfg.BoltURL = *bolt
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	log.Printf("Connecting to graph at %s", cfg.BoltURL)
	store, err := graph.Open(ctx, cfg.BoltURL, cfg.GraphUser, cfg.GraphPassword, cfg.PurgeHorizon)
	if err != nil {
		log.Fatalf("Failed to connect to graph: %v", err)
	}
	defer store.Close(context.Background())

	worker := backfill.NewWorker(store, nil)
	if err := worker.Backfill(ctx, *did); err != nil {
		log.Fatalf("Import failed: %v", err)
	}
	log.Printf("Import complete for %s", *did)
}
