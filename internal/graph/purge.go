package graph

import (
	"context"
	"fmt"
	"log"
	"time"
)

// purgeInterval is how often aged posts are swept out of the graph.
const purgeInterval = 45 * time.Minute

// PurgeOldPosts deletes posts older than the retention horizon together
// with their incident edges, in one statement under the write lock.
func (s *Store) PurgeOldPosts(ctx context.Context) error {
	cutoff := time.Now().Add(-s.horizon).UnixMicro()
	if err := s.write(ctx, purgeQuery, map[string]any{"cutoff": cutoff}); err != nil {
		return fmt.Errorf("graph: purge posts older than %s: %w", s.horizon, err)
	}
	return nil
}

// RunPurge sweeps on a fixed interval until the context is cancelled.
func (s *Store) RunPurge(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Println("Purging old posts")
			if err := s.PurgeOldPosts(ctx); err != nil {
				log.Printf("Warning: %v", err)
				continue
			}
			log.Println("Purge done")
		}
	}
}
