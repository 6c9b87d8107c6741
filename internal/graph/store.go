// Package graph materializes firehose events into a Bolt-protocol
// graph database (Memgraph, Neo4j). Every mutation is one parameterized
// Cypher statement executed under a process-wide write lock, so the
// firehose loop, the backfill worker and the purge sweep never
// interleave writes.
package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Store wraps the graph driver and the write lock.
type Store struct {
	driver  neo4j.DriverWithContext
	horizon time.Duration

	mu  sync.Mutex // serializes all writes, including the purge
	run func(ctx context.Context, query string, params map[string]any) error
}

// Open connects to the graph database, verifies connectivity and
// returns a Store. horizon is the retention window enforced by the
// purge sweep.
func Open(ctx context.Context, uri, username, password string, horizon time.Duration) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("graph: create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graph: connect to %s: %w", uri, err)
	}

	s := &Store{driver: driver, horizon: horizon}
	s.run = s.runCypher
	return s, nil
}

// runCypher executes one auto-commit statement on a fresh session. The
// driver pools connections underneath.
func (s *Store) runCypher(ctx context.Context, query string, params map[string]any) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

// write executes a mutation under the write lock.
func (s *Store) write(ctx context.Context, query string, params map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, query, params)
}

// Inner exposes the shared driver handle for read-side consumers such
// as health checks. The driver is safe for concurrent use.
func (s *Store) Inner() neo4j.DriverWithContext {
	return s.driver
}

// Close releases the driver and its pooled connections.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// AddPost upserts the author and the post identified by (did, rkey).
func (s *Store) AddPost(ctx context.Context, did, rkey string, createdAtUS int64, isReply, isImage bool) error {
	err := s.write(ctx, addPostQuery, map[string]any{
		"did":       did,
		"rkey":      rkey,
		"createdAt": createdAtUS,
		"isReply":   isReply,
		"isImage":   isImage,
	})
	if err != nil {
		return fmt.Errorf("graph: add post %s/%s: %w", did, rkey, err)
	}
	return nil
}

// AddReply links a reply post to its parent. The parent may not have
// been seen yet, so it is matched by rkey alone.
func (s *Store) AddReply(ctx context.Context, did, childRkey, parentRkey string) error {
	err := s.write(ctx, addReplyQuery, map[string]any{
		"did":        did,
		"rkey":       childRkey,
		"parentRkey": parentRkey,
	})
	if err != nil {
		return fmt.Errorf("graph: add reply %s/%s: %w", did, childRkey, err)
	}
	return nil
}

// AddRepost records a repost of the post with targetRkey.
func (s *Store) AddRepost(ctx context.Context, did, targetRkey, edgeRkey string) error {
	err := s.write(ctx, addRepostQuery, map[string]any{
		"did":        did,
		"targetRkey": targetRkey,
		"rkey":       edgeRkey,
	})
	if err != nil {
		return fmt.Errorf("graph: add repost %s/%s: %w", did, edgeRkey, err)
	}
	return nil
}

// AddLike records a like of the post with targetRkey.
func (s *Store) AddLike(ctx context.Context, did, targetRkey, edgeRkey string) error {
	err := s.write(ctx, addLikeQuery, map[string]any{
		"did":        did,
		"targetRkey": targetRkey,
		"rkey":       edgeRkey,
	})
	if err != nil {
		return fmt.Errorf("graph: add like %s/%s: %w", did, edgeRkey, err)
	}
	return nil
}

// Follow is one row of the bulk follow statement. Out is the followee.
type Follow struct {
	DID  string
	Out  string
	Rkey string
}

// Block is one row of the bulk block statement. DID is the blocker and
// Out the blocked account.
type Block struct {
	DID  string
	Out  string
	Rkey string
}

// AddFollow records a single follow edge through the bulk path.
func (s *Store) AddFollow(ctx context.Context, srcDID, dstDID, edgeRkey string) error {
	return s.AddFollows(ctx, []Follow{{DID: srcDID, Out: dstDID, Rkey: edgeRkey}})
}

// AddFollows writes a batch of follow edges in one UNWIND statement.
func (s *Store) AddFollows(ctx context.Context, follows []Follow) error {
	if len(follows) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(follows))
	for i, f := range follows {
		rows[i] = map[string]any{"did": f.DID, "out": f.Out, "rkey": f.Rkey}
	}
	if err := s.write(ctx, addFollowsQuery, map[string]any{"follows": rows}); err != nil {
		return fmt.Errorf("graph: add %d follows: %w", len(follows), err)
	}
	return nil
}

// AddBlock records that blocker blocks blockee. The blockee comes
// first, mirroring the record shape where the subject is the blocked
// account.
func (s *Store) AddBlock(ctx context.Context, blockeeDID, blockerDID, edgeRkey string) error {
	return s.AddBlocks(ctx, []Block{{DID: blockerDID, Out: blockeeDID, Rkey: edgeRkey}})
}

// AddBlocks writes a batch of block edges in one UNWIND statement.
func (s *Store) AddBlocks(ctx context.Context, blocks []Block) error {
	if len(blocks) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(blocks))
	for i, b := range blocks {
		rows[i] = map[string]any{"did": b.DID, "out": b.Out, "rkey": b.Rkey}
	}
	if err := s.write(ctx, addBlocksQuery, map[string]any{"blocks": rows}); err != nil {
		return fmt.Errorf("graph: add %d blocks: %w", len(blocks), err)
	}
	return nil
}

// RmPost deletes the post and all of its incident edges.
func (s *Store) RmPost(ctx context.Context, did, rkey string) error {
	if err := s.write(ctx, rmPostQuery, map[string]any{"did": did, "rkey": rkey}); err != nil {
		return fmt.Errorf("graph: rm post %s/%s: %w", did, rkey, err)
	}
	return nil
}

// RmRepost deletes the repost edge with the given rkey.
func (s *Store) RmRepost(ctx context.Context, did, rkey string) error {
	if err := s.write(ctx, rmRepostQuery, map[string]any{"did": did, "rkey": rkey}); err != nil {
		return fmt.Errorf("graph: rm repost %s/%s: %w", did, rkey, err)
	}
	return nil
}

// RmLike deletes the like edge with the given rkey.
func (s *Store) RmLike(ctx context.Context, did, rkey string) error {
	if err := s.write(ctx, rmLikeQuery, map[string]any{"did": did, "rkey": rkey}); err != nil {
		return fmt.Errorf("graph: rm like %s/%s: %w", did, rkey, err)
	}
	return nil
}

// RmFollow deletes the follow edge with the given rkey.
func (s *Store) RmFollow(ctx context.Context, did, rkey string) error {
	if err := s.write(ctx, rmFollowQuery, map[string]any{"did": did, "rkey": rkey}); err != nil {
		return fmt.Errorf("graph: rm follow %s/%s: %w", did, rkey, err)
	}
	return nil
}

// RmBlock deletes the block edge with the given rkey.
func (s *Store) RmBlock(ctx context.Context, did, rkey string) error {
	if err := s.write(ctx, rmBlockQuery, map[string]any{"did": did, "rkey": rkey}); err != nil {
		return fmt.Errorf("graph: rm block %s/%s: %w", did, rkey, err)
	}
	return nil
}
