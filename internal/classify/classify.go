// Package classify turns decoded firehose events into graph mutations.
// It drops spam and stale events, extracts record keys, feeds the drift
// meter, and dispatches on the (operation, collection) pair.
package classify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/bluesky-social/jetstream/pkg/models"

	"github.com/skymesh-social/skymesh/internal/drift"
)

// The five collections the pipeline materializes. Everything else on
// the firehose is ignored.
const (
	collectionPost   = "app.bsky.feed.post"
	collectionRepost = "app.bsky.feed.repost"
	collectionLike   = "app.bsky.feed.like"
	collectionFollow = "app.bsky.graph.follow"
	collectionBlock  = "app.bsky.graph.block"
)

// maxPostAge is the staleness cutoff for newly created posts, measured
// against the record's own createdAt.
const maxPostAge = 24 * time.Hour

// spamDIDs are dropped outright before any other handling.
var spamDIDs = [...]string{
	"did:plc:xdx2v7gyd5dmfqt7v77gf457",
	"did:plc:a56vfzkrxo2bh443zgjxr4ix",
	"did:plc:cov6pwd7ajm2wgkrgbpej2f3",
	"did:plc:fcnbisw7xl6lmtcnvioocffz",
	"did:plc:ss7fj6p6yfirwq2hnlkfuntt",
}

// Graph is the mutation surface the classifier dispatches into.
type Graph interface {
	AddPost(ctx context.Context, did, rkey string, createdAtUS int64, isReply, isImage bool) error
	AddReply(ctx context.Context, did, childRkey, parentRkey string) error
	AddRepost(ctx context.Context, did, targetRkey, edgeRkey string) error
	AddLike(ctx context.Context, did, targetRkey, edgeRkey string) error
	AddFollow(ctx context.Context, srcDID, dstDID, edgeRkey string) error
	AddBlock(ctx context.Context, blockeeDID, blockerDID, edgeRkey string) error
	RmPost(ctx context.Context, did, rkey string) error
	RmRepost(ctx context.Context, did, rkey string) error
	RmLike(ctx context.Context, did, rkey string) error
	RmFollow(ctx context.Context, did, rkey string) error
	RmBlock(ctx context.Context, did, rkey string) error
}

// Classifier routes events into the graph and samples arrival lag.
type Classifier struct {
	graph Graph
	meter *drift.Meter
	spam  map[string]struct{}
	now   func() time.Time
}

// New creates a Classifier that writes to g and samples into meter.
func New(g Graph, meter *drift.Meter) *Classifier {
	spam := make(map[string]struct{}, len(spamDIDs))
	for _, did := range spamDIDs {
		spam[did] = struct{}{}
	}
	return &Classifier{graph: g, meter: meter, spam: spam, now: time.Now}
}

// Handle classifies one event and applies at most one graph mutation
// (plus the reply edge for reply posts). Spam, stale posts, malformed
// records and unrecognized pairs drop the event without error; only
// mutation failures are returned.
func (c *Classifier) Handle(ctx context.Context, evt *models.Event) error {
	if _, ok := c.spam[evt.Did]; ok {
		c.meter.Add(0)
		return nil
	}
	commit := evt.Commit
	if commit == nil {
		return nil
	}

	driftMS := (c.now().UnixMicro() - evt.TimeUS) / 1000
	rkey := commit.RKey

	switch commit.Operation {
	case "create":
		dispatched, err := c.create(ctx, evt, commit, rkey)
		if err != nil || !dispatched {
			return err
		}
	case "delete":
		var err error
		switch commit.Collection {
		case collectionPost:
			err = c.graph.RmPost(ctx, evt.Did, rkey)
		case collectionRepost:
			err = c.graph.RmRepost(ctx, evt.Did, rkey)
		case collectionLike:
			err = c.graph.RmLike(ctx, evt.Did, rkey)
		case collectionFollow:
			err = c.graph.RmFollow(ctx, evt.Did, rkey)
		case collectionBlock:
			err = c.graph.RmBlock(ctx, evt.Did, rkey)
		default:
			return nil
		}
		if err != nil {
			return err
		}
	case "update":
		// Updates for these collections are rare and their semantics on
		// the stream are unsettled; skip them rather than guess.
		log.Printf("Ignoring update in %s for %s", commit.Collection, evt.Did)
		return nil
	default:
		return nil
	}

	c.meter.Add(driftMS)
	return nil
}

// create dispatches a create-operation commit. dispatched reports
// whether a mutation was applied, so the caller knows to sample drift.
func (c *Classifier) create(ctx context.Context, evt *models.Event, commit *models.Commit, rkey string) (bool, error) {
	switch commit.Collection {
	case collectionPost:
		return c.createPost(ctx, evt, commit, rkey)

	case collectionRepost:
		target, ok := c.targetRkey(commit, evt.Did)
		if !ok {
			return false, nil
		}
		return true, c.graph.AddRepost(ctx, evt.Did, target, rkey)

	case collectionLike:
		target, ok := c.targetRkey(commit, evt.Did)
		if !ok {
			return false, nil
		}
		return true, c.graph.AddLike(ctx, evt.Did, target, rkey)

	case collectionFollow:
		subject, ok := c.subject(commit, evt.Did)
		if !ok {
			return false, nil
		}
		return true, c.graph.AddFollow(ctx, evt.Did, subject, rkey)

	case collectionBlock:
		subject, ok := c.subject(commit, evt.Did)
		if !ok {
			return false, nil
		}
		// The record's subject is the blocked account; the repo owner
		// is the blocker.
		return true, c.graph.AddBlock(ctx, subject, evt.Did, rkey)
	}
	return false, nil
}

// createPost applies the staleness cutoff, then writes the post and,
// for replies, the edge to the parent.
func (c *Classifier) createPost(ctx context.Context, evt *models.Event, commit *models.Commit, rkey string) (bool, error) {
	// An absent record is tolerated; the post is kept with defaults.
	var rec postRecord
	if len(commit.Record) > 0 {
		if err := json.Unmarshal(commit.Record, &rec); err != nil {
			log.Printf("Dropping post create for %s: bad record: %v", evt.Did, err)
			return false, nil
		}
	}

	// An unparsable createdAt falls back to the event timestamp and
	// bypasses the staleness cutoff entirely.
	createdAtUS := evt.TimeUS
	if t, err := time.Parse(time.RFC3339, rec.CreatedAt); err == nil {
		if c.now().Sub(t) > maxPostAge {
			return false, nil
		}
		createdAtUS = t.UnixMicro()
	}

	isReply := rec.Reply != nil
	isImage := len(rec.Images) > 0 && string(rec.Images) != "null"

	if rec.Reply != nil {
		parent := ParseRkey(rec.Reply.Parent.URI)
		if err := c.graph.AddReply(ctx, evt.Did, rkey, parent); err != nil {
			return false, err
		}
	}
	return true, c.graph.AddPost(ctx, evt.Did, rkey, createdAtUS, isReply, isImage)
}

// subject extracts the bare-DID subject of a follow or block record.
func (c *Classifier) subject(commit *models.Commit, did string) (string, bool) {
	var rec subjectRecord
	if err := json.Unmarshal(commit.Record, &rec); err != nil {
		log.Printf("Dropping %s in %s for %s: bad record: %v", commit.Operation, commit.Collection, did, err)
		return "", false
	}
	s, ok := subjectDID(rec.Subject)
	if !ok {
		log.Printf("Dropping %s in %s for %s: subject is not a DID", commit.Operation, commit.Collection, did)
		return "", false
	}
	return s, true
}

// targetRkey extracts the subject AT-URI of a like or repost record and
// reduces it to the target post's rkey.
func (c *Classifier) targetRkey(commit *models.Commit, did string) (string, bool) {
	var rec subjectRecord
	if err := json.Unmarshal(commit.Record, &rec); err != nil {
		log.Printf("Dropping %s in %s for %s: bad record: %v", commit.Operation, commit.Collection, did, err)
		return "", false
	}
	uri, ok := subjectURI(rec.Subject)
	if !ok {
		log.Printf("Dropping %s in %s for %s: subject is not a record reference", commit.Operation, commit.Collection, did)
		return "", false
	}
	return ParseRkey(uri), true
}
