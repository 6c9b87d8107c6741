// Package backfill loads a user's existing follow and block records
// from the upstream repo host the first time the feed sees them, and
// writes the edges through the graph's bulk path.
package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/skymesh-social/skymesh/internal/classify"
	"github.com/skymesh-social/skymesh/internal/graph"
)

// QueueDepth bounds the request channel. Feed handlers block on send
// when the queue is full, which throttles new users instead of piling
// up unbounded work.
const QueueDepth = 100

const (
	defaultAPIBase = "https://bsky.social/xrpc/com.atproto.repo.listRecords"
	pageLimit      = 100
	batchSize      = 60
	requestTimeout = 5 * time.Second
	pageRetries    = 3

	collectionFollow = "app.bsky.graph.follow"
	collectionBlock  = "app.bsky.graph.block"
)

// placeholderURI is served in every skeleton until real feed
// computation lands.
const placeholderURI = "at://did:plc:zxs7h3vusn4chpru4nvzw5sj/app.bsky.feed.post/3lbdbqqdxxc2w"

// Request asks the worker to backfill one DID. The worker sends exactly
// one Response on Reply.
type Request struct {
	DID   string
	Reply chan<- Response
}

// Response is the worker's answer to the feed handler.
type Response struct {
	Posts  []Post
	Cursor string
}

// Post is one feed skeleton entry.
type Post struct {
	URI    string
	Reason string
}

// GraphWriter is the bulk mutation surface the worker writes through.
type GraphWriter interface {
	AddFollows(ctx context.Context, follows []graph.Follow) error
	AddBlocks(ctx context.Context, blocks []graph.Block) error
}

// Worker consumes backfill requests one at a time, in arrival order.
type Worker struct {
	graph    GraphWriter
	requests <-chan Request
	client   *http.Client
	apiBase  string
	seen     map[string]struct{}
}

// NewWorker creates a worker reading from requests. The upstream client
// retries transient failures a bounded number of times and times out
// each attempt after five seconds.
func NewWorker(g GraphWriter, requests <-chan Request) *Worker {
	rc := retryablehttp.NewClient()
	rc.RetryMax = pageRetries
	rc.HTTPClient.Timeout = requestTimeout
	rc.Logger = nil
	return &Worker{
		graph:    g,
		requests: requests,
		client:   rc.StandardClient(),
		apiBase:  defaultAPIBase,
		seen:     make(map[string]struct{}),
	}
}

// Run consumes requests until the context is cancelled. A failed
// backfill is logged and left unmarked so the next request for that DID
// tries again; the worker itself keeps serving.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			if _, ok := w.seen[req.DID]; ok {
				reply(req, placeholderResponse())
				continue
			}
			log.Printf("Backfill request for %s", req.DID)
			if err := w.Backfill(ctx, req.DID); err != nil {
				log.Printf("Warning: backfill %s: %v", req.DID, err)
				reply(req, placeholderResponse())
				continue
			}
			w.seen[req.DID] = struct{}{}
			reply(req, placeholderResponse())
		}
	}
}

// Backfill pages the DID's follow and block collections and writes the
// edges in fixed-size batches, one bulk statement per batch.
func (w *Worker) Backfill(ctx context.Context, did string) error {
	followPairs, err := w.listPairs(ctx, did, collectionFollow)
	if err != nil {
		return fmt.Errorf("backfill: list follows: %w", err)
	}
	for start := 0; start < len(followPairs); start += batchSize {
		end := min(start+batchSize, len(followPairs))
		rows := make([]graph.Follow, 0, end-start)
		for _, p := range followPairs[start:end] {
			rows = append(rows, graph.Follow{DID: did, Out: p.subject, Rkey: p.rkey})
		}
		if err := w.graph.AddFollows(ctx, rows); err != nil {
			return fmt.Errorf("backfill: write follows: %w", err)
		}
	}
	log.Printf("Written %d follows for %s", len(followPairs), did)

	blockPairs, err := w.listPairs(ctx, did, collectionBlock)
	if err != nil {
		return fmt.Errorf("backfill: list blocks: %w", err)
	}
	for start := 0; start < len(blockPairs); start += batchSize {
		end := min(start+batchSize, len(blockPairs))
		rows := make([]graph.Block, 0, end-start)
		for _, p := range blockPairs[start:end] {
			rows = append(rows, graph.Block{DID: did, Out: p.subject, Rkey: p.rkey})
		}
		if err := w.graph.AddBlocks(ctx, rows); err != nil {
			return fmt.Errorf("backfill: write blocks: %w", err)
		}
	}
	log.Printf("Written %d blocks for %s", len(blockPairs), did)
	return nil
}

// pair is one (subject DID, edge rkey) extracted from a listRecords
// entry.
type pair struct {
	subject string
	rkey    string
}

type listRecordsResponse struct {
	Records []struct {
		URI   string `json:"uri"`
		Value struct {
			Subject string `json:"subject"`
		} `json:"value"`
	} `json:"records"`
	Cursor string `json:"cursor"`
}

// listPairs pages one collection of a repo, following the cursor until
// the upstream stops returning one.
func (w *Worker) listPairs(ctx context.Context, did, collection string) ([]pair, error) {
	base := fmt.Sprintf("%s?repo=%s&collection=%s&limit=%d",
		w.apiBase, url.QueryEscape(did), url.QueryEscape(collection), pageLimit)

	var out []pair
	pageURL := base
	for {
		page, err := w.getPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		for _, rec := range page.Records {
			out = append(out, pair{subject: rec.Value.Subject, rkey: classify.ParseRkey(rec.URI)})
		}
		if page.Cursor == "" {
			return out, nil
		}
		pageURL = base + "&cursor=" + url.QueryEscape(page.Cursor)
	}
}

func (w *Worker) getPage(ctx context.Context, pageURL string) (*listRecordsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listRecords returned %s", resp.Status)
	}
	var page listRecordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, err
	}
	return &page, nil
}

func placeholderResponse() Response {
	return Response{
		Posts:  []Post{{URI: placeholderURI}},
		Cursor: "1",
	}
}

// reply sends without blocking; a handler that already gave up and
// walked away is skipped.
func reply(req Request, resp Response) {
	select {
	case req.Reply <- resp:
	default:
	}
}
