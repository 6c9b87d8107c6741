package feedserver

import (
	"log"
	"net/http"
	"strings"

	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/labstack/echo/v4"

	"github.com/skymesh-social/skymesh/internal/auth"
	"github.com/skymesh-social/skymesh/internal/backfill"
)

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/xrpc/_health", s.handleHealth)
	s.echo.GET("/.well-known/did.json", s.handleWellKnown)
	s.echo.GET("/xrpc/app.bsky.feed.describeFeedGenerator", s.handleDescribeFeedGenerator)
	if s.cfg.ForwardEndpoint != "" {
		s.echo.GET("/xrpc/app.bsky.feed.getFeedSkeleton", s.handleForwardFeedSkeleton)
	} else {
		s.echo.GET("/xrpc/app.bsky.feed.getFeedSkeleton", s.handleGetFeedSkeleton)
	}
}

// GET /
func (s *Server) handleRoot(c echo.Context) error {
	return c.String(http.StatusOK, "Hello!")
}

// GET /xrpc/_health
func (s *Server) handleHealth(c echo.Context) error {
	if s.graph != nil {
		if err := s.graph.VerifyConnectivity(c.Request().Context()); err != nil {
			log.Printf("Warning: graph connectivity check failed: %v", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"error":   "GraphUnavailable",
				"message": "Graph database is unreachable",
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"version": "0.1.0"})
}

// didDocument is the /.well-known/did.json payload.
type didDocument struct {
	Context []string     `json:"@context"`
	ID      string       `json:"id"`
	Service []didService `json:"service"`
}

type didService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// GET /.well-known/did.json
func (s *Server) handleWellKnown(c echo.Context) error {
	if s.cfg.ServiceDID == "" || !strings.HasSuffix(s.cfg.ServiceDID, s.cfg.Hostname) {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error":   "NotConfigured",
			"message": "Service DID is not configured for this hostname",
		})
	}
	return c.JSON(http.StatusOK, didDocument{
		Context: []string{"https://www.w3.org/ns/did/v1"},
		ID:      s.cfg.ServiceDID,
		Service: []didService{{
			ID:              "#bsky_fg",
			Type:            "BskyFeedGenerator",
			ServiceEndpoint: "https://" + s.cfg.Hostname,
		}},
	})
}

// GET /xrpc/app.bsky.feed.describeFeedGenerator
func (s *Server) handleDescribeFeedGenerator(c echo.Context) error {
	did := "did:web:" + s.cfg.Hostname
	return c.JSON(http.StatusOK, bsky.FeedDescribeFeedGenerator_Output{
		Did: did,
		Feeds: []*bsky.FeedDescribeFeedGenerator_Feed{
			{Uri: "at://" + did + "/app.bsky.feed.generator/" + feedRkey},
		},
	})
}

// skeletonPost and skeletonResponse form the getFeedSkeleton wire
// shape.
type skeletonPost struct {
	Post string `json:"post"`
}

type skeletonResponse struct {
	Cursor string         `json:"cursor,omitempty"`
	Feed   []skeletonPost `json:"feed"`
}

// authenticate resolves the caller's DID from the request's service
// token, or writes the 401 response and returns ok=false.
func (s *Server) authenticate(c echo.Context) (did, token string, ok bool) {
	token = extractBearer(c)
	if token == "" {
		_ = c.JSON(http.StatusUnauthorized, map[string]string{
			"error":   "AuthRequired",
			"message": "Authorization header with Bearer token is required",
		})
		return "", "", false
	}
	did, err := auth.ParseServiceToken(token, s.cfg.ServiceDID)
	if err != nil {
		log.Printf("Warning: rejecting feed request: %v", err)
		_ = c.JSON(http.StatusUnauthorized, map[string]string{
			"error":   "InvalidToken",
			"message": "Invalid service token",
		})
		return "", "", false
	}
	return did, token, true
}

// GET /xrpc/app.bsky.feed.getFeedSkeleton
func (s *Server) handleGetFeedSkeleton(c echo.Context) error {
	did, _, ok := s.authenticate(c)
	if !ok {
		return nil
	}

	if feed := c.QueryParam("feed"); feed != "" {
		uri, err := syntax.ParseATURI(feed)
		if err != nil || uri.RecordKey().String() != feedRkey {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error":   "UnknownFeed",
				"message": "Unknown feed: " + feed,
			})
		}
	}

	log.Printf("Feed request from %s", did)

	ctx := c.Request().Context()
	replyCh := make(chan backfill.Response, 1)
	select {
	case s.backfill <- backfill.Request{DID: did, Reply: replyCh}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case resp := <-replyCh:
		feed := make([]skeletonPost, len(resp.Posts))
		for i, p := range resp.Posts {
			feed[i] = skeletonPost{Post: p.URI}
		}
		return c.JSON(http.StatusOK, skeletonResponse{Cursor: resp.Cursor, Feed: feed})
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GET /xrpc/app.bsky.feed.getFeedSkeleton (forward mode)
func (s *Server) handleForwardFeedSkeleton(c echo.Context) error {
	did, token, ok := s.authenticate(c)
	if !ok {
		return nil
	}
	log.Printf("Forwarding feed request from %s", did)

	req, err := http.NewRequestWithContext(c.Request().Context(), http.MethodGet, s.cfg.ForwardEndpoint, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to build upstream request",
		})
	}
	req.URL.RawQuery = c.Request().URL.RawQuery
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.proxy.Do(req)
	if err != nil {
		log.Printf("Warning: forwarding feed request: %v", err)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error":   "UpstreamUnavailable",
			"message": "Failed to reach upstream feed service",
		})
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, v := range values {
			c.Response().Header().Add(key, v)
		}
	}
	return c.Stream(resp.StatusCode, resp.Header.Get(echo.HeaderContentType), resp.Body)
}
