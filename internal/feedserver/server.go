// Package feedserver hosts the feed-generator HTTP surface: the feed
// skeleton endpoint that triggers backfills, the generator metadata
// endpoints, and an optional forward mode that relays skeleton requests
// to another deployment.
package feedserver

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/skymesh-social/skymesh/internal/backfill"
	"github.com/skymesh-social/skymesh/internal/config"
)

// feedRkey names the single feed this generator serves.
const feedRkey = "following_plus"

// Server wraps the Echo instance and its collaborators.
type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	backfill chan<- backfill.Request
	graph    neo4j.DriverWithContext // shared read handle; nil in forward mode
	proxy    *http.Client
}

// New creates a configured server. In forward mode (cfg.ForwardEndpoint
// set) skeleton requests are relayed upstream instead of hitting the
// local pipeline, and requests and graphHandle may be nil.
func New(cfg *config.Config, requests chan<- backfill.Request, graphHandle neo4j.DriverWithContext) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
	}))

	s := &Server{
		echo:     e,
		cfg:      cfg,
		backfill: requests,
		graph:    graphHandle,
		proxy:    &http.Client{Timeout: 30 * time.Second},
	}
	s.registerRoutes()
	return s
}

// extractBearer pulls the token out of an Authorization: Bearer header.
func extractBearer(c echo.Context) string {
	h := c.Request().Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// Start begins serving TLS requests using ./cert.pem and ./key.pem and
// blocks until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Feed server listening on %s", s.cfg.FeedListenAddr)
		if err := s.echo.StartTLS(s.cfg.FeedListenAddr, "cert.pem", "key.pem"); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Println("Shutting down feed server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}
