// Package config loads service configuration from environment variables.
//
// Every knob has a sensible default for local development; production
// deployments override through the environment. Load validates what it
// reads and fails fast on nonsense values.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"
)

// Config holds all runtime configuration for the service.
type Config struct {
	// CompressEnabled asks the firehose for zstd-compressed frames
	// (COMPRESS_ENABLE, set to any non-empty value).
	CompressEnabled bool

	// ForwardEndpoint, when non-empty, puts the process in forward mode:
	// no ingestion runs and feed skeleton requests are proxied to this
	// URL (FORWARD_MODE).
	ForwardEndpoint string

	// ProfileEnabled turns on CPU profiling; the profile is written to
	// profile.pb on shutdown (PROFILE_ENABLE, any non-empty value).
	ProfileEnabled bool

	// GraphUser is the graph database username (MM_USER).
	GraphUser string

	// GraphPassword is the graph database password (MM_PW).
	GraphPassword string

	// ServiceDID is the DID this feed generator serves under
	// (FEEDGEN_SERVICE_DID). Required for the well-known endpoint.
	ServiceDID string

	// Hostname is the public hostname of the feed generator
	// (FEEDGEN_HOSTNAME).
	Hostname string

	// BoltURL is the Bolt endpoint of the graph database (BOLT_URL).
	BoltURL string

	// JetstreamHost is the Jetstream instance to subscribe to
	// (JETSTREAM_HOST).
	JetstreamHost string

	// PurgeHorizon is how long posts are retained before the purge
	// sweep removes them (PURGE_HORIZON, a Go duration string).
	PurgeHorizon time.Duration

	// FeedListenAddr is the TLS listen address of the feed generator
	// HTTP server (FEED_LISTEN_ADDR).
	FeedListenAddr string
}

// Load reads configuration from environment variables, applying
// defaults for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		CompressEnabled: os.Getenv("COMPRESS_ENABLE") != "",
		ForwardEndpoint: os.Getenv("FORWARD_MODE"),
		ProfileEnabled:  os.Getenv("PROFILE_ENABLE") != "",
		GraphUser:       envOr("MM_USER", "user"),
		GraphPassword:   envOr("MM_PW", "pass"),
		ServiceDID:      os.Getenv("FEEDGEN_SERVICE_DID"),
		Hostname:        os.Getenv("FEEDGEN_HOSTNAME"),
		BoltURL:         envOr("BOLT_URL", "bolt://localhost:7687"),
		JetstreamHost:   envOr("JETSTREAM_HOST", "jetstream1.us-east.bsky.network"),
		PurgeHorizon:    24 * time.Hour,
		FeedListenAddr:  envOr("FEED_LISTEN_ADDR", ":3000"),
	}

	if v := os.Getenv("PURGE_HORIZON"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid PURGE_HORIZON %q: %w", v, err)
		}
		cfg.PurgeHorizon = d
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration consistency.
func (c *Config) validate() error {
	if c.PurgeHorizon <= 0 {
		return fmt.Errorf("config: PURGE_HORIZON must be positive, got %s", c.PurgeHorizon)
	}
	if c.ForwardEndpoint != "" {
		u, err := url.Parse(c.ForwardEndpoint)
		if err != nil {
			return fmt.Errorf("config: invalid FORWARD_MODE URL %q: %w", c.ForwardEndpoint, err)
		}
		switch u.Scheme {
		case "http", "https":
		default:
			return fmt.Errorf("config: FORWARD_MODE must be an http(s) URL, got %q", c.ForwardEndpoint)
		}
	}
	return nil
}

// FirehoseURL returns the Jetstream subscribe endpoint.
func (c *Config) FirehoseURL() string {
	return "wss://" + c.JetstreamHost + "/subscribe"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
