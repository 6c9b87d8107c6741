package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so host state cannot leak
// into the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"COMPRESS_ENABLE", "FORWARD_MODE", "PROFILE_ENABLE",
		"MM_USER", "MM_PW", "FEEDGEN_SERVICE_DID", "FEEDGEN_HOSTNAME",
		"BOLT_URL", "JETSTREAM_HOST", "PURGE_HORIZON", "FEED_LISTEN_ADDR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.CompressEnabled)
	assert.False(t, cfg.ProfileEnabled)
	assert.Empty(t, cfg.ForwardEndpoint)
	assert.Equal(t, "user", cfg.GraphUser)
	assert.Equal(t, "pass", cfg.GraphPassword)
	assert.Equal(t, "bolt://localhost:7687", cfg.BoltURL)
	assert.Equal(t, "jetstream1.us-east.bsky.network", cfg.JetstreamHost)
	assert.Equal(t, 24*time.Hour, cfg.PurgeHorizon)
	assert.Equal(t, ":3000", cfg.FeedListenAddr)
	assert.Equal(t, "wss://jetstream1.us-east.bsky.network/subscribe", cfg.FirehoseURL())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("COMPRESS_ENABLE", "1")
	t.Setenv("PROFILE_ENABLE", "true")
	t.Setenv("FORWARD_MODE", "https://feed.example.com/xrpc/app.bsky.feed.getFeedSkeleton")
	t.Setenv("MM_USER", "admin")
	t.Setenv("MM_PW", "hunter2")
	t.Setenv("FEEDGEN_SERVICE_DID", "did:web:feed.example.com")
	t.Setenv("FEEDGEN_HOSTNAME", "feed.example.com")
	t.Setenv("BOLT_URL", "bolt://graph.internal:7687")
	t.Setenv("JETSTREAM_HOST", "jetstream2.us-west.bsky.network")
	t.Setenv("PURGE_HORIZON", "48h")
	t.Setenv("FEED_LISTEN_ADDR", ":8443")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.CompressEnabled)
	assert.True(t, cfg.ProfileEnabled)
	assert.Equal(t, "https://feed.example.com/xrpc/app.bsky.feed.getFeedSkeleton", cfg.ForwardEndpoint)
	assert.Equal(t, "admin", cfg.GraphUser)
	assert.Equal(t, "hunter2", cfg.GraphPassword)
	assert.Equal(t, "did:web:feed.example.com", cfg.ServiceDID)
	assert.Equal(t, "feed.example.com", cfg.Hostname)
	assert.Equal(t, "bolt://graph.internal:7687", cfg.BoltURL)
	assert.Equal(t, 48*time.Hour, cfg.PurgeHorizon)
	assert.Equal(t, ":8443", cfg.FeedListenAddr)
	assert.Equal(t, "wss://jetstream2.us-west.bsky.network/subscribe", cfg.FirehoseURL())
}

func TestLoadRejectsBadPurgeHorizon(t *testing.T) {
	clearEnv(t)
	t.Setenv("PURGE_HORIZON", "yesterday")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsNegativePurgeHorizon(t *testing.T) {
	clearEnv(t)
	t.Setenv("PURGE_HORIZON", "-1h")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsNonHTTPForwardEndpoint(t *testing.T) {
	clearEnv(t)
	t.Setenv("FORWARD_MODE", "ftp://feed.example.com")

	_, err := Load()
	assert.Error(t, err)
}
