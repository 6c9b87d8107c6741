package feedserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skymesh-social/skymesh/internal/backfill"
	"github.com/skymesh-social/skymesh/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		ServiceDID:     "did:web:feed.example.com",
		Hostname:       "feed.example.com",
		FeedListenAddr: ":0",
		PurgeHorizon:   24 * time.Hour,
	}
}

func serviceToken(t *testing.T, issuer string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{"did:web:feed.example.com"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := token.SignedString([]byte("appview-secret"))
	require.NoError(t, err)
	return s
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestRoot(t *testing.T) {
	s := New(testConfig(), nil, nil)
	rec := do(s, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello!", rec.Body.String())
}

func TestHealthWithoutGraph(t *testing.T) {
	s := New(testConfig(), nil, nil)
	rec := do(s, httptest.NewRequest(http.MethodGet, "/xrpc/_health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"0.1.0"}`, rec.Body.String())
}

func TestWellKnownDIDDocument(t *testing.T) {
	s := New(testConfig(), nil, nil)
	rec := do(s, httptest.NewRequest(http.MethodGet, "/.well-known/did.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var doc didDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "did:web:feed.example.com", doc.ID)
	assert.Equal(t, []string{"https://www.w3.org/ns/did/v1"}, doc.Context)
	require.Len(t, doc.Service, 1)
	assert.Equal(t, "#bsky_fg", doc.Service[0].ID)
	assert.Equal(t, "BskyFeedGenerator", doc.Service[0].Type)
	assert.Equal(t, "https://feed.example.com", doc.Service[0].ServiceEndpoint)
}

func TestWellKnownHostnameMismatch(t *testing.T) {
	cfg := testConfig()
	cfg.ServiceDID = "did:web:other.example.com"
	s := New(cfg, nil, nil)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/.well-known/did.json", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWellKnownUnconfigured(t *testing.T) {
	cfg := testConfig()
	cfg.ServiceDID = ""
	s := New(cfg, nil, nil)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/.well-known/did.json", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDescribeFeedGenerator(t *testing.T) {
	s := New(testConfig(), nil, nil)
	rec := do(s, httptest.NewRequest(http.MethodGet, "/xrpc/app.bsky.feed.describeFeedGenerator", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Did   string `json:"did"`
		Feeds []struct {
			URI string `json:"uri"`
		} `json:"feeds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "did:web:feed.example.com", out.Did)
	require.Len(t, out.Feeds, 1)
	assert.Equal(t, "at://did:web:feed.example.com/app.bsky.feed.generator/following_plus", out.Feeds[0].URI)
}

func TestGetFeedSkeletonRequiresAuth(t *testing.T) {
	s := New(testConfig(), nil, nil)
	rec := do(s, httptest.NewRequest(http.MethodGet, "/xrpc/app.bsky.feed.getFeedSkeleton", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "AuthRequired")
}

func TestGetFeedSkeletonRejectsBadToken(t *testing.T) {
	s := New(testConfig(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/xrpc/app.bsky.feed.getFeedSkeleton", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := do(s, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "InvalidToken")
}

func TestGetFeedSkeletonRejectsUnknownFeed(t *testing.T) {
	requests := make(chan backfill.Request, 1)
	s := New(testConfig(), requests, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/xrpc/app.bsky.feed.getFeedSkeleton?feed=at://did:web:feed.example.com/app.bsky.feed.generator/some_other_feed", nil)
	req.Header.Set("Authorization", "Bearer "+serviceToken(t, "did:plc:caller"))
	rec := do(s, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "UnknownFeed")
}

func TestGetFeedSkeletonTriggersBackfill(t *testing.T) {
	requests := make(chan backfill.Request, 1)
	s := New(testConfig(), requests, nil)

	askedFor := make(chan string, 1)
	go func() {
		req := <-requests
		askedFor <- req.DID
		req.Reply <- backfill.Response{
			Posts:  []backfill.Post{{URI: "at://did:plc:zxs7h3vusn4chpru4nvzw5sj/app.bsky.feed.post/3lbdbqqdxxc2w"}},
			Cursor: "1",
		}
	}()

	req := httptest.NewRequest(http.MethodGet,
		"/xrpc/app.bsky.feed.getFeedSkeleton?feed=at://did:web:feed.example.com/app.bsky.feed.generator/following_plus", nil)
	req.Header.Set("Authorization", "Bearer "+serviceToken(t, "did:plc:caller"))
	rec := do(s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"cursor":"1","feed":[{"post":"at://did:plc:zxs7h3vusn4chpru4nvzw5sj/app.bsky.feed.post/3lbdbqqdxxc2w"}]}`,
		rec.Body.String())

	select {
	case did := <-askedFor:
		assert.Equal(t, "did:plc:caller", did)
	case <-time.After(time.Second):
		t.Fatal("backfill was never requested")
	}
}

func TestForwardFeedSkeleton(t *testing.T) {
	var sawAuth, sawQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		sawQuery = r.URL.RawQuery
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"cursor":"9","feed":[]}`))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.ForwardEndpoint = upstream.URL
	s := New(cfg, nil, nil)

	token := serviceToken(t, "did:plc:caller")
	req := httptest.NewRequest(http.MethodGet, "/xrpc/app.bsky.feed.getFeedSkeleton?limit=5", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := do(s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cursor":"9","feed":[]}`, rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Upstream"))
	assert.Equal(t, "Bearer "+token, sawAuth)
	assert.Equal(t, "limit=5", sawQuery)
}

func TestForwardFeedSkeletonUpstreamDown(t *testing.T) {
	cfg := testConfig()
	cfg.ForwardEndpoint = "http://127.0.0.1:1"
	s := New(cfg, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/xrpc/app.bsky.feed.getFeedSkeleton", nil)
	req.Header.Set("Authorization", "Bearer "+serviceToken(t, "did:plc:caller"))
	rec := do(s, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestForwardFeedSkeletonStillRequiresAuth(t *testing.T) {
	cfg := testConfig()
	cfg.ForwardEndpoint = "http://127.0.0.1:1"
	s := New(cfg, nil, nil)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/xrpc/app.bsky.feed.getFeedSkeleton", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
