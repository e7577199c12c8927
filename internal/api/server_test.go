package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avelis/jobfeed/internal/broadcast"
	"github.com/avelis/jobfeed/internal/config"
	"github.com/avelis/jobfeed/internal/feed"
	"github.com/avelis/jobfeed/internal/store"
)

type stubSessions struct {
	sess store.Session
	err  error
}

func (s stubSessions) GetSession(context.Context, int64) (store.Session, error) {
	if s.err != nil {
		return store.Session{}, s.err
	}
	return s.sess, nil
}

type stubAnalyses struct {
	analysis store.Analysis
	err      error
}

func (s stubAnalyses) GetAnalysis(context.Context, int64) (store.Analysis, error) {
	if s.err != nil {
		return store.Analysis{}, s.err
	}
	return s.analysis, nil
}

type fixture struct {
	registry *broadcast.Registry
	scraping *feed.ScrapingBroadcaster
	analysis *feed.AnalysisBroadcaster
	server   *Server
}

func newFixture(t *testing.T, sessions store.SessionRepository, analyses store.AnalysisRepository, cfg config.Config) *fixture {
	t.Helper()
	if cfg.SSE.CacheControl == "" {
		cfg.SSE = config.SSEConfig{
			CacheControl:   "no-cache",
			Connection:     "keep-alive",
			AccelBuffering: "no",
		}
	}
	registry := broadcast.NewRegistry(broadcast.Config{HeartbeatInterval: time.Hour})
	scraping := feed.NewScrapingBroadcaster(registry)
	analysis := feed.NewAnalysisBroadcaster(registry)
	monitor := feed.NewSessionMonitor(sessions, scraping, feed.MonitorConfig{PollInterval: time.Hour})
	return &fixture{
		registry: registry,
		scraping: scraping,
		analysis: analysis,
		server:   NewServer(registry, scraping, analysis, monitor, sessions, analyses, cfg, zap.NewNop()),
	}
}

// readFrame consumes one SSE frame (up to and including the blank line).
func readFrame(t *testing.T, br *bufio.Reader) string {
	t.Helper()
	var sb strings.Builder
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		sb.WriteString(line)
		if line == "\n" {
			return sb.String()
		}
	}
}

// TestStreamSessionHandshakeAndFrames covers headers, the connected
// handshake, and live delivery of a published progress event.
func TestStreamSessionHandshakeAndFrames(t *testing.T) {
	t.Parallel()

	fx := newFixture(t,
		stubSessions{sess: store.Session{ID: 1, Status: store.SessionRunning}},
		stubAnalyses{},
		config.Config{},
	)
	ts := httptest.NewServer(fx.server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/sessions/1/events")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, resp.Body.Close())
	}()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream; charset=utf-8", resp.Header.Get("Content-Type"))
	require.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	require.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	br := bufio.NewReader(resp.Body)
	first := readFrame(t, br)
	require.Equal(t, "event: connected\ndata: {\"channel\":\"scraping_1\",\"status\":\"connected\"}\n\n", first)

	// The subscriber is attached once the handshake frame arrives.
	fx.scraping.BroadcastProgress(context.Background(), 1, 5, 10)
	frame := readFrame(t, br)
	require.True(t, strings.HasPrefix(frame, "event: progress\n"), frame)
	require.Contains(t, frame, "\"progress\":50")
}

// TestStreamDisconnectPrunesRegistry checks cleanup once the client
// closes the response body.
func TestStreamDisconnectPrunesRegistry(t *testing.T) {
	t.Parallel()

	fx := newFixture(t,
		stubSessions{sess: store.Session{ID: 2, Status: store.SessionRunning}},
		stubAnalyses{},
		config.Config{},
	)
	ts := httptest.NewServer(fx.server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/sessions/2/events")
	require.NoError(t, err)
	br := bufio.NewReader(resp.Body)
	readFrame(t, br)
	require.Equal(t, 1, fx.registry.SubscriberCount("scraping_2"))

	require.NoError(t, resp.Body.Close())
	require.Eventually(t, func() bool {
		return fx.registry.SubscriberCount("scraping_2") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestStreamSessionNotFound returns 404 before any stream is opened.
func TestStreamSessionNotFound(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, stubSessions{err: store.ErrNotFound}, stubAnalyses{}, config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/99/events", nil)
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, fx.registry.ActiveChannels())
}

// TestStreamSessionInvalidID rejects non-numeric and non-positive ids.
func TestStreamSessionInvalidID(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, stubSessions{}, stubAnalyses{}, config.Config{})
	for _, path := range []string{"/v1/sessions/abc/events", "/v1/sessions/0/events"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		fx.server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

// TestStreamAnalysisHandshake covers the analysis feed route.
func TestStreamAnalysisHandshake(t *testing.T) {
	t.Parallel()

	fx := newFixture(t,
		stubSessions{},
		stubAnalyses{analysis: store.Analysis{ID: 9, Status: "running"}},
		config.Config{},
	)
	ts := httptest.NewServer(fx.server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/analyses/9/events")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, resp.Body.Close())
	}()

	br := bufio.NewReader(resp.Body)
	first := readFrame(t, br)
	require.Contains(t, first, "\"channel\":\"analysis_9\"")
}

// TestListChannels reports active channels with subscriber counts.
func TestListChannels(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, stubSessions{}, stubAnalyses{}, config.Config{})
	sub := fx.registry.Connect("scraping_5")
	defer fx.registry.Disconnect("scraping_5", sub)

	req := httptest.NewRequest(http.MethodGet, "/v1/channels", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Channels []struct {
			Channel     string `json:"channel"`
			Subscribers int    `json:"subscribers"`
		} `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Channels, 1)
	require.Equal(t, "scraping_5", body.Channels[0].Channel)
	require.Equal(t, 1, body.Channels[0].Subscribers)
}

// TestRepositoryUnavailable returns 503 when no store is wired.
func TestRepositoryUnavailable(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil, nil, config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/1/events", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// TestAPIKeyMiddleware enforces the shared key on every route.
func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	fx := newFixture(t, stubSessions{}, stubAnalyses{}, cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

// TestRequestIDHeader confirms every response carries an id.
func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, stubSessions{}, stubAnalyses{}, config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
