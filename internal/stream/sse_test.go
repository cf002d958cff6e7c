package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/neosim/internal/neo"
	"github.com/star/neosim/internal/orbit"
	"github.com/star/neosim/internal/sim"
	"github.com/star/neosim/internal/synthetic"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testStore() *neo.Store {
	store := neo.NewStore()
	store.Set(neo.MockCatalog(time.Date(2026, 2, 6, 3, 45, 0, 0, time.UTC)))
	return store
}

func testDriver(store sim.CatalogSource) *sim.Driver {
	engine := orbit.NewEngine(orbit.DefaultConfig(), testLogger())
	source := &synthetic.Fixed{
		Default: synthetic.Elements{SemiMajorAU: 1.2, Eccentricity: 0.1, InclinationDeg: 5, PeriodDays: 400},
		Phases:  []float64{0.5},
	}
	return sim.NewDriver(engine, store, source, orbit.DefaultPlanets(), sim.Config{}, testLogger())
}

func testConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		BandwidthLimit:     1048576,
		KeepaliveInterval:  30 * time.Second,
		MaxFPS:             30,
	}
}

// TestBuildFrameMessage verifies the frame payload structure.
func TestBuildFrameMessage(t *testing.T) {
	earth := orbit.Body{ID: "earth", Kind: orbit.KindPlanet, SemiMajorAU: 1, PeriodDays: 365, Radius: 8}
	f := &orbit.Frame{
		Seq:    7,
		At:     time.Date(2026, 2, 6, 4, 0, 0, 0, time.UTC),
		Bodies: []orbit.Body{orbit.Sun(), earth},
	}

	msg := buildFrameMessage(f, nil, orbit.NewView(100, orbit.Point{X: 10, Y: 20}))

	assert.Equal(t, "frame", msg.Type)
	assert.EqualValues(t, 7, msg.Seq)
	assert.Equal(t, "2026-02-06T04:00:00Z", msg.T)
	require.Len(t, msg.Bodies, 2)
	assert.Equal(t, [2]float64{10, 20}, msg.Bodies[0].P, "sun at the view centre")
	// Earth at phase zero sits on the +x axis, a·Z pixels from the centre.
	assert.Equal(t, [2]float64{110, 20}, msg.Bodies[1].P)
	assert.Nil(t, msg.Bodies[1].Tr, "no trail without history")
}

// TestBuildFrameMessageTrail verifies trails are oldest first and skip the sun.
func TestBuildFrameMessageTrail(t *testing.T) {
	at := func(phase float64, seq uint64) *orbit.Frame {
		b := orbit.Body{ID: "earth", Kind: orbit.KindPlanet, SemiMajorAU: 1, PeriodDays: 365, Radius: 8, Phase: phase}
		return &orbit.Frame{Seq: seq, Bodies: []orbit.Body{orbit.Sun(), b}}
	}
	history := []*orbit.Frame{at(0, 1), at(0.1, 2), at(0.2, 3)}

	msg := buildFrameMessage(history[2], history, orbit.DefaultView())

	assert.Nil(t, msg.Bodies[0].Tr, "sun carries no trail")
	tr := msg.Bodies[1].Tr
	require.Len(t, tr, 3)
	assert.Equal(t, [2]float64{100, 0}, tr[0])
	assert.Equal(t, msg.Bodies[1].P, tr[2], "newest trail point is the current position")
}

// TestMetadataMessageJSON verifies the metadata message format.
func TestMetadataMessageJSON(t *testing.T) {
	fetched := time.Now().Add(-30 * time.Minute)
	msg := buildMetadata(sim.Stats{
		FrameRate:        30,
		CatalogSource:    "mock",
		CatalogFetchedAt: fetched,
	}, orbit.DefaultView())

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))

	assert.Equal(t, "metadata", parsed["type"])
	assert.Equal(t, "mock", parsed["catalog_source"])
	assert.InDelta(t, 1800, parsed["catalog_age_seconds"], 1)
	assert.Equal(t, orbit.DefaultZoom, parsed["zoom"])
	assert.NotContains(t, parsed, "session", "SSE metadata carries no session id")
}

// TestMetadataWithoutCatalog reports an unknown catalog age as -1.
func TestMetadataWithoutCatalog(t *testing.T) {
	msg := buildMetadata(sim.Stats{FrameRate: 30}, orbit.DefaultView())
	assert.Equal(t, -1, msg.CatalogAge)
	assert.Empty(t, msg.CatalogSource)
}

// readSSE returns the decoded data messages in body, in order.
func readSSE(t *testing.T, body string) []map[string]any {
	t.Helper()
	var msgs []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg map[string]any
		if !assert.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg), "SSE data line") {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// TestSSEMessageFormat verifies the SSE wire format: "data: {json}\n\n".
func TestSSEMessageFormat(t *testing.T) {
	driver := testDriver(testStore())
	handler := NewHandler(driver, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/frames?fps=20&trail=5&zoom=200", nil)
	req.RemoteAddr = "127.0.0.1:12345"

	ctx, cancel := context.WithTimeout(req.Context(), 300*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	handler.HandleFrames(w, req)

	resp := w.Result()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	body := w.Body.String()
	msgs := readSSE(t, body)
	require.GreaterOrEqual(t, len(msgs), 3, "metadata, roster and frame")

	for i, typ := range []string{"metadata", "roster", "frame"} {
		assert.Equal(t, typ, msgs[i]["type"], "message %d", i)
	}
	assert.Equal(t, "mock", msgs[0]["catalog_source"])

	// Sun, four planets and the mock asteroids.
	wantBodies := 1 + len(orbit.DefaultPlanets()) + len(neo.MockCatalog(time.Now()).Asteroids)
	assert.Len(t, msgs[1]["bodies"], wantBodies)
	frame := msgs[2]
	assert.Equal(t, 200.0, frame["zoom"])
	assert.Len(t, frame["bodies"], wantBodies)

	// The driver is not ticking, so the same frame must not be resent.
	frames := 0
	for _, m := range msgs {
		if m["type"] == "frame" {
			frames++
		}
	}
	assert.Equal(t, 1, frames, "frames sent for one sequence number")

	// Lines are "data: ...", "retry: ...", ":" (keepalive) or empty.
	for _, line := range strings.Split(body, "\n") {
		if line == "" || line == ":" {
			continue
		}
		assert.True(t, strings.HasPrefix(line, "data: ") || strings.HasPrefix(line, "retry: "), "unexpected SSE line: %q", line)
	}
}

// TestSSEFollowsDriver verifies new frames are streamed as the driver ticks.
func TestSSEFollowsDriver(t *testing.T) {
	driver := testDriver(nil)
	handler := NewHandler(driver, testConfig(), testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	go driver.Start(ctx)

	req := httptest.NewRequest("GET", "/api/v1/stream/frames?fps=30", nil).WithContext(ctx)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	handler.HandleFrames(w, req)

	var seqs []float64
	for _, m := range readSSE(t, w.Body.String()) {
		if m["type"] == "frame" {
			seqs = append(seqs, m["seq"].(float64))
		}
	}
	require.GreaterOrEqual(t, len(seqs), 2)
	assert.IsIncreasing(t, seqs)
}

// TestRateLimiting verifies per-IP concurrent stream limits.
func TestRateLimiting(t *testing.T) {
	limiter := newStreamLimiter(3, 0)

	// Acquire up to the limit.
	for i := 0; i < 3; i++ {
		ok, _ := limiter.acquire("10.0.0.1")
		require.True(t, ok, "acquire %d", i+1)
	}

	// 4th should fail.
	ok, reason := limiter.acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, "per_ip", reason)

	// Different IP should still work.
	ok, _ = limiter.acquire("10.0.0.2")
	assert.True(t, ok, "different IP should not be rate limited")

	// Release one and try again.
	limiter.release("10.0.0.1")
	ok, _ = limiter.acquire("10.0.0.1")
	assert.True(t, ok, "acquire after release")

	assert.Equal(t, 3, limiter.count("10.0.0.1"))
	assert.Equal(t, 1, limiter.count("10.0.0.2"))
	assert.Equal(t, 4, limiter.active())
}

// TestRateLimitingGlobal verifies the global cap applies across IPs.
func TestRateLimitingGlobal(t *testing.T) {
	limiter := newStreamLimiter(10, 2)

	limiter.acquire("10.0.0.1")
	limiter.acquire("10.0.0.2")
	ok, reason := limiter.acquire("10.0.0.3")
	assert.False(t, ok)
	assert.Equal(t, "global", reason)

	// Releasing an unknown IP must not free a global slot.
	limiter.release("10.0.0.9")
	assert.Equal(t, 2, limiter.active())
}

// TestRateLimitingConcurrent verifies rate limiter thread safety.
func TestRateLimitingConcurrent(t *testing.T) {
	limiter := newStreamLimiter(100, 0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.acquire("10.0.0.1"); ok {
				defer limiter.release("10.0.0.1")
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, limiter.count("10.0.0.1"))
}

// TestRateLimitHTTPResponse verifies 429 response when limit exceeded.
func TestRateLimitHTTPResponse(t *testing.T) {
	driver := testDriver(nil)
	cfg := testConfig()
	cfg.MaxConcurrentPerIP = 1
	handler := NewHandler(driver, cfg, testLogger())

	// Hold the first connection open.
	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest("GET", "/api/v1/stream/frames", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		ctx, cancel := context.WithCancel(req.Context())
		req = req.WithContext(ctx)
		w := httptest.NewRecorder()

		go func() {
			// Signal ready after short delay to allow acquire.
			time.Sleep(50 * time.Millisecond)
			close(ready)
			// Hold connection for a bit.
			time.Sleep(200 * time.Millisecond)
			cancel()
		}()

		handler.HandleFrames(w, req)
	}()

	// Wait for first connection to be established.
	<-ready

	// Second connection from same IP should get 429.
	req := httptest.NewRequest("GET", "/api/v1/stream/frames", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	handler.HandleFrames(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	<-done

	assert.Zero(t, handler.ActiveStreams(), "active streams after close")
}

// TestInvalidQueryParams verifies error responses for bad stream parameters.
func TestInvalidQueryParams(t *testing.T) {
	handler := NewHandler(testDriver(nil), testConfig(), testLogger())

	tests := []struct {
		name  string
		query string
	}{
		{"zoom non-numeric", "?zoom=abc"},
		{"zoom zero", "?zoom=0"},
		{"zoom negative", "?zoom=-5"},
		{"zoom infinite", "?zoom=Inf"},
		{"center non-numeric", "?cx=left"},
		{"trail negative", "?trail=-1"},
		{"trail too large", "?trail=121"},
		{"fps zero", "?fps=0"},
		{"fps above max", "?fps=31"},
		{"fps non-numeric", "?fps=fast"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/stream/frames"+tt.query, nil)
			req.RemoteAddr = "127.0.0.1:12345"
			w := httptest.NewRecorder()
			handler.HandleFrames(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}

// TestParamsClampZoom verifies out-of-range zoom is clamped, not rejected.
func TestParamsClampZoom(t *testing.T) {
	handler := NewHandler(testDriver(nil), testConfig(), testLogger())

	tests := []struct {
		query string
		want  float64
	}{
		{"", orbit.DefaultZoom},
		{"?zoom=1", orbit.MinZoom},
		{"?zoom=100000", orbit.MaxZoom},
		{"?zoom=250", 250},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p, err := handler.parseParams(httptest.NewRequest("GET", "/"+tt.query, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.view.Zoom)
		})
	}
}

// TestBandwidthThrottle verifies oversized messages are refused, not written.
func TestBandwidthThrottle(t *testing.T) {
	w := httptest.NewRecorder()
	c := &client{
		w:         w,
		flusher:   w,
		rc:        http.NewResponseController(w),
		bandwidth: newBandwidthLimiter(16),
		logger:    testLogger(),
	}

	err := c.sendRaw([]byte(`{"type":"frame","bodies":[1,2,3,4,5,6,7,8]}`))
	require.ErrorIs(t, err, errThrottled)
	assert.Zero(t, w.Body.Len(), "throttled message was written")

	require.NoError(t, c.sendRaw([]byte(`{}`)))
	assert.Equal(t, "data: {}\n\n", w.Body.String())
}

// TestKeepaliveFormat verifies keep-alive is an SSE comment.
func TestKeepaliveFormat(t *testing.T) {
	w := httptest.NewRecorder()
	c := &client{w: w, flusher: w, rc: http.NewResponseController(w), logger: testLogger()}

	require.NoError(t, c.sendKeepalive())
	assert.Equal(t, ":\n\n", w.Body.String())
}
