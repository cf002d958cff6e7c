// Package stream pushes projected simulation frames to clients.
//
// SSE clients connect via GET /api/v1/stream/frames and receive a continuous
// stream of projected body positions sampled from the simulation driver:
//
//	data: {"type":"frame","seq":812,"t":"2026-10-16T04:00:00.033Z","zoom":100,"bodies":[{"id":"earth","p":[98.1,17.2]}]}\n\n
//
// The first message is always metadata, followed by a roster describing every
// body (name, colour, radius). A new roster is sent whenever the body set
// changes:
//
//	data: {"type":"metadata","catalog_source":"mock","catalog_age_seconds":1800,"frame_rate":30,"zoom":100}\n\n
//	data: {"type":"roster","bodies":[{"id":"sun","name":"Sun","kind":"sun","color":"yellow","radius":12}]}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent timeout.
//
// Interactive clients use the WebSocket session at GET /api/v1/ws instead; see
// HandleSession.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/star/neosim/internal/httputil"
	"github.com/star/neosim/internal/metrics"
	"github.com/star/neosim/internal/orbit"
	"github.com/star/neosim/internal/sim"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	BandwidthLimit     int           // Bytes per second per stream (default: 1048576).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	MaxFPS             int           // Upper bound on the fps query parameter (default: 30).
	TrustProxy         bool          // Use X-Forwarded-For / X-Real-IP for client IPs.
}

// FrameSource is the simulation as seen by streams. *sim.Driver satisfies it.
type FrameSource interface {
	Latest() *orbit.Frame
	Recent(n int) []*orbit.Frame
	Subscribe() (<-chan *orbit.Frame, func())
	Stats() sim.Stats
}

// Handler manages SSE and WebSocket streaming connections.
type Handler struct {
	source  FrameSource
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(source FrameSource, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP <= 0 {
		config.MaxConcurrentPerIP = 10
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	if config.MaxFPS <= 0 {
		config.MaxFPS = 30
	}
	return &Handler{
		source:  source,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, defaultMaxTotal),
		logger:  logger,
	}
}

// ActiveStreams returns the number of open SSE and WebSocket streams.
func (h *Handler) ActiveStreams() int {
	return h.limiter.active()
}

// streamParams are the query parameters shared by both stream surfaces.
type streamParams struct {
	view  orbit.View
	trail int
	fps   int
}

// parseParams reads zoom, cx, cy, trail and fps. Zoom outside the allowed
// range is clamped; malformed values are rejected.
func (h *Handler) parseParams(r *http.Request) (streamParams, error) {
	q := r.URL.Query()
	p := streamParams{view: orbit.DefaultView(), trail: 0, fps: 10}
	if p.fps > h.config.MaxFPS {
		p.fps = h.config.MaxFPS
	}

	zoom := orbit.DefaultZoom
	var center orbit.Point
	for _, f := range []struct {
		key string
		dst *float64
	}{{"zoom", &zoom}, {"cx", &center.X}, {"cy", &center.Y}} {
		v := q.Get(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return p, fmt.Errorf("invalid %s parameter, must be a finite number", f.key)
		}
		*f.dst = n
	}
	if !(zoom > 0) {
		return p, errors.New("invalid zoom parameter, must be > 0")
	}
	p.view = orbit.NewView(zoom, center)

	if v := q.Get("trail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 120 {
			return p, errors.New("invalid trail parameter, must be 0-120")
		}
		p.trail = n
	}

	if v := q.Get("fps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > h.config.MaxFPS {
			return p, fmt.Errorf("invalid fps parameter, must be 1-%d", h.config.MaxFPS)
		}
		p.fps = n
	}
	return p, nil
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// admit applies the concurrent stream limit and records connection metrics.
// The returned release func must be called when the stream ends.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, kind string) (string, func(), bool) {
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if ok, reason := h.limiter.acquire(ip); !ok {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"limit", reason,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return ip, nil, false
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	start := time.Now()
	h.logger.Info("stream connected",
		"kind", kind,
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
	)

	return ip, func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"kind", kind,
			"remote_ip", ip,
			"duration_seconds", int(time.Since(start).Seconds()),
		)
	}, true
}

// HandleFrames serves the SSE frame stream.
// GET /api/v1/stream/frames?zoom=100&cx=0&cy=0&trail=0&fps=10
func (h *Handler) HandleFrames(w http.ResponseWriter, r *http.Request) {
	p, err := h.parseParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Verify flusher support (required for SSE).
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ip, release, ok := h.admit(w, r, "sse")
	if !ok {
		return
	}
	defer release()

	// Set SSE response headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{
		w:         w,
		flusher:   flusher,
		rc:        rc,
		bandwidth: newBandwidthLimiter(h.config.BandwidthLimit),
		ip:        ip,
		logger:    h.logger,
	}

	// Send jittered retry interval (3-7s) to prevent thundering-herd
	// reconnection storms when the server restarts.
	retryMs := 3000 + rand.Intn(4000)
	fmt.Fprintf(w, "retry: %d\n\n", retryMs)
	flusher.Flush()

	if err := c.sendJSON(buildMetadata(h.source.Stats(), p.view)); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	ticker := time.NewTicker(time.Second / time.Duration(p.fps))
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	var (
		lastSeq    uint64
		roster     rosterKey
		haveRoster bool
	)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			f := h.source.Latest()
			if f == nil || f.Seq == lastSeq {
				continue
			}

			if k := keyOf(h.source.Stats(), f); !haveRoster || k != roster {
				if err := c.sendJSON(buildRoster(f)); err != nil {
					if errors.Is(err, errThrottled) {
						metrics.IncStreamErrors("bandwidth")
						continue
					}
					metrics.IncStreamErrors("send_error")
					h.logger.Warn("stream send error (roster)", "remote_ip", ip, "error", err)
					return
				}
				roster, haveRoster = k, true
			}

			var trail []*orbit.Frame
			if p.trail > 0 {
				trail = h.source.Recent(p.trail)
			}

			data, err := json.Marshal(buildFrameMessage(f, trail, p.view))
			if err != nil {
				metrics.IncStreamErrors("marshal_error")
				h.logger.Warn("stream marshal error", "remote_ip", ip, "error", err)
				continue
			}
			if err := c.sendRaw(data); err != nil {
				if errors.Is(err, errThrottled) {
					metrics.IncStreamErrors("bandwidth")
					continue
				}
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}
			lastSeq = f.Seq

			// Reset keepalive since we just sent data.
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}
