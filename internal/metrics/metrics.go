package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neosim_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neosim_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	tickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "neosim_tick_duration_seconds",
			Help:    "Time spent advancing the simulation by one tick.",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		},
	)

	bodiesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "neosim_bodies",
			Help: "Number of bodies in the simulation registry.",
		},
	)

	framesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neosim_frames_total",
			Help: "Total number of frames published.",
		},
	)

	cutoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neosim_cutovers_total",
			Help: "Registry rebuilds triggered by catalog changes.",
		},
	)

	bodiesRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neosim_bodies_rejected_total",
			Help: "Bodies rejected when building the registry.",
		},
		[]string{"reason"},
	)

	catalogFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neosim_catalog_fetch_total",
			Help: "Catalog refresh attempts by result.",
		},
		[]string{"result"},
	)

	catalogSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "neosim_catalog_objects",
			Help: "Objects in the current catalog.",
		},
	)

	catalogAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "neosim_catalog_age_seconds",
			Help: "Age of the current catalog in seconds.",
		},
	)

	impactComputationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neosim_impact_computations_total",
			Help: "Impact computations by result.",
		},
		[]string{"result"},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neosim_stream_connections_total",
			Help: "Stream connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "neosim_streams_active",
			Help: "Currently open SSE and WebSocket streams.",
		},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neosim_stream_messages_total",
			Help: "Messages written to streams.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neosim_stream_bytes_total",
			Help: "Bytes written to streams.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neosim_stream_errors_total",
			Help: "Stream errors by reason.",
		},
		[]string{"reason"},
	)

	sessionMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neosim_session_messages_total",
			Help: "Client messages received on interactive sessions.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		tickDurationSeconds,
		bodiesGauge,
		framesTotal,
		cutoversTotal,
		bodiesRejectedTotal,
		catalogFetchTotal,
		catalogSize,
		catalogAgeSeconds,
		impactComputationsTotal,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
		sessionMessagesTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveTick(d time.Duration) { tickDurationSeconds.Observe(d.Seconds()) }
func SetBodies(n int) { bodiesGauge.Set(float64(n)) }
func IncFrames() { framesTotal.Inc() }
func IncCutovers() { cutoversTotal.Inc() }

// IncBodiesRejected counts a body refused by the registry, e.g. "degenerate_orbit".
func IncBodiesRejected(reason string) { bodiesRejectedTotal.WithLabelValues(reason).Inc() }

// IncCatalogFetch counts a refresh attempt; result is "success" or "error".
func IncCatalogFetch(result string) { catalogFetchTotal.WithLabelValues(result).Inc() }
func SetCatalogSize(n int) { catalogSize.Set(float64(n)) }
func SetCatalogAge(seconds float64) { catalogAgeSeconds.Set(seconds) }

// IncImpactComputations counts a calculator call; result is "ok" or "invalid".
func IncImpactComputations(result string) { impactComputationsTotal.WithLabelValues(result).Inc() }

func IncStreamConnections(event string) { streamConnectionsTotal.WithLabelValues(event).Inc() }
func IncStreamsActive() { streamsActive.Inc() }
func DecStreamsActive() { streamsActive.Dec() }
func IncStreamMessages() { streamMessagesTotal.Inc() }
func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }
func IncStreamErrors(reason string) { streamErrorsTotal.WithLabelValues(reason).Inc() }
func IncSessionMessages(kind string) { sessionMessagesTotal.WithLabelValues(kind).Inc() }

// knownRoutes are exact paths reported under their own label.
var knownRoutes = map[string]bool{
	"/":                        true,
	"/healthz":                 true,
	"/readyz":                  true,
	"/metrics":                 true,
	"/api/v1/impact":           true,
	"/api/v1/bodies":           true,
	"/api/v1/positions":        true,
	"/api/v1/orbits":           true,
	"/api/v1/zoom":             true,
	"/api/v1/nearest":          true,
	"/api/v1/scenarios":        true,
	"/api/v1/sim/stats":        true,
	"/api/v1/catalog/refresh":  true,
	"/api/v1/catalog/metadata": true,
	"/api/v1/stream/frames":    true,
	"/api/v1/ws":               true,
}

// normalizeRoute maps a request path to a bounded label set so that
// per-asteroid URLs and scanner traffic cannot explode series cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/asteroids/"); ok {
		if id, tail, found := strings.Cut(rest, "/"); found && id != "" && tail == "impact" {
			return "/api/v1/asteroids/{id}/impact"
		}
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE handlers behind the middleware can stream.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes through so WebSocket upgrades work behind the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
