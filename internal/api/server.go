package api

import (
	"bufio"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/star/neosim/internal/auth"
	"github.com/star/neosim/internal/health"
	"github.com/star/neosim/internal/httputil"
	"github.com/star/neosim/internal/metrics"
	"github.com/star/neosim/internal/neo"
	"github.com/star/neosim/internal/scenario"
	"github.com/star/neosim/internal/sim"
	"github.com/star/neosim/internal/stream"
)

// Deps are the components served over HTTP.
type Deps struct {
	Driver     *sim.Driver
	Store      *neo.Store
	Refresher  *neo.Refresher // nil when catalog fetching is disabled
	Stream     *stream.Handler
	Scenario   scenario.Config
	Web        fs.FS // optional static frontend
	TrustProxy bool  // log the forwarded client address
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, deps Deps) *Server {
	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(readiness(deps.Driver)))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/impact", impactHandler())
	mux.HandleFunc("GET /api/v1/asteroids/{id}/impact", asteroidImpactHandler(deps.Store))
	mux.HandleFunc("GET /api/v1/scenarios", scenariosHandler(deps.Store, deps.Scenario))

	mux.HandleFunc("GET /api/v1/bodies", bodiesHandler(deps.Driver))
	mux.HandleFunc("POST /api/v1/bodies", addBodyHandler(deps.Driver, logger))
	mux.HandleFunc("GET /api/v1/positions", positionsHandler(deps.Driver))
	mux.HandleFunc("GET /api/v1/orbits", orbitsHandler(deps.Driver))
	mux.HandleFunc("POST /api/v1/zoom", zoomHandler())
	mux.HandleFunc("GET /api/v1/nearest", nearestHandler(deps.Driver))
	mux.HandleFunc("GET /api/v1/sim/stats", statsHandler(deps.Driver))

	mux.HandleFunc("GET /api/v1/catalog/metadata", catalogMetadataHandler(deps.Store))
	mux.HandleFunc("POST /api/v1/catalog/refresh", catalogRefreshHandler(deps.Refresher, logger))

	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/frames", deps.Stream.HandleFrames)
		mux.HandleFunc("GET /api/v1/ws", deps.Stream.HandleSession)
	}

	if deps.Web != nil {
		mux.Handle("GET /", http.FileServerFS(deps.Web))
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger, deps.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second, // streams clear this per connection
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// readiness reports ready once the simulation loop is ticking.
func readiness(d *sim.Driver) func() error {
	if d == nil {
		return nil
	}
	return func() error {
		if !d.Stats().Running {
			return errors.New("simulation not running")
		}
		return nil
	}
}

// healthCheckPath returns true for health/readiness paths that should not log at INFO.
func healthCheckPath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if healthCheckPath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
