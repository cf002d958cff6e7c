package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/star/neosim/internal/impact"
	"github.com/star/neosim/internal/metrics"
	"github.com/star/neosim/internal/neo"
	"github.com/star/neosim/internal/orbit"
	"github.com/star/neosim/internal/scenario"
	"github.com/star/neosim/internal/sim"
)

const (
	maxBodyBytes    = 64 << 10
	defaultSegments = 64
	maxSegments     = 720
	refreshTimeout  = 2 * time.Minute
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// floatParam parses a finite float query parameter, returning def when absent.
func floatParam(q url.Values, key string, def float64) (float64, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("invalid %s parameter, must be a finite number", key)
	}
	return n, nil
}

// viewParam reads zoom, cx and cy. Zoom must be positive and is clamped into
// the allowed range.
func viewParam(q url.Values) (orbit.View, error) {
	zoom, err := floatParam(q, "zoom", orbit.DefaultZoom)
	if err != nil {
		return orbit.View{}, err
	}
	if zoom <= 0 {
		return orbit.View{}, errors.New("invalid zoom parameter, must be > 0")
	}
	cx, err := floatParam(q, "cx", 0)
	if err != nil {
		return orbit.View{}, err
	}
	cy, err := floatParam(q, "cy", 0)
	if err != nil {
		return orbit.View{}, err
	}
	return orbit.NewView(zoom, orbit.Point{X: cx, Y: cy}), nil
}

type impactResponse struct {
	Params impact.Params `json:"params"`
	impact.Result
}

// impactHandler handles GET /api/v1/impact?diameter=&density=&velocity=&angle=
// Diameter is in metres and required; the rest default to typical stony
// impactor values.
func impactHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("diameter") == "" {
			writeError(w, http.StatusBadRequest, "diameter parameter is required (metres)")
			return
		}

		var p impact.Params
		for _, f := range []struct {
			key string
			def float64
			dst *float64
		}{
			{"diameter", 0, &p.DiameterM},
			{"density", impact.DefaultDensity, &p.DensityKgM3},
			{"velocity", impact.DefaultVelocity, &p.VelocityMS},
			{"angle", impact.DefaultAngle, &p.AngleDeg},
		} {
			v, err := floatParam(q, f.key, f.def)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			*f.dst = v
		}

		res, err := impact.Compute(p)
		if err != nil {
			metrics.IncImpactComputations("invalid")
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		metrics.IncImpactComputations("ok")
		writeJSON(w, http.StatusOK, impactResponse{Params: p, Result: res})
	}
}

// optionalParam parses a finite float query parameter, returning nil when the
// key is absent. A present but empty value is an error.
func optionalParam(q url.Values, key string) (*float64, error) {
	if !q.Has(key) {
		return nil, nil
	}
	n, err := strconv.ParseFloat(q.Get(key), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, fmt.Errorf("invalid %s parameter, must be a finite number", key)
	}
	return &n, nil
}

// assessmentParams reads the optional density, velocity and angle overrides.
// Supplied values are validated as given; only omitted ones take defaults.
func assessmentParams(q url.Values) (scenario.Request, error) {
	var req scenario.Request
	var err error
	if req.DensityKgM3, err = optionalParam(q, "density"); err != nil {
		return req, err
	}
	if req.VelocityMS, err = optionalParam(q, "velocity"); err != nil {
		return req, err
	}
	if req.AngleDeg, err = optionalParam(q, "angle"); err != nil {
		return req, err
	}

	nominal := impact.Params{
		DiameterM:   1,
		DensityKgM3: impact.DefaultDensity,
		VelocityMS:  impact.DefaultVelocity,
		AngleDeg:    impact.DefaultAngle,
	}
	if req.DensityKgM3 != nil {
		nominal.DensityKgM3 = *req.DensityKgM3
	}
	if req.VelocityMS != nil {
		nominal.VelocityMS = *req.VelocityMS
	}
	if req.AngleDeg != nil {
		nominal.AngleDeg = *req.AngleDeg
	}
	if err := nominal.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// asteroidImpactHandler handles GET /api/v1/asteroids/{id}/impact
func asteroidImpactHandler(store *neo.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		cat := store.Get()
		if cat == nil {
			writeError(w, http.StatusServiceUnavailable, "catalog not loaded")
			return
		}
		a, ok := cat.Find(id)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("asteroid %s not found", id))
			return
		}

		req, err := assessmentParams(r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Asteroids = []neo.Asteroid{a}

		res := scenario.Assess(r.Context(), req)[0]
		if res.Error != "" {
			writeJSON(w, http.StatusUnprocessableEntity, res)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type scenariosResponse struct {
	CatalogSource string                `json:"catalog_source"`
	FetchedAt     string                `json:"fetched_at"`
	Count         int                   `json:"count"`
	Results       []scenario.Assessment `json:"results"`
}

// scenariosHandler handles GET /api/v1/scenarios?limit=&density=&velocity=&angle=
func scenariosHandler(store *neo.Store, cfg scenario.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cat := store.Get()
		if cat == nil {
			writeError(w, http.StatusServiceUnavailable, "catalog not loaded")
			return
		}

		q := r.URL.Query()
		req, err := assessmentParams(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid limit parameter, must be >= 1")
				return
			}
			req.Limit = n
		}
		req.Asteroids = cat.Asteroids
		req.Workers = cfg.Workers

		results := scenario.Assess(r.Context(), req)
		writeJSON(w, http.StatusOK, scenariosResponse{
			CatalogSource: cat.Source,
			FetchedAt:     cat.FetchedAt.UTC().Format(time.RFC3339),
			Count:         len(results),
			Results:       results,
		})
	}
}

type bodiesResponse struct {
	Seq    uint64       `json:"seq"`
	Count  int          `json:"count"`
	Bodies []orbit.Body `json:"bodies"`
}

// bodiesHandler handles GET /api/v1/bodies
func bodiesHandler(d *sim.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := d.Latest()
		writeJSON(w, http.StatusOK, bodiesResponse{Seq: f.Seq, Count: len(f.Bodies), Bodies: f.Bodies})
	}
}

// addBodyRequest is the POST /api/v1/bodies payload. Phase is not accepted:
// added bodies start at a freshly drawn phase.
type addBodyRequest struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Kind           orbit.Kind `json:"kind"`
	Color          string     `json:"color"`
	Radius         float64    `json:"radius"`
	SemiMajorAU    float64    `json:"semi_major_axis_au"`
	Eccentricity   float64    `json:"eccentricity"`
	InclinationDeg float64    `json:"inclination_deg"`
	PeriodDays     float64    `json:"orbital_period_days"`
	Hazardous      bool       `json:"hazardous"`
	Tooltip        string     `json:"tooltip"`
}

func (req addBodyRequest) body() orbit.Body {
	return orbit.Body{
		ID:             req.ID,
		Name:           req.Name,
		Kind:           req.Kind,
		Color:          req.Color,
		Radius:         req.Radius,
		SemiMajorAU:    req.SemiMajorAU,
		Eccentricity:   req.Eccentricity,
		InclinationDeg: req.InclinationDeg,
		PeriodDays:     req.PeriodDays,
		Hazardous:      req.Hazardous,
		Tooltip:        req.Tooltip,
	}
}

// addBodyHandler handles POST /api/v1/bodies with a JSON body.
// Only orbiting kinds may be added; styling defaults follow the kind.
func addBodyHandler(d *sim.Driver, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()

		var req addBodyRequest
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
		b := req.body()

		switch b.Kind {
		case "":
			b.Kind = orbit.KindAsteroid
		case orbit.KindPlanet, orbit.KindAsteroid, orbit.KindComet:
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid kind %q", b.Kind))
			return
		}
		if b.Name == "" {
			b.Name = b.ID
		}
		if b.Radius <= 0 {
			b.Radius = orbit.AsteroidRadius
		}
		if b.Color == "" {
			switch {
			case b.Kind == orbit.KindComet:
				b.Color = orbit.CometColor
			case b.Hazardous:
				b.Color = orbit.HazardousColor
			default:
				b.Color = orbit.NonHazardousColor
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		added, err := d.AddBody(ctx, b)
		switch {
		case err == nil:
			writeJSON(w, http.StatusCreated, added)
		case errors.Is(err, orbit.ErrDuplicateBody):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			logger.Warn("add body timed out", "id", b.ID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "simulation busy")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
	}
}

type positionsResponse struct {
	Seq       uint64           `json:"seq"`
	View      orbit.View       `json:"view"`
	Positions []orbit.Position `json:"positions"`
}

// positionsHandler handles GET /api/v1/positions?zoom=&cx=&cy=&id=
// With id, only that body's point is returned.
func positionsHandler(d *sim.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		v, err := viewParam(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if id := q.Get("id"); id != "" {
			p, err := d.Engine().Project(id, v)
			if err != nil {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": id, "view": v, "point": p})
			return
		}

		f := d.Latest()
		writeJSON(w, http.StatusOK, positionsResponse{Seq: f.Seq, View: v, Positions: f.Positions(v)})
	}
}

type outline struct {
	ID     string        `json:"id"`
	Color  string        `json:"color"`
	Points []orbit.Point `json:"points"`
}

// orbitsHandler handles GET /api/v1/orbits?zoom=&cx=&cy=&segments=&id=
func orbitsHandler(d *sim.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		v, err := viewParam(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		segments := defaultSegments
		if s := q.Get("segments"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 8 || n > maxSegments {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid segments parameter, must be 8-%d", maxSegments))
				return
			}
			segments = n
		}

		if id := q.Get("id"); id != "" {
			pts, err := d.Engine().Outline(id, v, segments)
			if err != nil {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, outline{ID: id, Points: pts})
			return
		}

		f := d.Latest()
		out := make([]outline, 0, len(f.Bodies))
		for _, b := range f.Bodies {
			if b.Kind == orbit.KindSun {
				continue
			}
			out = append(out, outline{ID: b.ID, Color: b.Color, Points: orbit.Ellipse(b, v, segments)})
		}
		writeJSON(w, http.StatusOK, map[string]any{"view": v, "orbits": out})
	}
}

// zoomHandler handles POST /api/v1/zoom?zoom=&factor=
// It is stateless: the client supplies its current zoom and receives the new one.
func zoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		zoom, err := floatParam(q, "zoom", orbit.DefaultZoom)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if q.Get("factor") == "" {
			writeError(w, http.StatusBadRequest, "factor parameter is required")
			return
		}
		factor, err := floatParam(q, "factor", 1)
		if err != nil || factor <= 0 {
			writeError(w, http.StatusBadRequest, "invalid factor parameter, must be > 0")
			return
		}
		v := orbit.NewView(zoom, orbit.Point{}).Zoomed(factor)
		writeJSON(w, http.StatusOK, map[string]float64{"zoom": v.Zoom})
	}
}

// nearestHandler handles GET /api/v1/nearest?x=&y=&zoom=&cx=&cy=
func nearestHandler(d *sim.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("x") == "" || q.Get("y") == "" {
			writeError(w, http.StatusBadRequest, "x and y parameters are required")
			return
		}
		x, err := floatParam(q, "x", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		y, err := floatParam(q, "y", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		v, err := viewParam(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		sum, ok := d.Engine().FindNearest(v, orbit.Point{X: x, Y: y})
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]bool{"found": false})
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

// statsHandler handles GET /api/v1/sim/stats
func statsHandler(d *sim.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Stats())
	}
}

type catalogMetadata struct {
	Source     string  `json:"source"`
	FetchedAt  string  `json:"fetched_at"`
	AgeSeconds float64 `json:"age_seconds"`
	Count      int     `json:"count"`
	Hazardous  int     `json:"hazardous"`
}

func metadataOf(cat *neo.Catalog) catalogMetadata {
	return catalogMetadata{
		Source:     cat.Source,
		FetchedAt:  cat.FetchedAt.UTC().Format(time.RFC3339),
		AgeSeconds: math.Round(time.Since(cat.FetchedAt).Seconds()),
		Count:      len(cat.Asteroids),
		Hazardous:  cat.HazardousCount(),
	}
}

// catalogMetadataHandler handles GET /api/v1/catalog/metadata
func catalogMetadataHandler(store *neo.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cat := store.Get()
		if cat == nil {
			writeError(w, http.StatusServiceUnavailable, "catalog not loaded")
			return
		}
		writeJSON(w, http.StatusOK, metadataOf(cat))
	}
}

// catalogRefreshHandler handles POST /api/v1/catalog/refresh
func catalogRefreshHandler(refresher *neo.Refresher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if refresher == nil {
			writeError(w, http.StatusServiceUnavailable, "catalog fetching is disabled")
			return
		}

		// A fetch can outlive the server's default WriteTimeout.
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Now().Add(refreshTimeout + 5*time.Second)); err != nil {
			logger.Debug("could not extend write deadline", "error", err)
		}

		// A client disconnect must not abort a refresh in flight.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), refreshTimeout)
		defer cancel()

		cat, err := refresher.Refresh(ctx)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, metadataOf(cat))
		case errors.Is(err, neo.ErrRefreshInProgress):
			writeError(w, http.StatusConflict, err.Error())
		default:
			logger.Warn("manual catalog refresh failed", "error", err)
			writeError(w, http.StatusBadGateway, "catalog refresh failed: "+err.Error())
		}
	}
}
