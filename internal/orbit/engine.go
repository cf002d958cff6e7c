// Package orbit advances and projects bodies on fixed elliptical paths around a
// central sun.
//
// The Engine owns a registry of bodies keyed by stable ID. Each Tick advances
// every body's phase angle and publishes an immutable Frame; readers only ever
// observe whole frames, never a partially stepped registry. Projection, orbit
// outlines and pointer lookups take an explicit View value.
package orbit

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const twoPi = 2 * math.Pi

// Config controls the simulated-time rate.
type Config struct {
	TickRate  float64 // reference frames per second (default: 60)
	K         float64 // frames per simulated day at the reference rate (default: 60)
	TimeScale float64 // multiplier on elapsed time (default: 1)
}

// DefaultConfig returns the reference stepping rate: one orbital period per
// PeriodDays seconds of wall time.
func DefaultConfig() Config {
	return Config{TickRate: 60, K: 60, TimeScale: 1}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if !(c.TickRate > 0) {
		c.TickRate = d.TickRate
	}
	if !(c.K > 0) {
		c.K = d.K
	}
	if !(c.TimeScale > 0) {
		c.TimeScale = d.TimeScale
	}
	return c
}

// Frame is an immutable snapshot of every body at one tick.
type Frame struct {
	Seq    uint64
	At     time.Time
	Bodies []Body // registry order
}

// Positions projects every body in f under v. Never nil.
func (f *Frame) Positions(v View) []Position {
	if f == nil {
		return []Position{}
	}
	out := make([]Position, len(f.Bodies))
	for i, b := range f.Bodies {
		out[i] = positionOf(b, v)
	}
	return out
}

// Find returns the body with the given ID.
func (f *Frame) Find(id string) (Body, bool) {
	if f == nil {
		return Body{}, false
	}
	for _, b := range f.Bodies {
		if b.ID == id {
			return b, true
		}
	}
	return Body{}, false
}

// Engine is the body registry plus its phase clock.
// Safe for concurrent use; Tick is expected to be called from one driver goroutine.
type Engine struct {
	mu     sync.Mutex // guards bodies, index, seq
	bodies []Body
	index  map[string]int
	seq    uint64

	config Config
	frame  atomic.Pointer[Frame]
	logger *slog.Logger
}

// NewEngine creates an empty engine.
func NewEngine(config Config, logger *slog.Logger) *Engine {
	e := &Engine{
		index:  make(map[string]int),
		config: config.normalized(),
		logger: logger,
	}
	e.frame.Store(&Frame{Bodies: []Body{}})
	return e
}

// Config returns the normalized stepping configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Add appends b to the registry and republishes the current frame.
// Degenerate elements are rejected with ErrDegenerateOrbit.
func (e *Engine) Add(b Body) error {
	if err := b.Validate(); err != nil {
		return err
	}
	b.Phase = wrap(b.Phase)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.index[b.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBody, b.ID)
	}
	e.index[b.ID] = len(e.bodies)
	e.bodies = append(e.bodies, b)
	e.publishLocked(time.Now())
	return nil
}

// Replace rebuilds the registry from bodies. Rejected bodies are skipped and
// their errors returned; the rest are registered in order.
func (e *Engine) Replace(bodies []Body) []error {
	var errs []error
	next := make([]Body, 0, len(bodies))
	index := make(map[string]int, len(bodies))

	for _, b := range bodies {
		if err := b.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, ok := index[b.ID]; ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateBody, b.ID))
			continue
		}
		b.Phase = wrap(b.Phase)
		index[b.ID] = len(next)
		next = append(next, b)
	}

	e.mu.Lock()
	e.bodies = next
	e.index = index
	e.publishLocked(time.Now())
	e.mu.Unlock()

	e.logger.Debug("orbit registry replaced", "bodies", len(next), "rejected", len(errs))
	return errs
}

// Len returns the number of registered bodies.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.bodies)
}

// Has reports whether id is registered.
func (e *Engine) Has(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.index[id]
	return ok
}

// Tick advances every orbiting body by the elapsed wall time and publishes
// the resulting frame:
//
//	Δφ = 2π · elapsed·TickRate·TimeScale / (PeriodDays·K)
//
// Non-positive elapsed values publish an unchanged frame.
func (e *Engine) Tick(elapsed time.Duration) *Frame {
	frames := elapsed.Seconds() * e.config.TickRate * e.config.TimeScale
	if frames < 0 {
		frames = 0
	}
	return e.step(frames)
}

// TickFrames advances by n fixed frames, Δφ = 2π/(PeriodDays·K) each,
// ignoring TimeScale. This reproduces frame-count-coupled stepping.
func (e *Engine) TickFrames(n int) *Frame {
	if n < 0 {
		n = 0
	}
	return e.step(float64(n))
}

func (e *Engine) step(frames float64) *Frame {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.bodies {
		b := &e.bodies[i]
		if b.Kind == KindSun {
			continue
		}
		b.Phase = wrap(b.Phase + twoPi*frames/(b.PeriodDays*e.config.K))
	}
	return e.publishLocked(time.Now())
}

// publishLocked snapshots the registry into a new frame. Caller holds mu.
func (e *Engine) publishLocked(at time.Time) *Frame {
	e.seq++
	bodies := make([]Body, len(e.bodies))
	copy(bodies, e.bodies)
	f := &Frame{Seq: e.seq, At: at, Bodies: bodies}
	e.frame.Store(f)
	return f
}

// Frame returns the most recently published frame.
func (e *Engine) Frame() *Frame {
	return e.frame.Load()
}

// Positions projects every body of the current frame under v. Never nil.
func (e *Engine) Positions(v View) []Position {
	return e.Frame().Positions(v)
}

// Project returns the screen position of one body in the current frame.
func (e *Engine) Project(id string, v View) (Point, error) {
	b, ok := e.Frame().Find(id)
	if !ok {
		return Point{}, fmt.Errorf("%w: %s", ErrUnknownBody, id)
	}
	return Project(b, v), nil
}

// Outline returns the sampled orbit path of one body.
func (e *Engine) Outline(id string, v View, segments int) ([]Point, error) {
	b, ok := e.Frame().Find(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBody, id)
	}
	return Ellipse(b, v, segments), nil
}

// FindNearest runs a pointer lookup against the current frame.
func (e *Engine) FindNearest(v View, pointer Point) (Summary, bool) {
	return FindNearest(e.Frame(), v, pointer)
}

// wrap reduces phi into [0, 2π).
func wrap(phi float64) float64 {
	if math.IsNaN(phi) || math.IsInf(phi, 0) {
		return 0
	}
	phi = math.Mod(phi, twoPi)
	if phi < 0 {
		phi += twoPi
	}
	return phi
}
