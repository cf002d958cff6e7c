// Package sim runs the orbit engine in real time.
//
// A Driver owns the only goroutine that ticks the engine. Each tick advances
// phases by the measured wall-clock interval, records the frame in a ring
// used for trails, and fans it out to subscribers. When the NEO catalog
// changes, the registry is rebuilt between ticks (a cutover) while readers
// keep seeing the last whole frame.
package sim

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/neosim/internal/metrics"
	"github.com/star/neosim/internal/neo"
	"github.com/star/neosim/internal/orbit"
	"github.com/star/neosim/internal/synthetic"
)

// maxElapsed caps a single step after the process was descheduled.
const maxElapsed = time.Second

// Config holds driver settings.
type Config struct {
	FrameRate          int  // ticks per second (default: 30)
	TrailLength        int  // frames retained for trails (default: 120)
	UseCatalogElements bool // prefer catalog orbital elements for asteroids
}

func (c Config) normalized() Config {
	if c.FrameRate <= 0 {
		c.FrameRate = 30
	}
	if c.TrailLength <= 0 {
		c.TrailLength = 120
	}
	return c
}

// CatalogSource provides the current catalog. *neo.Store satisfies it.
type CatalogSource interface {
	Get() *neo.Catalog
}

type command struct {
	body  orbit.Body
	reply chan addResult
}

type addResult struct {
	body orbit.Body
	err  error
}

// Driver ticks an Engine and publishes its frames.
type Driver struct {
	engine  *orbit.Engine
	catalog CatalogSource
	source  synthetic.Source
	planets []orbit.Body
	config  Config
	logger  *slog.Logger

	commands chan command

	regMu sync.Mutex // serializes registry mutations: apply and rebuild

	mu       sync.RWMutex // guards ring, extra and catalog metadata
	ring     []*orbit.Frame
	next     int
	filled   int
	extra    []orbit.Body // bodies added at runtime, kept across cutovers
	catSrc   string
	catFetch time.Time

	subMu sync.Mutex
	subs  map[chan *orbit.Frame]struct{}

	// Driver goroutine only.
	currentFetchedAt time.Time
	catalogLoaded    bool

	ticks         atomic.Int64
	cutovers      atomic.Int64
	rejected      atomic.Int64
	dropped       atomic.Int64
	lastTickNanos atomic.Int64
	running       atomic.Bool
}

// NewDriver creates a driver and registers the sun, the planets and any
// catalog already in the store, so the engine is usable before Start.
// catalog may be nil.
func NewDriver(engine *orbit.Engine, catalog CatalogSource, source synthetic.Source, planets []orbit.Body, config Config, logger *slog.Logger) *Driver {
	config = config.normalized()
	d := &Driver{
		engine:   engine,
		catalog:  catalog,
		source:   source,
		planets:  planets,
		config:   config,
		logger:   logger,
		commands: make(chan command),
		ring:     make([]*orbit.Frame, config.TrailLength),
		subs:     make(map[chan *orbit.Frame]struct{}),
	}
	d.rebuild(nil)
	d.syncCatalog()

	logger.Info("simulation initialized",
		"frame_rate", config.FrameRate,
		"trail_length", config.TrailLength,
		"planets", len(planets),
		"use_catalog_elements", config.UseCatalogElements,
	)
	return d
}

// Engine returns the driven engine.
func (d *Driver) Engine() *orbit.Engine {
	return d.engine
}

// Config returns the normalized driver configuration.
func (d *Driver) Config() Config {
	return d.config
}

// Latest returns the most recently published frame.
func (d *Driver) Latest() *orbit.Frame {
	return d.engine.Frame()
}

// Recent returns up to n recorded frames, oldest first.
func (d *Driver) Recent(n int) []*orbit.Frame {
	if n <= 0 {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if n > d.filled {
		n = d.filled
	}
	out := make([]*orbit.Frame, 0, n)
	size := len(d.ring)
	for i := n; i > 0; i-- {
		out = append(out, d.ring[(d.next-i+size)%size])
	}
	return out
}

func (d *Driver) record(f *orbit.Frame) {
	d.mu.Lock()
	d.ring[d.next] = f
	d.next = (d.next + 1) % len(d.ring)
	if d.filled < len(d.ring) {
		d.filled++
	}
	d.mu.Unlock()
}

// Stats is a point-in-time view of driver counters.
type Stats struct {
	Running          bool      `json:"running"`
	FrameRate        int       `json:"frame_rate"`
	Ticks            int64     `json:"ticks"`
	Seq              uint64    `json:"seq"`
	Bodies           int       `json:"bodies"`
	TrailFrames      int       `json:"trail_frames"`
	Cutovers         int64     `json:"cutovers"`
	Rejected         int64     `json:"rejected_bodies"`
	DroppedFrames    int64     `json:"dropped_frames"`
	LastTickMicros   int64     `json:"last_tick_us"`
	Subscribers      int       `json:"subscribers"`
	CatalogSource    string    `json:"catalog_source,omitempty"`
	CatalogFetchedAt time.Time `json:"catalog_fetched_at,omitzero"`
}

// Stats returns current counters.
func (d *Driver) Stats() Stats {
	f := d.engine.Frame()

	d.mu.RLock()
	trail := d.filled
	src, fetched := d.catSrc, d.catFetch
	d.mu.RUnlock()

	d.subMu.Lock()
	subs := len(d.subs)
	d.subMu.Unlock()

	return Stats{
		Running:          d.running.Load(),
		FrameRate:        d.config.FrameRate,
		Ticks:            d.ticks.Load(),
		Seq:              f.Seq,
		Bodies:           len(f.Bodies),
		TrailFrames:      trail,
		Cutovers:         d.cutovers.Load(),
		Rejected:         d.rejected.Load(),
		DroppedFrames:    d.dropped.Load(),
		LastTickMicros:   d.lastTickNanos.Load() / int64(time.Microsecond),
		Subscribers:      subs,
		CatalogSource:    src,
		CatalogFetchedAt: fetched,
	}
}

// Subscribe registers for published frames. The channel holds one frame;
// a slow reader skips to the newest frame rather than blocking the driver.
// The returned cancel func is idempotent. The channel is closed on cancel
// or when the driver stops.
func (d *Driver) Subscribe() (<-chan *orbit.Frame, func()) {
	ch := make(chan *orbit.Frame, 1)

	d.subMu.Lock()
	d.subs[ch] = struct{}{}
	d.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.subMu.Lock()
			if _, ok := d.subs[ch]; ok {
				delete(d.subs, ch)
				close(ch)
			}
			d.subMu.Unlock()
		})
	}
	return ch, cancel
}

func (d *Driver) publish(f *orbit.Frame) {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	for ch := range d.subs {
		select {
		case ch <- f:
			continue
		default:
		}
		// Replace the stale frame the reader has not taken yet.
		select {
		case <-ch:
			d.dropped.Add(1)
		default:
		}
		select {
		case ch <- f:
		default:
		}
	}
}

func (d *Driver) closeSubscribers() {
	d.subMu.Lock()
	for ch := range d.subs {
		delete(d.subs, ch)
		close(ch)
	}
	d.subMu.Unlock()
}

// AddBody registers b at a freshly drawn phase and returns the registered
// body. While the driver runs, the mutation is applied on the driver
// goroutine between ticks. Runtime bodies survive catalog cutovers.
func (d *Driver) AddBody(ctx context.Context, b orbit.Body) (orbit.Body, error) {
	if !d.running.Load() {
		return d.apply(b)
	}

	reply := make(chan addResult, 1)
	select {
	case d.commands <- command{body: b, reply: reply}:
	case <-ctx.Done():
		return orbit.Body{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.body, res.err
	case <-ctx.Done():
		return orbit.Body{}, ctx.Err()
	}
}

func (d *Driver) apply(b orbit.Body) (orbit.Body, error) {
	d.regMu.Lock()
	defer d.regMu.Unlock()

	b.Phase = d.source.Phase()
	if err := d.engine.Add(b); err != nil {
		d.reject(b.ID, err)
		return orbit.Body{}, err
	}
	d.mu.Lock()
	d.extra = append(d.extra, b)
	d.mu.Unlock()
	metrics.SetBodies(d.engine.Len())
	d.logger.Info("body added", "id", b.ID, "kind", b.Kind, "phase", b.Phase)
	return b, nil
}
