package sim

import (
	"context"
	"errors"
	"time"

	"github.com/star/neosim/internal/metrics"
	"github.com/star/neosim/internal/neo"
	"github.com/star/neosim/internal/orbit"
)

// Start runs the tick loop at FrameRate until ctx is cancelled:
//   - detects catalog changes and rebuilds the registry
//   - advances the engine by the measured interval since the previous tick
//   - records and publishes the frame
//
// Subscriber channels are closed on return.
func (d *Driver) Start(ctx context.Context) {
	d.running.Store(true)
	defer d.running.Store(false)
	defer d.closeSubscribers()

	d.syncCatalog()

	ticker := time.NewTicker(time.Second / time.Duration(d.config.FrameRate))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("simulation stopped", "ticks", d.ticks.Load())
			return
		case cmd := <-d.commands:
			b, err := d.apply(cmd.body)
			cmd.reply <- addResult{body: b, err: err}
		case now := <-ticker.C:
			d.syncCatalog()
			d.step(now.Sub(last))
			last = now
		}
	}
}

// step advances by elapsed, capped at maxElapsed, and publishes the frame.
func (d *Driver) step(elapsed time.Duration) *orbit.Frame {
	if elapsed > maxElapsed {
		d.logger.Debug("tick interval capped", "elapsed_ms", elapsed.Milliseconds())
		elapsed = maxElapsed
	}

	start := time.Now()
	f := d.engine.Tick(elapsed)
	dur := time.Since(start)

	d.ticks.Add(1)
	d.lastTickNanos.Store(int64(dur))
	metrics.ObserveTick(dur)
	metrics.IncFrames()

	d.record(f)
	d.publish(f)
	return f
}

// catalogChanged reports whether the store holds a catalog the registry was
// not built from.
func (d *Driver) catalogChanged() (*neo.Catalog, bool) {
	if d.catalog == nil {
		return nil, false
	}
	cat := d.catalog.Get()
	if cat == nil {
		return nil, false
	}
	if d.catalogLoaded && cat.FetchedAt.Equal(d.currentFetchedAt) {
		return nil, false
	}
	return cat, true
}

func (d *Driver) syncCatalog() {
	cat, changed := d.catalogChanged()
	if !changed {
		return
	}

	d.logger.Info("catalog cutover starting",
		"old_fetched_at", d.currentFetchedAt.UTC().Format(time.RFC3339),
		"new_fetched_at", cat.FetchedAt.UTC().Format(time.RFC3339),
		"source", cat.Source,
	)

	start := time.Now()
	d.rebuild(cat)
	d.currentFetchedAt = cat.FetchedAt
	d.catalogLoaded = true
	d.cutovers.Add(1)
	metrics.IncCutovers()

	d.logger.Info("catalog cutover complete",
		"bodies", d.engine.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// rebuild replaces the registry with the sun, planets, runtime bodies and the
// objects of cat (which may be nil). Phases carry over for surviving IDs.
func (d *Driver) rebuild(cat *neo.Catalog) {
	d.regMu.Lock()
	defer d.regMu.Unlock()

	d.mu.RLock()
	extra := append([]orbit.Body(nil), d.extra...)
	d.mu.RUnlock()

	bodies := d.buildBodies(cat, extra, d.engine.Frame())
	for _, err := range d.engine.Replace(bodies) {
		d.reject("", err)
	}

	if cat != nil {
		d.mu.Lock()
		d.catSrc, d.catFetch = cat.Source, cat.FetchedAt
		d.mu.Unlock()
	}
	metrics.SetBodies(d.engine.Len())
}

func (d *Driver) reject(id string, err error) {
	reason := "invalid"
	switch {
	case errors.Is(err, orbit.ErrDegenerateOrbit):
		reason = "degenerate_orbit"
	case errors.Is(err, orbit.ErrDuplicateBody):
		reason = "duplicate"
	}
	d.rejected.Add(1)
	metrics.IncBodiesRejected(reason)

	attrs := []any{"reason", reason, "error", err}
	if id != "" {
		attrs = append(attrs, "id", id)
	}
	d.logger.Warn("body rejected", attrs...)
}
