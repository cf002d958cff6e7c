package neo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/star/neosim/internal/metrics"
)

// ErrRefreshInProgress is returned when another refresh holds the store lock.
var ErrRefreshInProgress = errors.New("catalog refresh already in progress")

// RefresherConfig controls periodic catalog refresh.
type RefresherConfig struct {
	Pages         int           // browse pages per refresh (default: 1)
	Interval      time.Duration // refresh period (default: 24h)
	IncludeComets bool          // append the mock periodic comets
}

// Refresher fetches, parses, publishes and caches the catalog.
type Refresher struct {
	fetcher *Fetcher
	store   *Store
	cache   *Cache // optional
	config  RefresherConfig
	logger  *slog.Logger
}

// NewRefresher creates a Refresher. cache may be nil.
func NewRefresher(fetcher *Fetcher, store *Store, cache *Cache, config RefresherConfig, logger *slog.Logger) *Refresher {
	if config.Pages <= 0 {
		config.Pages = 1
	}
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	return &Refresher{
		fetcher: fetcher,
		store:   store,
		cache:   cache,
		config:  config,
		logger:  logger,
	}
}

// Refresh performs one fetch cycle and publishes the result to the store.
// Pages that fail are skipped; the refresh fails only if no page succeeded.
func (r *Refresher) Refresh(ctx context.Context) (*Catalog, error) {
	if !r.store.TryLock() {
		return nil, ErrRefreshInProgress
	}
	defer r.store.Unlock()

	start := time.Now()
	var (
		objects []Asteroid
		okPages int
		lastErr error
	)

	for page := 0; page < r.config.Pages; page++ {
		data, err := r.fetcher.Fetch(ctx, page)
		if err != nil {
			lastErr = err
			r.logger.Warn("NEO page fetch failed", "page", page, "error", err)
			continue
		}
		parsed, info, err := Parse(bytes.NewReader(data), r.logger)
		if err != nil {
			lastErr = err
			r.logger.Warn("NEO page parse failed", "page", page, "error", err)
			continue
		}
		okPages++
		objects = append(objects, parsed...)
		if info.TotalPages > 0 && page+1 >= info.TotalPages {
			break
		}
	}

	if okPages == 0 {
		metrics.IncCatalogFetch("error")
		if lastErr == nil {
			lastErr = errors.New("no pages requested")
		}
		return nil, fmt.Errorf("refreshing catalog from %s: %w", r.fetcher.SourceURL(), lastErr)
	}

	if r.config.IncludeComets {
		objects = append(objects, MockComets()...)
	}

	cat := &Catalog{
		Source:    r.fetcher.SourceURL(),
		FetchedAt: time.Now(),
		Asteroids: objects,
	}
	r.store.Set(cat)
	metrics.IncCatalogFetch("success")
	metrics.SetCatalogSize(len(objects))

	if r.cache != nil {
		if err := r.cache.Write(cat); err != nil {
			r.logger.Warn("failed to cache catalog", "error", err)
		}
	}

	r.logger.Info("catalog refreshed",
		"objects", len(objects),
		"hazardous", cat.HazardousCount(),
		"pages", okPages,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return cat, nil
}

// Run refreshes whenever the current catalog is older than the interval,
// checking once a minute. Blocks until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	check := func() {
		age := r.store.AgeSeconds()
		if age >= 0 && age < r.config.Interval.Seconds() {
			return
		}
		if _, err := r.Refresh(ctx); err != nil && !errors.Is(err, ErrRefreshInProgress) {
			r.logger.Warn("scheduled catalog refresh failed", "error", err)
		}
	}

	check()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("catalog refresher stopped")
			return
		case <-ticker.C:
			check()
		}
	}
}
