package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/star/neosim/internal/api"
	"github.com/star/neosim/internal/config"
	"github.com/star/neosim/internal/metrics"
	"github.com/star/neosim/internal/neo"
	"github.com/star/neosim/internal/orbit"
	"github.com/star/neosim/internal/sim"
	"github.com/star/neosim/internal/stream"
	"github.com/star/neosim/internal/synthetic"
	"github.com/star/neosim/web"
)

func main() {
	configDir := pflag.String("config-dir", "", "directory containing "+config.FileName)
	pflag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configDir, logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("neosim exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := neo.NewStore()

	var cache *neo.Cache
	if cfg.Catalog.CachePath != "" {
		c, err := neo.OpenCache(cfg.Catalog.CachePath, cfg.Catalog.MaxSnapshots, logger)
		if err != nil {
			logger.Warn("catalog cache unavailable, continuing without it", "path", cfg.Catalog.CachePath, "error", err)
		} else {
			cache = c
			defer cache.Close()
		}
	}

	// Attempt to load a cached catalog on startup.
	if cache != nil {
		cat, err := cache.LoadLatest()
		if err != nil {
			logger.Info("no catalog cache found, starting without NEO data", "error", err)
		} else {
			store.Set(cat)
			metrics.SetCatalogSize(len(cat.Asteroids))
			logger.Info("loaded catalog from cache",
				"count", len(cat.Asteroids),
				"source", cat.Source,
				"fetched_at", cat.FetchedAt.Format(time.RFC3339),
			)
		}
	}

	var refresher *neo.Refresher
	if cfg.Catalog.EnableFetch {
		fetcher := neo.NewFetcher(cfg.Catalog.SourceURL, cfg.Catalog.APIKey, cfg.Catalog.PageSize, logger)
		refresher = neo.NewRefresher(fetcher, store, cache, neo.RefresherConfig{
			Pages:         cfg.Catalog.Pages,
			Interval:      cfg.Catalog.RefreshInterval,
			IncludeComets: cfg.Catalog.IncludeComets,
		}, logger)
	} else if store.Get() == nil {
		cat := neo.MockCatalog(time.Now())
		if cfg.Catalog.IncludeComets {
			cat.Asteroids = append(cat.Asteroids, neo.MockComets()...)
		}
		store.Set(cat)
		metrics.SetCatalogSize(len(cat.Asteroids))
		logger.Info("catalog fetching disabled, using mock catalog", "count", len(cat.Asteroids))
	}

	planets, err := loadPlanets(cfg.Catalog.PlanetsFile)
	if err != nil {
		return err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	generator := synthetic.New(seed, synthetic.DefaultRanges())
	logger.Info("synthetic generator seeded", "seed", seed)

	engine := orbit.NewEngine(cfg.Engine, logger)
	driver := sim.NewDriver(engine, store, generator, planets, cfg.Sim, logger)

	streamHandler := stream.NewHandler(driver, cfg.Stream, logger)

	srv := api.NewServer(cfg.HTTPAddr, logger, cfg.Auth, api.Deps{
		Driver:     driver,
		Store:      store,
		Refresher:  refresher,
		Stream:     streamHandler,
		Scenario:   cfg.Scenario,
		Web:        web.Content,
		TrustProxy: cfg.Stream.TrustProxy,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		driver.Start(gctx)
		return nil
	})

	if refresher != nil {
		g.Go(func() error {
			refresher.Run(gctx)
			return nil
		})
	}

	// Background goroutine to update catalog age gauge.
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if age := store.AgeSeconds(); age >= 0 {
					metrics.SetCatalogAge(age)
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		logger.Info("starting server",
			"addr", cfg.HTTPAddr,
			"auth_enabled", cfg.Auth.Enabled,
			"catalog_fetch_enabled", cfg.Catalog.EnableFetch,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// loadPlanets reads the planet table from path, or returns the built-in
// inner planets when path is empty.
func loadPlanets(path string) ([]orbit.Body, error) {
	if path == "" {
		return orbit.DefaultPlanets(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening planets file: %w", err)
	}
	defer f.Close()

	planets, err := orbit.LoadPlanets(f)
	if err != nil {
		return nil, fmt.Errorf("loading planets from %s: %w", path, err)
	}
	return planets, nil
}
