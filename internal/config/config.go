// Package config loads neosim settings from defaults, an optional neosim.yaml
// file and NEOSIM_-prefixed environment variables, in increasing precedence.
// Malformed values are logged and replaced by their defaults; only settings
// the process cannot run safely without produce an error.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/star/neosim/internal/auth"
	"github.com/star/neosim/internal/orbit"
	"github.com/star/neosim/internal/scenario"
	"github.com/star/neosim/internal/sim"
	"github.com/star/neosim/internal/stream"
)

// FileName is the config file looked up in the config directory.
const FileName = "neosim.yaml"

// CatalogConfig controls where NEO data comes from and how it is cached.
type CatalogConfig struct {
	EnableFetch     bool
	SourceURL       string
	APIKey          string
	PageSize        int
	Pages           int
	RefreshInterval time.Duration
	CachePath       string // empty disables the on-disk cache
	MaxSnapshots    int
	IncludeComets   bool
	PlanetsFile     string // optional YAML planet table
}

// Config is the complete process configuration.
type Config struct {
	LogLevel slog.Level
	HTTPAddr string
	Seed     uint64 // synthetic generator seed; 0 picks one at startup

	Auth     auth.Config
	Engine   orbit.Config
	Sim      sim.Config
	Catalog  CatalogConfig
	Stream   stream.Config
	Scenario scenario.Config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("synthetic.seed", 0)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token", "")

	v.SetDefault("engine.tick_rate", 60)
	v.SetDefault("engine.k", 60)
	v.SetDefault("engine.time_scale", 1.0)

	v.SetDefault("sim.frame_rate", 30)
	v.SetDefault("sim.trail_length", 120)
	v.SetDefault("sim.use_catalog_elements", false)

	v.SetDefault("catalog.enable_fetch", true)
	v.SetDefault("catalog.source_url", "")
	v.SetDefault("catalog.api_key", "")
	v.SetDefault("catalog.page_size", 20)
	v.SetDefault("catalog.pages", 1)
	v.SetDefault("catalog.refresh_interval", "24h")
	v.SetDefault("catalog.cache_path", "/tmp/neosim/catalog.db")
	v.SetDefault("catalog.max_snapshots", 5)
	v.SetDefault("catalog.include_comets", true)
	v.SetDefault("catalog.planets_file", "")

	v.SetDefault("stream.max_concurrent_per_ip", 10)
	v.SetDefault("stream.bandwidth_limit", 1048576)
	v.SetDefault("stream.keepalive_interval", "30s")
	v.SetDefault("stream.max_fps", 30)
	v.SetDefault("stream.trust_proxy", false)

	v.SetDefault("scenario.workers", runtime.NumCPU())
}

// Load reads configuration. configDir may be empty, in which case no file is
// consulted; a missing neosim.yaml in configDir is not an error.
func Load(configDir string, logger *slog.Logger) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NEOSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configDir != "" {
		v.SetConfigName(strings.TrimSuffix(FileName, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("reading config file: %w", err)
			}
			logger.Info("no config file found, using defaults and environment", "dir", configDir)
		} else {
			logger.Info("config file loaded", "path", v.ConfigFileUsed())
		}
	}

	r := reader{v: v, logger: logger}
	cfg := Config{
		LogLevel: r.level("log.level", slog.LevelInfo),
		HTTPAddr: r.str("http.addr", ":8080"),
		Seed:     r.seed("synthetic.seed"),
		Engine: orbit.Config{
			TickRate:  r.positiveFloat("engine.tick_rate", 60),
			K:         r.positiveFloat("engine.k", 60),
			TimeScale: r.positiveFloat("engine.time_scale", 1),
		},
		Sim: sim.Config{
			FrameRate:          r.positiveInt("sim.frame_rate", 30),
			TrailLength:        r.positiveInt("sim.trail_length", 120),
			UseCatalogElements: r.boolean("sim.use_catalog_elements", false),
		},
		Catalog: CatalogConfig{
			EnableFetch:     r.boolean("catalog.enable_fetch", true),
			SourceURL:       v.GetString("catalog.source_url"),
			APIKey:          v.GetString("catalog.api_key"),
			PageSize:        r.positiveInt("catalog.page_size", 20),
			Pages:           r.positiveInt("catalog.pages", 1),
			RefreshInterval: r.duration("catalog.refresh_interval", 24*time.Hour),
			CachePath:       v.GetString("catalog.cache_path"),
			MaxSnapshots:    r.positiveInt("catalog.max_snapshots", 5),
			IncludeComets:   r.boolean("catalog.include_comets", true),
			PlanetsFile:     v.GetString("catalog.planets_file"),
		},
		Stream: stream.Config{
			MaxConcurrentPerIP: r.positiveInt("stream.max_concurrent_per_ip", 10),
			BandwidthLimit:     r.positiveInt("stream.bandwidth_limit", 1048576),
			KeepaliveInterval:  r.duration("stream.keepalive_interval", 30*time.Second),
			MaxFPS:             r.positiveInt("stream.max_fps", 30),
			TrustProxy:         r.boolean("stream.trust_proxy", false),
		},
		Scenario: scenario.Config{
			Workers: r.positiveInt("scenario.workers", runtime.NumCPU()),
		},
	}

	authCfg, err := loadAuth(v)
	if err != nil {
		return Config{}, err
	}
	cfg.Auth = authCfg

	return cfg, nil
}

func loadAuth(v *viper.Viper) (auth.Config, error) {
	cfg := auth.Config{}

	raw := strings.TrimSpace(v.GetString("auth.enabled"))
	if raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return cfg, errors.New("auth.enabled (NEOSIM_AUTH_ENABLED) must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = v.GetString("auth.token")
		if cfg.Token == "" {
			return cfg, errors.New("auth.token (NEOSIM_AUTH_TOKEN) is required when auth is enabled")
		}
	}
	return cfg, nil
}

// reader wraps lookups with warn-and-default validation.
type reader struct {
	v      *viper.Viper
	logger *slog.Logger
}

func (r reader) invalid(key, raw string, def any) {
	r.logger.Warn("invalid config value, using default", "key", key, "value", raw, "default", def)
}

func (r reader) str(key, def string) string {
	if s := strings.TrimSpace(r.v.GetString(key)); s != "" {
		return s
	}
	return def
}

func (r reader) positiveInt(key string, def int) int {
	raw := strings.TrimSpace(r.v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		r.invalid(key, raw, def)
		return def
	}
	return n
}

func (r reader) positiveFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(r.v.GetString(key))
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(f > 0) || f > 1e12 {
		r.invalid(key, raw, def)
		return def
	}
	return f
}

func (r reader) boolean(key string, def bool) bool {
	raw := strings.TrimSpace(r.v.GetString(key))
	b, err := strconv.ParseBool(raw)
	if err != nil {
		r.invalid(key, raw, def)
		return def
	}
	return b
}

// duration accepts Go duration strings or a bare number of seconds.
func (r reader) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(r.v.GetString(key))
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 1 {
			r.invalid(key, raw, def)
			return def
		}
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		r.invalid(key, raw, def)
		return def
	}
	return d
}

func (r reader) level(key string, def slog.Level) slog.Level {
	raw := strings.TrimSpace(r.v.GetString(key))
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		r.invalid(key, raw, def.String())
		return def
	}
	return lvl
}

func (r reader) seed(key string) uint64 {
	raw := strings.TrimSpace(r.v.GetString(key))
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		r.invalid(key, raw, 0)
		return 0
	}
	return n
}
