package neo

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNoSnapshot is returned by LoadLatest when the cache is empty.
var ErrNoSnapshot = errors.New("no catalog snapshot cached")

// snapshot is one cached catalog, stored as its JSON encoding.
type snapshot struct {
	ID        uint   `gorm:"primaryKey"`
	Source    string `gorm:"size:255"`
	FetchedAt int64  `gorm:"index"` // unix nanoseconds
	Objects   int
	Payload   []byte
	CreatedAt time.Time
}

func (snapshot) TableName() string {
	return "catalog_snapshots"
}

// Cache keeps the most recent catalog snapshots in SQLite.
type Cache struct {
	db           *gorm.DB
	maxSnapshots int
	logger       *slog.Logger
}

// OpenCache opens (or creates) the snapshot database at path and keeps at most
// maxSnapshots rows. An empty path uses a private in-memory database.
func OpenCache(path string, maxSnapshots int, log *slog.Logger) (*Cache, error) {
	if maxSnapshots <= 0 {
		maxSnapshots = 5
	}

	dsn := path
	if dsn == "" {
		dsn = "file::memory:"
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating catalog cache directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening catalog cache %q: %w", dsn, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("accessing sql interface: %w", err)
	}
	// A single connection keeps an in-memory database alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&snapshot{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrating catalog cache: %w", err)
	}

	log.Info("catalog cache opened", "path", dsn, "max_snapshots", maxSnapshots)
	return &Cache{db: db, maxSnapshots: maxSnapshots, logger: log}, nil
}

// Write stores c and prunes snapshots beyond the retention limit.
func (c *Cache) Write(cat *Catalog) error {
	payload, err := json.Marshal(cat)
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}

	row := snapshot{
		Source:    cat.Source,
		FetchedAt: cat.FetchedAt.UnixNano(),
		Objects:   len(cat.Asteroids),
		Payload:   payload,
	}
	if err := c.db.Create(&row).Error; err != nil {
		return fmt.Errorf("writing catalog snapshot: %w", err)
	}

	return c.prune()
}

// LoadLatest returns the newest cached catalog by fetch time.
func (c *Cache) LoadLatest() (*Catalog, error) {
	var row snapshot
	err := c.db.Order("fetched_at desc").Order("id desc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalog snapshot: %w", err)
	}

	var cat Catalog
	if err := json.Unmarshal(row.Payload, &cat); err != nil {
		return nil, fmt.Errorf("decoding catalog snapshot %d: %w", row.ID, err)
	}
	return &cat, nil
}

// Count returns the number of cached snapshots.
func (c *Cache) Count() (int64, error) {
	var n int64
	err := c.db.Model(&snapshot{}).Count(&n).Error
	return n, err
}

func (c *Cache) prune() error {
	var ids []uint
	if err := c.db.Model(&snapshot{}).Order("fetched_at desc").Order("id desc").Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("listing catalog snapshots: %w", err)
	}
	if len(ids) <= c.maxSnapshots {
		return nil
	}

	stale := ids[c.maxSnapshots:]
	if err := c.db.Delete(&snapshot{}, stale).Error; err != nil {
		return fmt.Errorf("pruning catalog snapshots: %w", err)
	}
	c.logger.Debug("catalog cache pruned", "removed", len(stale))
	return nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
