package cache

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config selects where tiles are cached and how much is kept.
type Config struct {
	Enabled   bool   `json:"enabled"`
	Dir       string `json:"dir,omitempty"` // DefaultDir() when empty
	MaxSizeMB int    `json:"maxSizeMB"`
	TTLDays   int    `json:"ttlDays"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		MaxSizeMB: 500,
		TTLDays:   90, // survey tiles rarely change
	}
}

// Validate rejects limits the cache cannot honor.
func (c *Config) Validate() error {
	if c.MaxSizeMB <= 0 {
		return fmt.Errorf("cache size must be positive, got %d MB", c.MaxSizeMB)
	}
	if c.TTLDays < 0 {
		return fmt.Errorf("cache TTL must not be negative, got %d days", c.TTLDays)
	}
	return nil
}

// DefaultDir returns the per-user cache directory for tiles:
// ~/Library/Caches on macOS, %LocalAppData% on Windows and
// $XDG_CACHE_HOME (or ~/.cache) elsewhere.
func DefaultDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		homeDir, _ := os.UserHomeDir()
		base = filepath.Join(homeDir, ".cache")
	}
	return filepath.Join(base, "hips-mosaic", "tiles")
}

// Open opens the cache described by cfg, or returns nil when caching is off.
func Open(cfg *Config) (*PersistentTileCache, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dir := cfg.Dir
	if dir == "" {
		dir = DefaultDir()
	}
	return NewPersistentTileCache(dir, cfg.MaxSizeMB, cfg.TTLDays)
}
