package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hips-mosaic/internal/cache"
	"hips-mosaic/internal/centering"
	"hips-mosaic/internal/common"
	"hips-mosaic/internal/grid"
	"hips-mosaic/internal/healpix"
	"hips-mosaic/internal/hips"
	"hips-mosaic/internal/mosaic"
)

// UserSettings represents persistent user preferences
type UserSettings struct {
	// Survey and grid
	DefaultSurvey string  `json:"defaultSurvey"`
	Order         int     `json:"order"`
	GridWidth     int     `json:"gridWidth"`
	GridHeight    int     `json:"gridHeight"`
	GridStrategy  string  `json:"gridStrategy"` // "extrapolate" or "walk"
	MinCoverage   float64 `json:"minCoverage"`
	CompassOrder  string  `json:"compassOrder"` // "formal" or "legacy"
	TileSize      int     `json:"tileSize"`

	// Centering calibration
	ArcsecPerPixel  float64 `json:"arcsecPerPixel"`
	DeriveScale     bool    `json:"deriveScale"` // ignore ArcsecPerPixel and use the tiling geometry
	MaxOffsetPixels float64 `json:"maxOffsetPixels"`
	OutputSize      int     `json:"outputSize"`

	// Fetching
	FetchWorkers   int `json:"fetchWorkers"`
	RequestDelayMs int `json:"requestDelayMs"`
	CachedDelayMs  int `json:"cachedDelayMs"`
	TileTimeoutSec int `json:"tileTimeoutSec"`

	// Cache settings
	DisableCache   bool   `json:"disableCache"`
	CacheDir       string `json:"cacheDir,omitempty"`
	CacheMaxSizeMB int    `json:"cacheMaxSizeMB"`
	CacheTTLDays   int    `json:"cacheTTLDays"`

	// Output
	OutputDir    string `json:"outputDir"`
	OutputFormat string `json:"outputFormat"` // "png", "tiles", "tiff", "both"
	DatabasePath string `json:"databasePath"`

	// Optional data files replacing the built-in tables
	SurveysPath string `json:"surveysPath,omitempty"`
	TargetsPath string `json:"targetsPath,omitempty"`

	// Server
	ServerAddr string `json:"serverAddr"`

	// Telemetry is off unless a key is set.
	TelemetryAPIKey   string `json:"telemetryApiKey,omitempty"`
	TelemetryEndpoint string `json:"telemetryEndpoint,omitempty"`
}

// BaseDir returns ~/.hips-mosaic.
func BaseDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".hips-mosaic")
}

// DefaultSettings returns default user settings
func DefaultSettings() *UserSettings {
	homeDir, _ := os.UserHomeDir()
	cacheCfg := cache.DefaultConfig()
	calib := centering.DefaultConfig()

	return &UserSettings{
		DefaultSurvey:   hips.DefaultSurveyID,
		Order:           healpix.DefaultOrder,
		GridWidth:       3,
		GridHeight:      3,
		GridStrategy:    string(grid.StrategyExtrapolate),
		MinCoverage:     grid.DefaultMinCoverage,
		CompassOrder:    "formal",
		TileSize:        mosaic.DefaultTileSize,
		ArcsecPerPixel:  calib.ArcsecPerPixel,
		MaxOffsetPixels: calib.MaxOffsetPixels,
		OutputSize:      calib.OutputSize,
		FetchWorkers:    1,
		RequestDelayMs:  500,
		CachedDelayMs:   100,
		TileTimeoutSec:  int(hips.DefaultTimeout / time.Second),
		CacheMaxSizeMB:  cacheCfg.MaxSizeMB,
		CacheTTLDays:    cacheCfg.TTLDays,
		OutputDir:       filepath.Join(homeDir, "hips-mosaics"),
		OutputFormat:    "png",
		DatabasePath:    filepath.Join(BaseDir(), "runs.db"),
		ServerAddr:      "127.0.0.1:8642",
	}
}

// GetSettingsPath returns ~/.hips-mosaic/settings.json
func GetSettingsPath() string {
	return filepath.Join(BaseDir(), "settings.json")
}

// LoadSettings loads user settings from the default path.
func LoadSettings() (*UserSettings, error) {
	return LoadSettingsFrom(GetSettingsPath())
}

// LoadSettingsFrom loads settings from path. A missing file yields defaults;
// zero-valued fields in the file are filled from the defaults.
func LoadSettingsFrom(path string) (*UserSettings, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultSettings(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var settings UserSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	settings.mergeDefaults(DefaultSettings())

	return &settings, nil
}

func (s *UserSettings) mergeDefaults(d *UserSettings) {
	if s.DefaultSurvey == "" {
		s.DefaultSurvey = d.DefaultSurvey
	}
	if s.Order == 0 {
		s.Order = d.Order
	}
	if s.GridWidth == 0 {
		s.GridWidth = d.GridWidth
	}
	if s.GridHeight == 0 {
		s.GridHeight = d.GridHeight
	}
	if s.GridStrategy == "" {
		s.GridStrategy = d.GridStrategy
	}
	if s.MinCoverage == 0 {
		s.MinCoverage = d.MinCoverage
	}
	if s.CompassOrder == "" {
		s.CompassOrder = d.CompassOrder
	}
	if s.TileSize == 0 {
		s.TileSize = d.TileSize
	}
	if s.ArcsecPerPixel == 0 {
		s.ArcsecPerPixel = d.ArcsecPerPixel
	}
	if s.MaxOffsetPixels == 0 {
		s.MaxOffsetPixels = d.MaxOffsetPixels
	}
	if s.OutputSize == 0 {
		s.OutputSize = d.OutputSize
	}
	if s.FetchWorkers == 0 {
		s.FetchWorkers = d.FetchWorkers
	}
	if s.RequestDelayMs == 0 {
		s.RequestDelayMs = d.RequestDelayMs
	}
	if s.CachedDelayMs == 0 {
		s.CachedDelayMs = d.CachedDelayMs
	}
	if s.TileTimeoutSec == 0 {
		s.TileTimeoutSec = d.TileTimeoutSec
	}
	if s.CacheMaxSizeMB == 0 {
		s.CacheMaxSizeMB = d.CacheMaxSizeMB
	}
	if s.CacheTTLDays == 0 {
		s.CacheTTLDays = d.CacheTTLDays
	}
	if s.OutputDir == "" {
		s.OutputDir = d.OutputDir
	}
	if s.OutputFormat == "" {
		s.OutputFormat = d.OutputFormat
	}
	if s.DatabasePath == "" {
		s.DatabasePath = d.DatabasePath
	}
	if s.ServerAddr == "" {
		s.ServerAddr = d.ServerAddr
	}
}

// SaveSettings saves user settings to the default path.
func SaveSettings(settings *UserSettings) error {
	return SaveSettingsTo(GetSettingsPath(), settings)
}

// SaveSettingsTo writes settings to path after validating them.
func SaveSettingsTo(path string, settings *UserSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// Validate checks the settings for values no run could use.
func (s *UserSettings) Validate() error {
	if err := healpix.ValidateOrder(s.Order); err != nil {
		return err
	}
	if s.GridWidth < 1 || s.GridHeight < 1 {
		return fmt.Errorf("grid size must be positive: %dx%d", s.GridWidth, s.GridHeight)
	}
	if _, err := grid.ParseStrategy(s.GridStrategy); err != nil {
		return err
	}
	if s.MinCoverage < 0 || s.MinCoverage > 1 {
		return fmt.Errorf("min coverage must be in [0, 1]: %g", s.MinCoverage)
	}
	if _, err := healpix.ParseCompassOrder(s.CompassOrder); err != nil {
		return err
	}
	if s.TileSize <= 0 {
		return fmt.Errorf("tile size must be positive")
	}
	if s.ArcsecPerPixel < 0 || s.MaxOffsetPixels <= 0 || s.OutputSize <= 0 {
		return fmt.Errorf("calibration values must be positive")
	}
	if s.FetchWorkers <= 0 {
		return fmt.Errorf("fetch workers must be positive")
	}
	if s.RequestDelayMs < 0 || s.CachedDelayMs < 0 || s.TileTimeoutSec <= 0 {
		return fmt.Errorf("invalid fetch timing")
	}
	if !s.DisableCache && (s.CacheMaxSizeMB <= 0 || s.CacheTTLDays <= 0) {
		return fmt.Errorf("cache size and TTL must be positive")
	}
	if s.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if _, err := common.ParseOutputFormat(s.OutputFormat); err != nil {
		return err
	}
	return nil
}

// GridConfig returns the grid builder settings.
func (s *UserSettings) GridConfig() (grid.Config, error) {
	strategy, err := grid.ParseStrategy(s.GridStrategy)
	if err != nil {
		return grid.Config{}, err
	}
	return grid.Config{Strategy: strategy, MinCoverage: s.MinCoverage}, nil
}

// Compass returns the configured neighbor slot order.
func (s *UserSettings) Compass() (healpix.CompassOrder, error) {
	return healpix.ParseCompassOrder(s.CompassOrder)
}

// CenteringConfig returns the calibration for a run at order.
func (s *UserSettings) CenteringConfig(order int) centering.Config {
	cfg := centering.Config{
		ArcsecPerPixel:  s.ArcsecPerPixel,
		MaxOffsetPixels: s.MaxOffsetPixels,
		OutputSize:      s.OutputSize,
	}
	if s.DeriveScale {
		cfg.ArcsecPerPixel = 0
		cfg = cfg.WithDerivedScale(order, s.TileSize)
	}
	return cfg
}

// CacheConfig returns the tile cache settings.
func (s *UserSettings) CacheConfig() *cache.Config {
	return &cache.Config{
		Enabled:   !s.DisableCache,
		Dir:       s.CacheDir,
		MaxSizeMB: s.CacheMaxSizeMB,
		TTLDays:   s.CacheTTLDays,
	}
}

// Format returns the parsed output format.
func (s *UserSettings) Format() common.OutputFormat {
	f, _ := common.ParseOutputFormat(s.OutputFormat)
	return f
}

// RequestDelay is the pause after a network fetch.
func (s *UserSettings) RequestDelay() time.Duration {
	return time.Duration(s.RequestDelayMs) * time.Millisecond
}

// CachedDelay is the pause after a cache hit.
func (s *UserSettings) CachedDelay() time.Duration {
	return time.Duration(s.CachedDelayMs) * time.Millisecond
}

// TileTimeout bounds a single tile task.
func (s *UserSettings) TileTimeout() time.Duration {
	return time.Duration(s.TileTimeoutSec) * time.Second
}
