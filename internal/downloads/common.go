package downloads

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hips-mosaic/internal/healpix"
)

// ErrInvalidGrid marks grid requests rejected before any work is queued.
var ErrInvalidGrid = errors.New("invalid grid request")

// DownloadProgress tracks the progress of a grid fetch
type DownloadProgress struct {
	Downloaded    int    `json:"downloaded"`
	Total         int    `json:"total"`
	Percent       int    `json:"percent"`
	Status        string `json:"status"`
	CurrentTarget int    `json:"currentTarget"` // For batch runs (1-based)
	TotalTargets  int    `json:"totalTargets"`  // For batch runs
}

// Fetch defaults. One worker and a half-second gap keep public HiPS mirrors happy.
const (
	DefaultWorkers      = 1
	DefaultRequestDelay = 500 * time.Millisecond
	DefaultCachedDelay  = 100 * time.Millisecond
	DefaultTileTimeout  = 15 * time.Second

	MaxGridSide = 15
)

// ValidateGridRequest checks a requested grid before any work is queued.
func ValidateGridRequest(order, width, height int) error {
	if err := healpix.ValidateOrder(order); err != nil {
		return err
	}
	if width < 1 || height < 1 {
		return fmt.Errorf("%w: size must be positive: %dx%d", ErrInvalidGrid, width, height)
	}
	if width > MaxGridSide || height > MaxGridSide {
		return fmt.Errorf("%w: %dx%d exceeds maximum side %d", ErrInvalidGrid, width, height, MaxGridSide)
	}
	return nil
}

// ValidateCachePath validates that a file path is within the cache directory
// This prevents path traversal attacks from malicious input
func ValidateCachePath(cacheDir, filePath string) error {
	if cacheDir == "" || filePath == "" {
		return fmt.Errorf("cache directory or file path is empty")
	}

	absCacheDir, err := filepath.Abs(cacheDir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for cache directory: %w", err)
	}

	absFilePath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for file: %w", err)
	}

	relPath, err := filepath.Rel(absCacheDir, absFilePath)
	if err != nil {
		return fmt.Errorf("failed to get relative path: %w", err)
	}

	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal attempt detected: %s is outside cache directory %s", filePath, cacheDir)
	}

	return nil
}

// BatchTracker tracks progress across the targets of a batch run
type BatchTracker struct {
	currentTarget int
	totalTargets  int
	mu            sync.Mutex
}

// NewBatchTracker creates a new batch tracker
func NewBatchTracker(totalTargets int) *BatchTracker {
	return &BatchTracker{totalTargets: totalTargets}
}

// Next advances to the next target and returns its 1-based index
func (bt *BatchTracker) Next() int {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.currentTarget++
	return bt.currentTarget
}

// Progress returns the current target and total targets
func (bt *BatchTracker) Progress() (current, total int) {
	if bt == nil {
		return 0, 0
	}
	bt.mu.Lock()
	defer bt.mu.Unlock()
	return bt.currentTarget, bt.totalTargets
}
