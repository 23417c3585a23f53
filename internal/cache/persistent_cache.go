package cache

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hips-mosaic/internal/downloads"
	"hips-mosaic/internal/healpix"
	"hips-mosaic/internal/hips"
)

const indexFile = "cache_index.json"

// PersistentTileCache is a disk cache laid out like a HiPS tree so cached
// tiles can be browsed or served as-is.
// Structure: baseDir/{survey}/Norder{o}/Dir{d}/Npix{p}.{ext}
type PersistentTileCache struct {
	baseDir   string
	maxSize   int64 // bytes
	currSize  int64 // atomic
	ttl       time.Duration
	mu        sync.RWMutex
	saveMu    sync.Mutex
	pending   sync.WaitGroup
	metadata  map[string]*TileMetadata
	evictChan chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// TileMetadata stores information about a cached tile.
type TileMetadata struct {
	Key        string        `json:"key"`
	Survey     string        `json:"survey"`
	Order      int           `json:"order"`
	Pixel      healpix.Pixel `json:"pixel"`
	Format     string        `json:"format"`
	Size       int64         `json:"size"`
	AccessTime time.Time     `json:"accessTime"`
	CreateTime time.Time     `json:"createTime"`
}

// Key returns the cache key "{survey}:{order}:{pixel}".
func Key(survey string, order int, pixel healpix.Pixel) string {
	return fmt.Sprintf("%s:%d:%d", survey, order, pixel)
}

// NewPersistentTileCache opens (or creates) a cache under baseDir. The
// metadata index is rebuilt from the tree when it is missing or unreadable.
func NewPersistentTileCache(baseDir string, maxSizeMB int, ttlDays int) (*PersistentTileCache, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &PersistentTileCache{
		baseDir:   baseDir,
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
		ttl:       time.Duration(ttlDays) * 24 * time.Hour,
		metadata:  make(map[string]*TileMetadata),
		evictChan: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	if err := c.loadMetadata(); err != nil {
		log.Printf("[Cache] Rebuilding index: %v", err)
		if err := c.rebuildMetadata(); err != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
	}

	go c.maintenanceWorker()

	return c, nil
}

// Close stops the maintenance goroutine and flushes the index.
func (c *PersistentTileCache) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.pending.Wait()
	return c.saveMetadata()
}

// Get returns a cached tile. Expired or vanished entries are dropped.
func (c *PersistentTileCache) Get(survey string, order int, pixel healpix.Pixel) ([]byte, bool) {
	key := Key(survey, order, pixel)

	c.mu.RLock()
	meta, exists := c.metadata[key]
	var path string
	var created time.Time
	if exists {
		path = c.buildFilePath(meta)
		created = meta.CreateTime
	}
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if c.ttl > 0 && time.Since(created) > c.ttl {
		c.evictTile(key)
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.evictTile(key)
		return nil, false
	}

	c.mu.Lock()
	if m, ok := c.metadata[key]; ok {
		m.AccessTime = time.Now()
	}
	c.mu.Unlock()

	c.saveAsync()

	return data, true
}

// Set stores a tile.
func (c *PersistentTileCache) Set(survey string, order int, pixel healpix.Pixel, format string, data []byte) error {
	key := Key(survey, order, pixel)
	size := int64(len(data))

	now := time.Now()
	meta := &TileMetadata{
		Key:        key,
		Survey:     survey,
		Order:      order,
		Pixel:      pixel,
		Format:     format,
		Size:       size,
		AccessTime: now,
		CreateTime: now,
	}

	filePath := c.buildFilePath(meta)
	if err := downloads.ValidateCachePath(c.baseDir, filePath); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	c.mu.Lock()
	if old, exists := c.metadata[key]; exists {
		atomic.AddInt64(&c.currSize, -old.Size)
		if oldPath := c.buildFilePath(old); oldPath != filePath {
			os.Remove(oldPath)
		}
	}
	c.metadata[key] = meta
	c.mu.Unlock()

	if atomic.AddInt64(&c.currSize, size) > c.maxSize {
		select {
		case c.evictChan <- struct{}{}:
		default:
		}
	}

	c.saveAsync()

	return nil
}

// Path returns where a tile of the given survey would be stored.
func (c *PersistentTileCache) Path(survey string, order int, pixel healpix.Pixel, format string) string {
	return filepath.Join(c.baseDir, survey, filepath.FromSlash(hips.TilePath(order, pixel, format)))
}

func (c *PersistentTileCache) buildFilePath(meta *TileMetadata) string {
	return c.Path(meta.Survey, meta.Order, meta.Pixel, meta.Format)
}

func (c *PersistentTileCache) evictTile(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// removeLocked deletes one entry; c.mu must be held for writing.
func (c *PersistentTileCache) removeLocked(key string) {
	meta, ok := c.metadata[key]
	if !ok {
		return
	}
	os.Remove(c.buildFilePath(meta))
	delete(c.metadata, key)
	atomic.AddInt64(&c.currSize, -meta.Size)
}

func (c *PersistentTileCache) maintenanceWorker() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.evictChan:
			c.evictOldTiles()
		case <-ticker.C:
			c.evictExpiredTiles()
		}
	}
}

// evictOldTiles drops least recently used tiles until the cache is at 80%
// of its limit.
func (c *PersistentTileCache) evictOldTiles() {
	c.mu.Lock()
	if atomic.LoadInt64(&c.currSize) <= c.maxSize {
		c.mu.Unlock()
		return
	}
	targetSize := c.maxSize * 8 / 10

	entries := make([]*TileMetadata, 0, len(c.metadata))
	for _, meta := range c.metadata {
		entries = append(entries, meta)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AccessTime.Before(entries[j].AccessTime)
	})

	evicted := 0
	for _, e := range entries {
		if atomic.LoadInt64(&c.currSize) <= targetSize {
			break
		}
		c.removeLocked(e.Key)
		evicted++
	}
	c.mu.Unlock()

	log.Printf("[Cache] Evicted %d tiles (LRU)", evicted)
	c.saveMetadata()
}

func (c *PersistentTileCache) evictExpiredTiles() {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	now := time.Now()
	evicted := 0
	for key, meta := range c.metadata {
		if now.Sub(meta.CreateTime) > c.ttl {
			c.removeLocked(key)
			evicted++
		}
	}
	c.mu.Unlock()

	if evicted > 0 {
		log.Printf("[Cache] Evicted %d expired tiles", evicted)
		c.saveMetadata()
	}
}

func (c *PersistentTileCache) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(c.baseDir, indexFile))
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata map[string]*TileMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("failed to parse metadata: %w", err)
	}
	if metadata == nil {
		metadata = make(map[string]*TileMetadata)
	}

	var totalSize int64
	for _, meta := range metadata {
		totalSize += meta.Size
	}

	c.mu.Lock()
	c.metadata = metadata
	c.mu.Unlock()
	atomic.StoreInt64(&c.currSize, totalSize)

	return nil
}

func (c *PersistentTileCache) saveAsync() {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		if err := c.saveMetadata(); err != nil {
			log.Printf("[Cache] %v", err)
		}
	}()
}

// saveMetadata snapshots the index under a read lock and writes it via a
// temp file and rename. It must not be called with c.mu held.
func (c *PersistentTileCache) saveMetadata() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.RLock()
	data, err := json.MarshalIndent(c.metadata, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	metaPath := filepath.Join(c.baseDir, indexFile)
	tempPath := metaPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tempPath, metaPath); err != nil {
		return fmt.Errorf("failed to rename metadata file: %w", err)
	}
	return nil
}

// rebuildMetadata scans {survey}/Norder{o}/Dir{d}/Npix{p}.{ext} files.
func (c *PersistentTileCache) rebuildMetadata() error {
	metadata := make(map[string]*TileMetadata)
	var totalSize int64

	err := filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(c.baseDir, path)
		if err != nil {
			return nil
		}
		meta, ok := parseTilePath(relPath)
		if !ok {
			return nil
		}
		meta.Size = info.Size()
		meta.AccessTime = info.ModTime()
		meta.CreateTime = info.ModTime()
		metadata[meta.Key] = meta
		totalSize += info.Size()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan cache directory: %w", err)
	}

	c.mu.Lock()
	c.metadata = metadata
	c.mu.Unlock()
	atomic.StoreInt64(&c.currSize, totalSize)

	return c.saveMetadata()
}

func parseTilePath(relPath string) (*TileMetadata, bool) {
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	if len(parts) != 4 || !strings.HasPrefix(parts[1], "Norder") ||
		!strings.HasPrefix(parts[2], "Dir") || !strings.HasPrefix(parts[3], "Npix") {
		return nil, false
	}
	order, err := strconv.Atoi(strings.TrimPrefix(parts[1], "Norder"))
	if err != nil {
		return nil, false
	}
	name := strings.TrimPrefix(parts[3], "Npix")
	ext := filepath.Ext(name)
	if ext == "" {
		return nil, false
	}
	p, err := strconv.ParseInt(strings.TrimSuffix(name, ext), 10, 64)
	if err != nil {
		return nil, false
	}
	pixel := healpix.Pixel(p)
	return &TileMetadata{
		Key:    Key(parts[0], order, pixel),
		Survey: parts[0],
		Order:  order,
		Pixel:  pixel,
		Format: strings.TrimPrefix(ext, "."),
	}, true
}

// Stats returns cache statistics.
func (c *PersistentTileCache) Stats() (entries int, sizeBytes int64, maxBytes int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.metadata), atomic.LoadInt64(&c.currSize), c.maxSize
}

// Clear removes all cached tiles.
func (c *PersistentTileCache) Clear() error {
	c.mu.Lock()
	for key := range c.metadata {
		c.removeLocked(key)
	}
	c.mu.Unlock()

	return c.saveMetadata()
}

// GetCachePath returns the base directory of the cache.
func (c *PersistentTileCache) GetCachePath() string {
	return c.baseDir
}
