// Package cache implements the two-tier price-data cache the simulation
// engine reads its input through: a byte-ceiling bounded memory tier in front
// of a TTL-expiring disk tier. One payload file per key plus one shared
// metadata index, written atomically so concurrent readers never observe a
// partial write. External tooling lists and evicts entries via the index
// without deserializing payloads.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/rxtech-lab/stocksim/internal/logger"
	"github.com/rxtech-lab/stocksim/internal/types"
	"github.com/rxtech-lab/stocksim/pkg/errors"
)

const metadataFileName = "metadata.json"

// memoryEvictionTarget is the fraction of the memory ceiling eviction drains
// usage down to once the ceiling is crossed.
const memoryEvictionTarget = 0.8

// PurgeMode selects what an explicit purge removes.
type PurgeMode string

const (
	PurgeAll     PurgeMode = "all"
	PurgeMemory  PurgeMode = "memory"
	PurgeDisk    PurgeMode = "disk"
	PurgeExpired PurgeMode = "expired"
)

// EntryInfo is the per-entry metadata persisted beside the payload.
type EntryInfo struct {
	Key            string    `json:"key"`
	DatasetKind    string    `json:"dataset_kind"`
	Instruments    []string  `json:"instruments"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	Size           int64     `json:"size"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Config sizes and locates one cache instance.
type Config struct {
	// Dir is the disk-tier directory.
	Dir string `yaml:"dir"`
	// MemoryCeilingBytes caps the memory tier. 0 disables the memory tier cap.
	MemoryCeilingBytes int64 `yaml:"memory_ceiling_bytes" validate:"gte=0"`
	// DefaultTTL applies when Put is called with a non-positive TTL.
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// PriceCache is the two-tier store. It is the only object shared across
// concurrent simulation runs; all tier mutation happens under one lock.
type PriceCache struct {
	mu          sync.Mutex
	config      Config
	logger      *logger.Logger
	memory      map[string]types.BarTable
	memoryBytes int64
	index       map[string]*EntryInfo
	now         func() time.Time
}

// Open creates the cache directory if needed and loads the metadata index.
// Entries that expired while the cache was closed are dropped immediately. A
// corrupt index is logged and discarded rather than failing the open.
func Open(config Config, log *logger.Logger) (*PriceCache, error) {
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeCacheWrite, err, "failed to create cache directory %s", config.Dir)
	}

	c := &PriceCache{
		config: config,
		logger: log,
		memory: make(map[string]types.BarTable),
		index:  make(map[string]*EntryInfo),
		now:    time.Now,
	}

	c.loadIndex()
	c.purgeExpiredLocked()
	c.flushIndexLocked()

	return c, nil
}

// Get looks a key up, memory tier first. A disk hit is promoted to memory.
// Expired or unreadable entries are dropped and reported as a miss; disk
// failures never propagate to the caller.
func (c *PriceCache) Get(key Key) optional.Option[types.BarTable] {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := key.Hash()

	info, ok := c.index[hash]
	if !ok {
		return optional.None[types.BarTable]()
	}

	if c.now().After(info.ExpiresAt) {
		c.removeEntryLocked(hash)
		c.flushIndexLocked()

		return optional.None[types.BarTable]()
	}

	if table, ok := c.memory[hash]; ok {
		info.LastAccessedAt = c.now()

		return optional.Some(table)
	}

	data, err := os.ReadFile(c.payloadPath(hash))
	if err != nil {
		c.logger.Warn("cache payload unreadable, dropping entry",
			zap.String("key", hash), zap.Error(err))
		c.removeEntryLocked(hash)
		c.flushIndexLocked()

		return optional.None[types.BarTable]()
	}

	var table types.BarTable
	if err := json.Unmarshal(data, &table); err != nil {
		c.logger.Warn("cache payload corrupt, dropping entry",
			zap.String("key", hash), zap.Error(err))
		c.removeEntryLocked(hash)
		c.flushIndexLocked()

		return optional.None[types.BarTable]()
	}

	c.memory[hash] = table
	c.memoryBytes += info.Size
	c.evictLocked()

	info.LastAccessedAt = c.now()

	return optional.Some(table)
}

// Put writes a payload through both tiers. A serialization failure is logged
// and the call proceeds uncached; a disk-write failure degrades the entry to
// memory-only. Neither ever fails the caller.
func (c *PriceCache) Put(key Key, table types.BarTable, ttl time.Duration) {
	data, err := json.Marshal(table)
	if err != nil {
		c.logger.Error("failed to serialize cache payload, proceeding uncached",
			zap.String("dataset", key.DatasetKind), zap.Error(err))

		return
	}

	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	hash := key.Hash()
	now := c.now()

	if err := c.writeFileAtomic(c.payloadPath(hash), data); err != nil {
		c.logger.Warn("failed to persist cache payload, entry is memory-only",
			zap.String("key", hash), zap.Error(err))
	}

	if old, ok := c.index[hash]; ok {
		if _, inMemory := c.memory[hash]; inMemory {
			c.memoryBytes -= old.Size
		}
	}

	c.index[hash] = &EntryInfo{
		Key:            hash,
		DatasetKind:    key.DatasetKind,
		Instruments:    append([]string(nil), key.Instruments...),
		StartDate:      key.Start,
		EndDate:        key.End,
		Size:           int64(len(data)),
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(ttl),
	}

	c.memory[hash] = table
	c.memoryBytes += int64(len(data))
	c.evictLocked()
	c.flushIndexLocked()
}

// Delete removes one key from both tiers.
func (c *PriceCache) Delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntryLocked(key.Hash())
	c.flushIndexLocked()
}

// Purge removes entries per the given mode: everything, the memory tier, the
// disk tier, or only expired entries.
func (c *PriceCache) Purge(mode PurgeMode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch mode {
	case PurgeAll:
		for hash := range c.index {
			c.removePayloadFile(hash)
		}

		c.memory = make(map[string]types.BarTable)
		c.memoryBytes = 0
		c.index = make(map[string]*EntryInfo)
	case PurgeMemory:
		c.memory = make(map[string]types.BarTable)
		c.memoryBytes = 0
	case PurgeDisk:
		for hash := range c.index {
			c.removePayloadFile(hash)
		}

		// Entries without a disk payload cannot outlive the memory tier.
		for hash := range c.index {
			if _, inMemory := c.memory[hash]; !inMemory {
				delete(c.index, hash)
			}
		}
	case PurgeExpired:
		c.purgeExpiredLocked()
	}

	c.flushIndexLocked()
}

// Info returns a snapshot of the metadata index, sorted by key.
func (c *PriceCache) Info() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]EntryInfo, 0, len(c.index))
	for _, info := range c.index {
		out = append(out, *info)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key < out[j].Key
	})

	return out
}

// MemoryUsage returns the current memory-tier footprint in bytes.
func (c *PriceCache) MemoryUsage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.memoryBytes
}

// Close flushes the metadata index.
func (c *PriceCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.flushIndexLocked()
}

// evictLocked drains the memory tier down to the eviction target once it
// crosses the ceiling, oldest last-access first. Disk payloads survive.
func (c *PriceCache) evictLocked() {
	ceiling := c.config.MemoryCeilingBytes
	if ceiling <= 0 || c.memoryBytes <= ceiling {
		return
	}

	type candidate struct {
		hash         string
		lastAccessed time.Time
		size         int64
	}

	candidates := make([]candidate, 0, len(c.memory))

	for hash := range c.memory {
		info, ok := c.index[hash]
		if !ok {
			continue
		}

		candidates = append(candidates, candidate{
			hash:         hash,
			lastAccessed: info.LastAccessedAt,
			size:         info.Size,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastAccessed.Before(candidates[j].lastAccessed)
	})

	target := int64(float64(ceiling) * memoryEvictionTarget)

	for _, cand := range candidates {
		if c.memoryBytes <= target {
			break
		}

		delete(c.memory, cand.hash)
		c.memoryBytes -= cand.size
	}
}

func (c *PriceCache) purgeExpiredLocked() {
	now := c.now()

	for hash, info := range c.index {
		if now.After(info.ExpiresAt) {
			c.removeEntryLocked(hash)
		}
	}
}

func (c *PriceCache) removeEntryLocked(hash string) {
	if info, ok := c.index[hash]; ok {
		if _, inMemory := c.memory[hash]; inMemory {
			c.memoryBytes -= info.Size
		}
	}

	delete(c.memory, hash)
	delete(c.index, hash)
	c.removePayloadFile(hash)
}

func (c *PriceCache) removePayloadFile(hash string) {
	if err := os.Remove(c.payloadPath(hash)); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove cache payload", zap.String("key", hash), zap.Error(err))
	}
}

func (c *PriceCache) payloadPath(hash string) string {
	return filepath.Join(c.config.Dir, hash+".json")
}

func (c *PriceCache) indexPath() string {
	return filepath.Join(c.config.Dir, metadataFileName)
}

func (c *PriceCache) loadIndex() {
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("failed to read cache index, starting empty", zap.Error(err))
		}

		return
	}

	var entries []EntryInfo
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Warn("cache index corrupt, starting empty", zap.Error(err))

		return
	}

	for i := range entries {
		entry := entries[i]
		c.index[entry.Key] = &entry
	}
}

// flushIndexLocked persists the metadata index via temp-file-then-rename so a
// concurrent reader never observes a partial write.
func (c *PriceCache) flushIndexLocked() error {
	entries := make([]EntryInfo, 0, len(c.index))
	for _, info := range c.index {
		entries = append(entries, *info)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		c.logger.Error("failed to serialize cache index", zap.Error(err))

		return errors.Wrap(errors.ErrCodeCacheSerialization, "failed to serialize cache index", err)
	}

	if err := c.writeFileAtomic(c.indexPath(), data); err != nil {
		c.logger.Warn("failed to persist cache index", zap.Error(err))

		return err
	}

	return nil
}

func (c *PriceCache) writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return errors.Wrap(errors.ErrCodeCacheWrite, "failed to create temp file", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return errors.Wrap(errors.ErrCodeCacheWrite, "failed to write temp file", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)

		return errors.Wrap(errors.ErrCodeCacheWrite, "failed to close temp file", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)

		return errors.Wrap(errors.ErrCodeCacheWrite, "failed to rename temp file", err)
	}

	return nil
}
