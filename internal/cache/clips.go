package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ClipCache coordinates the memory and disk tiers.
type ClipCache struct {
	memory *MemoryCache
	disk   *DiskCache
	config Config

	writes sync.WaitGroup

	cleanupStop chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// NewClipCache creates a clip cache. The disk tier is skipped when
// cfg.Dir is empty.
func NewClipCache(cfg Config) (*ClipCache, error) {
	cc := &ClipCache{
		memory: NewMemoryCache(cfg.MemoryCapacity),
		config: cfg,
	}
	if cfg.Dir != "" {
		disk, err := NewDiskCache(cfg.Dir, cfg.DiskCapacity, cfg.CompressionLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to create disk cache: %w", err)
		}
		cc.disk = disk
	}
	if cfg.CleanupInterval > 0 && cfg.TTL > 0 {
		cc.cleanupStop = make(chan struct{})
		cc.cleanupDone = make(chan struct{})
		go cc.cleanupLoop()
	}
	return cc, nil
}

// Get checks memory, then disk. Disk hits are promoted to memory.
func (cc *ClipCache) Get(key string) ([]byte, Level, bool) {
	if data, ok := cc.memory.Get(key); ok {
		return data, LevelMemory, true
	}
	if cc.disk == nil {
		return nil, LevelMemory, false
	}
	data, ok := cc.disk.Get(key)
	if !ok {
		return nil, LevelDisk, false
	}
	// promotion is best effort
	_ = cc.memory.Put(key, data)
	return data, LevelDisk, true
}

// Put stores a clip in memory and writes it to disk in the background.
func (cc *ClipCache) Put(key string, clip []byte) error {
	if err := cc.memory.Put(key, clip); err != nil && !errors.Is(err, ErrItemTooLarge) {
		return fmt.Errorf("memory cache: %w", err)
	}
	if cc.disk == nil {
		return nil
	}
	cc.writes.Add(1)
	go func() {
		defer cc.writes.Done()
		if err := cc.disk.Put(key, clip); err != nil {
			log.Warn("failed to persist clip", "key", key, "bytes", len(clip), "error", err)
		}
	}()
	return nil
}

// Flush waits for pending disk writes.
func (cc *ClipCache) Flush() {
	cc.writes.Wait()
}

// Stats returns per-tier statistics.
func (cc *ClipCache) Stats() (memory, disk Stats) {
	memory = cc.memory.Stats()
	if cc.disk != nil {
		disk = cc.disk.Stats()
	}
	return memory, disk
}

// Cleanup drops clips older than the configured TTL from both tiers.
func (cc *ClipCache) Cleanup() int {
	if cc.config.TTL <= 0 {
		return 0
	}
	removed := cc.memory.Prune(cc.config.TTL)
	if cc.disk != nil {
		removed += cc.disk.RemoveOlderThan(time.Now().Add(-cc.config.TTL))
	}
	if removed > 0 {
		log.Debug("expired cached clips", "count", removed, "ttl", cc.config.TTL)
	}
	return removed
}

func (cc *ClipCache) cleanupLoop() {
	defer close(cc.cleanupDone)
	ticker := time.NewTicker(cc.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cc.Cleanup()
		case <-cc.cleanupStop:
			return
		}
	}
}

// Close stops cleanup, waits for pending writes and saves the disk index.
func (cc *ClipCache) Close() error {
	var err error
	cc.closeOnce.Do(func() {
		if cc.cleanupStop != nil {
			close(cc.cleanupStop)
			<-cc.cleanupDone
		}
		cc.writes.Wait()
		if cc.disk != nil {
			if cerr := cc.disk.Close(); cerr != nil {
				err = fmt.Errorf("failed to close disk cache: %w", cerr)
			}
		}
	})
	return err
}
