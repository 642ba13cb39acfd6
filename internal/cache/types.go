package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheCorrupted is returned when a stored clip cannot be decoded
	ErrCacheCorrupted = errors.New("cache data corrupted")
)

// Level is the tier a clip was served from.
type Level int

const (
	LevelMemory Level = iota
	LevelDisk
)

func (l Level) String() string {
	switch l {
	case LevelMemory:
		return "memory"
	case LevelDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// Stats holds per-tier counters.
type Stats struct {
	Capacity  int64
	Size      int64
	Items     int
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRate is hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	if total := s.Hits + s.Misses; total > 0 {
		return float64(s.Hits) / float64(total)
	}
	return 0
}

// Config configures a ClipCache.
type Config struct {
	MemoryCapacity int64
	DiskCapacity   int64

	// Dir holds compressed clips and the index. Empty disables the disk tier.
	Dir string

	// CompressionLevel is a zstd level (1-22); 0 stores clips uncompressed.
	CompressionLevel int

	// TTL drops clips older than this on cleanup; 0 keeps them forever.
	TTL             time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns the defaults used by the cache server.
func DefaultConfig(dir string) Config {
	return Config{
		MemoryCapacity:   64 << 20,
		DiskCapacity:     512 << 20,
		Dir:              dir,
		CompressionLevel: 3,
		TTL:              7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

// ClipKey identifies one synthesized clip. ModelModTime ties the clip to a
// specific revision of the voice model file.
type ClipKey struct {
	Text         string
	VoicePath    string
	ModelModTime time.Time
	Options      map[string]string
}

// String returns a stable hex key. Option order does not matter.
func (k ClipKey) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\x00%s\x00%d", k.Text, k.VoicePath, k.ModelModTime.UnixNano())
	for _, name := range slices.Sorted(maps.Keys(k.Options)) {
		fmt.Fprintf(&b, "\x00%s=%s", name, k.Options[name])
	}
	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:16])
}
