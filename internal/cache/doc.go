// Package cache memoizes synthesized clips for the voice cache server. It
// pairs an in-memory LRU with a zstd-compressed disk store; disk hits are
// promoted to memory.
package cache
