// Package chunking splits oversized serialized payloads into fixed-size
// slices and names the backend keys they are stored under.
package chunking

import (
	"strconv"
	"strings"
)

// Layout names the keys of one chunked value.
//
//	<prefix>            canonical unchunked value
//	<prefix>_count      number of chunks written
//	<prefix>_chunk_<i>  i-th slice, i from 0
type Layout struct {
	Prefix string
}

// NewLayout returns the key layout for prefix.
func NewLayout(prefix string) Layout {
	return Layout{Prefix: prefix}
}

// CanonicalKey is the key of the unchunked representation.
func (l Layout) CanonicalKey() string {
	return l.Prefix
}

// CountKey is the key of the chunk-count marker.
func (l Layout) CountKey() string {
	return l.Prefix + "_count"
}

func (l Layout) chunkPrefix() string {
	return l.Prefix + "_chunk_"
}

// ChunkKey is the key of the i-th chunk.
func (l Layout) ChunkKey(i int) string {
	return l.chunkPrefix() + strconv.Itoa(i)
}

// IsChunkKey reports whether key is any chunk key of this layout.
func (l Layout) IsChunkKey(key string) bool {
	return strings.HasPrefix(key, l.chunkPrefix())
}

// ChunkIndex parses the index out of a chunk key.
func (l Layout) ChunkIndex(key string) (int, bool) {
	if !l.IsChunkKey(key) {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimPrefix(key, l.chunkPrefix()))
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// ChunkKeys returns the keys of chunks 0..count-1.
func (l Layout) ChunkKeys(count int) []string {
	keys := make([]string, 0, count)
	for i := 0; i < count; i++ {
		keys = append(keys, l.ChunkKey(i))
	}
	return keys
}

// OwnedKeys filters keys down to every key this layout may have written:
// the canonical key, the count marker and all chunk keys. The canonical key is
// always included so callers can remove it unconditionally.
func (l Layout) OwnedKeys(keys []string) []string {
	owned := []string{l.CanonicalKey()}
	for _, key := range keys {
		if key == l.CountKey() || l.IsChunkKey(key) {
			owned = append(owned, key)
		}
	}
	return owned
}
