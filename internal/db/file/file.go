// Package file implements a kv.Backend persisted as a single JSON document.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/promptshelf/internal/kv"
)

// ErrNotJSON is returned by Set for values that are not JSON documents.
var ErrNotJSON = errors.New("value is not valid JSON")

// Backend keeps every item in memory and rewrites the whole document on each
// write, atomically via a temp file and rename.
type Backend struct {
	kv.Listeners

	path   string
	limits kv.Limits
	items  map[string][]byte
	mu     sync.RWMutex
}

var (
	_ kv.Backend  = (*Backend)(nil)
	_ kv.Notifier = (*Backend)(nil)
)

// Open loads the document at path, creating its directory if needed.
// A missing file is an empty store.
func Open(path string, limits kv.Limits) (*Backend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	items, err := readDocument(path)
	if err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Int("items", len(items)).Msg("File backend opened")
	return &Backend{
		path:   path,
		limits: limits,
		items:  items,
	}, nil
}

// Path returns the document path.
func (b *Backend) Path() string {
	return b.path
}

func readDocument(path string) (map[string][]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read storage file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string][]byte{}, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode storage file %s: %w", path, err)
	}
	items := make(map[string][]byte, len(doc))
	for k, v := range doc {
		items[k] = []byte(v)
	}
	return items, nil
}

// persist writes items to disk. Callers hold b.mu.
// Values are written verbatim so a reload yields identical bytes.
func (b *Backend) persist(items map[string][]byte) error {
	data, err := encodeDocument(items)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".storage-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace storage file: %w", err)
	}
	return nil
}

func encodeDocument(items map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, k := range kv.Keys(items) {
		if i > 0 {
			buf.WriteString(",")
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("encode storage key: %w", err)
		}
		buf.WriteString("\n  ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(items[k])
	}
	buf.WriteString("\n}\n")
	return buf.Bytes(), nil
}

// Get implements kv.Backend.
func (b *Backend) Get(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string][]byte)
	if keys == nil {
		for k, v := range b.items {
			out[k] = bytes.Clone(v)
		}
		return out, nil
	}
	for _, k := range keys {
		if v, ok := b.items[k]; ok {
			out[k] = bytes.Clone(v)
		}
	}
	return out, nil
}

// Set implements kv.Backend.
func (b *Backend) Set(ctx context.Context, items map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	for k, v := range items {
		if !json.Valid(v) {
			return fmt.Errorf("%w: %q", ErrNotJSON, k)
		}
	}

	b.mu.Lock()
	current := make(map[string]int, len(b.items))
	for k, v := range b.items {
		current[k] = kv.ItemSize(k, v)
	}
	if err := b.limits.Check(current, items); err != nil {
		b.mu.Unlock()
		return err
	}

	next := make(map[string][]byte, len(b.items)+len(items))
	for k, v := range b.items {
		next[k] = v
	}
	for k, v := range items {
		next[k] = bytes.Clone(v)
	}
	if err := b.persist(next); err != nil {
		b.mu.Unlock()
		return err
	}
	b.items = next
	b.mu.Unlock()

	b.Notify(kv.Keys(items))
	return nil
}

// Remove implements kv.Backend.
func (b *Backend) Remove(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	next := make(map[string][]byte, len(b.items))
	for k, v := range b.items {
		next[k] = v
	}
	var removed []string
	for _, k := range keys {
		if _, ok := next[k]; ok {
			delete(next, k)
			removed = append(removed, k)
		}
	}
	if len(removed) == 0 {
		b.mu.Unlock()
		return nil
	}
	if err := b.persist(next); err != nil {
		b.mu.Unlock()
		return err
	}
	b.items = next
	b.mu.Unlock()

	b.Notify(removed)
	return nil
}

// Clear implements kv.Backend.
func (b *Backend) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	removed := make([]string, 0, len(b.items))
	for k := range b.items {
		removed = append(removed, k)
	}
	if err := b.persist(map[string][]byte{}); err != nil {
		b.mu.Unlock()
		return err
	}
	b.items = map[string][]byte{}
	b.mu.Unlock()

	sort.Strings(removed)
	b.Notify(removed)
	return nil
}

// Reload re-reads the document after an external edit and notifies listeners
// of the keys whose values differ. A deleted document reloads as empty.
func (b *Backend) Reload() error {
	items, err := readDocument(b.path)
	if err != nil {
		return err
	}

	b.mu.Lock()
	changed := diff(b.items, items)
	b.items = items
	b.mu.Unlock()

	if len(changed) > 0 {
		log.Info().Str("path", b.path).Strs("keys", changed).Msg("Storage file changed on disk")
	}
	b.Notify(changed)
	return nil
}

// diff returns the sorted keys added, removed, or modified between a and b.
func diff(a, b map[string][]byte) []string {
	var keys []string
	for k, v := range a {
		if w, ok := b[k]; !ok || !bytes.Equal(v, w) {
			keys = append(keys, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
