// Package kv defines the quota-limited key-value backend contract that the
// template store persists through, plus an in-memory implementation.
package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrItemTooLarge is returned when a single item exceeds the per-item ceiling.
	ErrItemTooLarge = errors.New("item exceeds per-item size limit")
	// ErrQuotaExceeded is returned when a write would exceed the total quota.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// Backend is a keyed store of JSON-encoded values.
//
// Values are raw JSON documents. Implementations must be safe for concurrent
// use, but offer no multi-call transactions: a read-modify-write sequence by
// one caller can interleave with another caller's.
type Backend interface {
	// Get returns the values stored under keys. Missing keys are absent from
	// the result. A nil keys slice returns every stored item.
	Get(ctx context.Context, keys []string) (map[string][]byte, error)

	// Set writes all items, enforcing the backend's limits before writing any.
	Set(ctx context.Context, items map[string][]byte) error

	// Remove deletes keys. Missing keys are ignored.
	Remove(ctx context.Context, keys []string) error

	// Clear deletes every item.
	Clear(ctx context.Context) error
}

// ChangeFunc receives the keys touched by a write.
type ChangeFunc func(keys []string)

// Notifier is implemented by backends that can report changes.
type Notifier interface {
	OnChange(fn ChangeFunc)
}

// Closer is implemented by backends holding connections or file handles.
type Closer interface {
	Close() error
}

// Limits caps item and total sizes. A zero field disables that check.
type Limits struct {
	QuotaBytes   int
	ItemMaxBytes int
}

// Browser sync-storage limits.
const (
	DefaultQuotaBytes   = 102400
	DefaultItemMaxBytes = 8192
)

// DefaultLimits returns the browser sync-storage limits.
func DefaultLimits() Limits {
	return Limits{
		QuotaBytes:   DefaultQuotaBytes,
		ItemMaxBytes: DefaultItemMaxBytes,
	}
}

// ItemSize is the number of bytes an item counts against the limits.
func ItemSize(key string, value []byte) int {
	return len(key) + len(value)
}

// Check validates a write of items on top of the current item sizes.
// current maps every stored key to its ItemSize.
func (l Limits) Check(current map[string]int, items map[string][]byte) error {
	for _, key := range sortedKeys(items) {
		size := ItemSize(key, items[key])
		if l.ItemMaxBytes > 0 && size > l.ItemMaxBytes {
			return fmt.Errorf("%w: %q is %d bytes (limit %d)", ErrItemTooLarge, key, size, l.ItemMaxBytes)
		}
	}

	if l.QuotaBytes <= 0 {
		return nil
	}

	total := 0
	for key, size := range current {
		if _, replaced := items[key]; !replaced {
			total += size
		}
	}
	for key, value := range items {
		total += ItemSize(key, value)
	}
	if total > l.QuotaBytes {
		return fmt.Errorf("%w: %d bytes (quota %d)", ErrQuotaExceeded, total, l.QuotaBytes)
	}
	return nil
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Keys returns the keys of a Get result in lexical order.
func Keys(items map[string][]byte) []string {
	return sortedKeys(items)
}
