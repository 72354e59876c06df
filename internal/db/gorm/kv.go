package gorm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/promptshelf/internal/kv"
)

// KVBackend implements kv.Backend over the kv_items table. Limit checks and
// writes run in one transaction; writes from this process are serialized so
// SQLite never has to upgrade a read transaction under contention.
type KVBackend struct {
	kv.Listeners

	db      *gorm.DB
	limits  kv.Limits
	writeMu sync.Mutex
}

var (
	_ kv.Backend  = (*KVBackend)(nil)
	_ kv.Notifier = (*KVBackend)(nil)
)

// NewKVBackend creates a backend on store.
func NewKVBackend(store *Store, limits kv.Limits) *KVBackend {
	return &KVBackend{db: store.DB, limits: limits}
}

// Get implements kv.Backend.
func (b *KVBackend) Get(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	if keys != nil && len(keys) == 0 {
		return out, ctx.Err()
	}

	var rows []KVItem
	q := b.db.WithContext(ctx)
	if keys != nil {
		q = q.Where("item_key IN ?", keys)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	for _, r := range rows {
		out[r.Key] = []byte(r.Value)
	}
	return out, nil
}

// Set implements kv.Backend.
func (b *KVBackend) Set(ctx context.Context, items map[string][]byte) error {
	if len(items) == 0 {
		return ctx.Err()
	}

	now := time.Now().UnixMilli()
	rows := make([]KVItem, 0, len(items))
	for _, k := range kv.Keys(items) {
		rows = append(rows, KVItem{
			Key:            k,
			Value:          string(items[k]),
			Size:           kv.ItemSize(k, items[k]),
			UpdatedAtEpoch: now,
		})
	}

	b.writeMu.Lock()
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := sizes(tx)
		if err != nil {
			return err
		}
		if err := b.limits.Check(current, items); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "size", "updated_at_epoch"}),
		}).Create(&rows).Error
	})
	b.writeMu.Unlock()
	if err != nil {
		return err
	}

	b.Notify(kv.Keys(items))
	return nil
}

// sizes loads the quota footprint of every stored item.
func sizes(tx *gorm.DB) (map[string]int, error) {
	var rows []KVItem
	if err := tx.Select("item_key", "size").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select sizes: %w", err)
	}
	current := make(map[string]int, len(rows))
	for _, r := range rows {
		current[r.Key] = r.Size
	}
	return current, nil
}

// Remove implements kv.Backend.
func (b *KVBackend) Remove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return ctx.Err()
	}

	var removed []string
	b.writeMu.Lock()
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&KVItem{}).Where("item_key IN ?", keys).Order("item_key").Pluck("item_key", &removed).Error; err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}
		return tx.Where("item_key IN ?", removed).Delete(&KVItem{}).Error
	})
	b.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("delete items: %w", err)
	}

	b.Notify(removed)
	return nil
}

// Clear implements kv.Backend.
func (b *KVBackend) Clear(ctx context.Context) error {
	var removed []string
	b.writeMu.Lock()
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&KVItem{}).Order("item_key").Pluck("item_key", &removed).Error; err != nil {
			return err
		}
		return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&KVItem{}).Error
	})
	b.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("clear items: %w", err)
	}

	b.Notify(removed)
	return nil
}

// BytesInUse returns the total quota footprint of all items.
func (b *KVBackend) BytesInUse(ctx context.Context) (int64, error) {
	var total int64
	err := b.db.WithContext(ctx).Model(&KVItem{}).Select("COALESCE(SUM(size), 0)").Scan(&total).Error
	return total, err
}
