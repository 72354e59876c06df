package gorm

// KVItem is one stored key-value pair. Size caches the bytes the item counts
// against the quota so limit checks need not load values.
type KVItem struct {
	Key            string `gorm:"column:item_key;primaryKey;size:255"`
	Value          string `gorm:"type:text;not null"`
	Size           int    `gorm:"not null;default:0"`
	UpdatedAtEpoch int64  `gorm:"index:idx_kv_items_updated,sort:desc;not null"`
}

func (KVItem) TableName() string { return "kv_items" }
