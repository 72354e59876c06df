package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: key-value items
		{
			ID: "001_kv_items",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&KVItem{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("kv_items")
			},
		},
	})
	return m.Migrate()
}
