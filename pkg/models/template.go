// Package models contains domain models for promptshelf.
package models

import "time"

// Category is the closed classification label driving optimizer rule selection.
type Category string

const (
	CategoryAll    Category = "all"
	CategoryImage  Category = "image"
	CategoryVideo  Category = "video"
	CategoryCustom Category = "custom"
)

// Categories lists every category in declaration order.
// Order matters: category detection resolves score ties by it.
var Categories = []Category{CategoryAll, CategoryImage, CategoryVideo, CategoryCustom}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory converts s to a Category. Unknown values return ("", false).
func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	if !c.Valid() {
		return "", false
	}
	return c, true
}

// Template field limits.
const (
	TitleMaxLength   = 100
	ContentMaxLength = 5000
	TagMaxLength     = 30
	MaxTags          = 10
)

// Variable is a bracket-delimited placeholder derived from template content.
type Variable struct {
	Name         string `json:"name" yaml:"name"`
	Label        string `json:"label" yaml:"label"`
	DefaultValue string `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	Required     bool   `json:"required" yaml:"required"`
}

// Template is a user-owned reusable prompt.
// Variables is a cache of content analysis and must be re-derived whenever
// Content changes.
type Template struct {
	ID         string     `json:"id" yaml:"id"`
	Title      string     `json:"title" yaml:"title"`
	Category   Category   `json:"category" yaml:"category"`
	Content    string     `json:"content" yaml:"content"`
	Tags       []string   `json:"tags" yaml:"tags"`
	Variables  []Variable `json:"variables" yaml:"variables"`
	CreatedAt  string     `json:"createdAt" yaml:"createdAt"`
	UpdatedAt  string     `json:"updatedAt" yaml:"updatedAt"`
	UsageCount int        `json:"usageCount" yaml:"usageCount"`
	IsFavorite bool       `json:"isFavorite" yaml:"isFavorite"`
	Source     string     `json:"source,omitempty" yaml:"source,omitempty"`
}

// CategoryStats summarizes the templates of one category.
type CategoryStats struct {
	Category Category `json:"category" yaml:"category"`
	Count    int      `json:"count" yaml:"count"`
	LastUsed string   `json:"lastUsed,omitempty" yaml:"lastUsed,omitempty"`
}

// TimestampLayout is the millisecond-precision ISO-8601 layout used for all
// persisted timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Timestamp formats t in UTC using TimestampLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
