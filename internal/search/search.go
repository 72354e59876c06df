// Package search filters and orders the template collection for display.
package search

import (
	"sort"
	"strings"

	"github.com/thebtf/promptshelf/pkg/models"
)

// Sort selects the result order.
type Sort string

const (
	SortStored    Sort = ""          // Collection order
	SortRelevance Sort = "relevance" // Fused match quality, stored order without a query
	SortRecent    Sort = "recent"    // updatedAt descending
	SortUsage     Sort = "usage"     // usageCount descending
	SortTitle     Sort = "title"     // title ascending, case-insensitive
)

// ParseSort maps a query value to a Sort. Unknown values give SortStored.
func ParseSort(s string) Sort {
	switch v := Sort(strings.ToLower(s)); v {
	case SortRelevance, SortRecent, SortUsage, SortTitle:
		return v
	}
	return SortStored
}

// Params filter and order a search.
type Params struct {
	Query         string
	Category      models.Category // empty or "all" matches every category
	Sort          Sort
	FavoritesOnly bool
	Limit         int // 0 means no limit
}

// Matches reports whether t passes the category, favorite and text filters.
// The text filter is a case-insensitive substring match on the title, the
// content or any tag.
func Matches(t models.Template, p Params) bool {
	if p.Category != "" && p.Category != models.CategoryAll && t.Category != p.Category {
		return false
	}
	if p.FavoritesOnly && !t.IsFavorite {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(p.Query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(t.Title), q) ||
		strings.Contains(strings.ToLower(t.Content), q) ||
		tagMatch(t.Tags, q)
}

func tagMatch(tags []string, q string) bool {
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// Search returns the templates matching p in the requested order.
func Search(templates []models.Template, p Params) []models.Template {
	matched := make([]models.Template, 0, len(templates))
	for _, t := range templates {
		if Matches(t, p) {
			matched = append(matched, t)
		}
	}

	switch p.Sort {
	case SortRelevance:
		matched = byRelevance(matched, strings.ToLower(strings.TrimSpace(p.Query)))
	case SortRecent:
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].UpdatedAt > matched[j].UpdatedAt
		})
	case SortUsage:
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].UsageCount > matched[j].UsageCount
		})
	case SortTitle:
		sort.SliceStable(matched, func(i, j int) bool {
			return strings.ToLower(matched[i].Title) < strings.ToLower(matched[j].Title)
		})
	}

	if p.Limit > 0 && len(matched) > p.Limit {
		matched = matched[:p.Limit]
	}
	return matched
}

// byRelevance fuses four rankings: title hits, tag hits, content hits and
// popularity. Title and tag hits weigh double.
func byRelevance(matched []models.Template, q string) []models.Template {
	if q == "" || len(matched) < 2 {
		return matched
	}

	type hit struct {
		id    string
		score int
	}
	var titles, tags, contents []hit
	for _, t := range matched {
		title := strings.ToLower(t.Title)
		if i := strings.Index(title, q); i >= 0 {
			// Earlier and exact title matches rank higher
			score := -i
			if title == q {
				score = 1
			}
			titles = append(titles, hit{t.ID, score})
		}
		for _, tag := range t.Tags {
			lt := strings.ToLower(tag)
			if lt == q {
				tags = append(tags, hit{t.ID, 1})
				break
			}
			if strings.Contains(lt, q) {
				tags = append(tags, hit{t.ID, 0})
				break
			}
		}
		if n := strings.Count(strings.ToLower(t.Content), q); n > 0 {
			contents = append(contents, hit{t.ID, n})
		}
	}

	ranked := func(hits []hit) []ScoredID {
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
		out := make([]ScoredID, len(hits))
		for i, h := range hits {
			out[i] = ScoredID{ID: h.id}
		}
		return out
	}

	popular := make([]models.Template, len(matched))
	copy(popular, matched)
	sort.SliceStable(popular, func(i, j int) bool {
		if popular[i].IsFavorite != popular[j].IsFavorite {
			return popular[i].IsFavorite
		}
		return popular[i].UsageCount > popular[j].UsageCount
	})
	popularity := make([]ScoredID, len(popular))
	for i, t := range popular {
		popularity[i] = ScoredID{ID: t.ID}
	}

	fused := RRF(ranked(titles), ranked(tags), ranked(contents), popularity)

	byID := make(map[string]models.Template, len(matched))
	for _, t := range matched {
		byID[t.ID] = t
	}
	out := make([]models.Template, 0, len(fused))
	for _, f := range fused {
		out = append(out, byID[f.ID])
	}
	return out
}
