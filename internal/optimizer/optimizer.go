// Package optimizer implements the offline heuristic prompt optimizer.
// Everything here is pure: no I/O, no shared mutable state.
package optimizer

import (
	"sort"
	"strings"

	"github.com/thebtf/promptshelf/pkg/models"
)

// DetectCategory classifies text by keyword occurrences.
// Every occurrence of a keyword counts. The strictly highest score wins, ties
// go to the category declared first in models.Categories, and text without any
// keyword is classified as models.CategoryAll.
func DetectCategory(text string) models.Category {
	lower := strings.ToLower(text)

	best := models.CategoryAll
	bestScore := 0
	for _, category := range models.Categories {
		score := 0
		for _, keyword := range categoryKeywords[category] {
			score += strings.Count(lower, keyword)
		}
		if score > bestScore {
			best = category
			bestScore = score
		}
	}
	return best
}

// Rules returns the rule battery for category in declaration order.
func Rules(category models.Category) []Rule {
	return optimizationRules[category]
}

// GenerateSuggestions evaluates the category's rules against text and returns
// one suggestion per firing rule, ordered high, medium, low. Rules with equal
// priority keep their declaration order. Every heuristic suggestion is typed
// as a specificity hint.
func GenerateSuggestions(text string, category models.Category) []models.Suggestion {
	suggestions := []models.Suggestion{}
	for _, rule := range optimizationRules[category] {
		if !rule.Check(text) {
			continue
		}
		suggestions = append(suggestions, models.Suggestion{
			Type:        models.SuggestionSpecificity,
			Title:       rule.Name,
			Description: rule.Description,
			Example:     rule.Template,
			Priority:    rule.Priority,
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Priority.Rank() < suggestions[j].Priority.Rank()
	})
	return suggestions
}

// BuildOptimizedPrompt fills the category scaffold with original, verbatim.
func BuildOptimizedPrompt(original string, category models.Category) string {
	sc, ok := scaffolds[category]
	if !ok {
		sc = defaultScaffold
	}

	lines := make([]string, 0, len(sc.fields)+3)
	lines = append(lines, sc.header, "", sc.label+": "+original)
	lines = append(lines, sc.fields...)
	return strings.Join(lines, "\n")
}

// ListImprovements returns what the category scaffold adds.
func ListImprovements(category models.Category) []string {
	list, ok := improvements[category]
	if !ok {
		return []string{}
	}
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// OptimizePrompt runs the full offline pipeline. A valid hint takes precedence
// over detection; an empty or unknown hint falls back to DetectCategory.
func OptimizePrompt(text string, hint models.Category) models.OptimizationResult {
	category := hint
	if !category.Valid() {
		category = DetectCategory(text)
	}

	return models.OptimizationResult{
		OriginalPrompt:   text,
		OptimizedPrompt:  BuildOptimizedPrompt(text, category),
		Suggestions:      GenerateSuggestions(text, category),
		DetectedCategory: category,
		Improvements:     ListImprovements(category),
		Source:           models.SourceOffline,
	}
}
