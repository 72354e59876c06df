// Package templates provides template authoring helpers: variable extraction,
// validation and construction of new or edited templates.
package templates

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/thebtf/promptshelf/pkg/models"
)

// variableRegex matches [UPPER_SNAKE] placeholders.
var variableRegex = regexp.MustCompile(`\[([A-Z_]+)\]`)

// ExtractVariables returns each distinct placeholder name in content once,
// in first-occurrence order.
func ExtractVariables(content string) []string {
	names := []string{}
	seen := make(map[string]bool)
	for _, m := range variableRegex.FindAllStringSubmatch(content, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		names = append(names, m[1])
	}
	return names
}

// BuildVariables derives the variables list for content.
func BuildVariables(content string) []models.Variable {
	names := ExtractVariables(content)
	vars := make([]models.Variable, 0, len(names))
	for _, name := range names {
		vars = append(vars, models.Variable{
			Name:     name,
			Label:    strings.ReplaceAll(name, "_", " "),
			Required: true,
		})
	}
	return vars
}

// ReplaceVariables substitutes [NAME] placeholders with values.
// Placeholders without a value are left in place.
func ReplaceVariables(content string, values map[string]string) string {
	return variableRegex.ReplaceAllStringFunc(content, func(token string) string {
		name := token[1 : len(token)-1]
		if v, ok := values[name]; ok {
			return v
		}
		return token
	})
}

// MissingRequired returns the required variables of t that have no value.
func MissingRequired(t models.Template, values map[string]string) []string {
	var missing []string
	for _, v := range t.Variables {
		if !v.Required {
			continue
		}
		if val, ok := values[v.Name]; !ok || val == "" {
			if v.DefaultValue == "" {
				missing = append(missing, v.Name)
			}
		}
	}
	return missing
}

// Render fills t's placeholders, falling back to variable defaults.
func Render(t models.Template, values map[string]string) string {
	merged := make(map[string]string, len(t.Variables)+len(values))
	for _, v := range t.Variables {
		if v.DefaultValue != "" {
			merged[v.Name] = v.DefaultValue
		}
	}
	for k, v := range values {
		if v != "" {
			merged[k] = v
		}
	}
	return ReplaceVariables(t.Content, merged)
}

// ValidationError lists every constraint a template violates.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid template: " + strings.Join(e.Problems, "; ")
}

// Input is the user-authored part of a template.
type Input struct {
	Title    string          `json:"title"`
	Category models.Category `json:"category"`
	Content  string          `json:"content"`
	Tags     []string        `json:"tags"`
	// Source is nil to keep the current source on edit; "" clears it.
	Source   *string         `json:"source,omitempty"`
}

func (in Input) source() string {
	if in.Source == nil {
		return ""
	}
	return *in.Source
}

// Validate checks field-length and count constraints.
// Returns nil or a *ValidationError.
func Validate(in Input) error {
	var problems []string

	if strings.TrimSpace(in.Title) == "" {
		problems = append(problems, "Title is required")
	}
	if utf8.RuneCountInString(in.Title) > models.TitleMaxLength {
		problems = append(problems, fmt.Sprintf("Title must be %d characters or less", models.TitleMaxLength))
	}
	if strings.TrimSpace(in.Content) == "" {
		problems = append(problems, "Content is required")
	}
	if utf8.RuneCountInString(in.Content) > models.ContentMaxLength {
		problems = append(problems, fmt.Sprintf("Content must be %d characters or less", models.ContentMaxLength))
	}
	if in.Category != "" && !in.Category.Valid() {
		problems = append(problems, fmt.Sprintf("Unknown category %q", in.Category))
	}
	if len(in.Tags) > models.MaxTags {
		problems = append(problems, fmt.Sprintf("Maximum %d tags allowed", models.MaxTags))
	}
	for i, tag := range in.Tags {
		if utf8.RuneCountInString(tag) > models.TagMaxLength {
			problems = append(problems, fmt.Sprintf("Tag %d must be %d characters or less", i+1, models.TagMaxLength))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// InputOf returns the authored fields of t.
func InputOf(t models.Template) Input {
	return Input{
		Title:    t.Title,
		Category: t.Category,
		Content:  t.Content,
		Tags:     t.Tags,
		Source:   &t.Source,
	}
}

// New builds a fresh template from in. The caller validates in first.
func New(in Input, now time.Time) models.Template {
	ts := models.Timestamp(now)
	category := in.Category
	if category == "" {
		category = models.CategoryAll
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	return models.Template{
		ID:         uuid.New().String(),
		Title:      strings.TrimSpace(in.Title),
		Category:   category,
		Content:    in.Content,
		Tags:       tags,
		Variables:  BuildVariables(in.Content),
		CreatedAt:  ts,
		UpdatedAt:  ts,
		UsageCount: 0,
		IsFavorite: false,
		Source:     in.source(),
	}
}

// ApplyEdit returns existing with the authored fields replaced by in.
// ID, CreatedAt, UsageCount and IsFavorite are preserved; Variables are
// re-derived and UpdatedAt refreshed.
func ApplyEdit(existing models.Template, in Input, now time.Time) models.Template {
	out := existing
	out.Title = strings.TrimSpace(in.Title)
	if in.Category != "" {
		out.Category = in.Category
	}
	out.Content = in.Content
	out.Tags = in.Tags
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if in.Source != nil {
		out.Source = *in.Source
	}
	out.Variables = BuildVariables(in.Content)
	out.UpdatedAt = models.Timestamp(now)
	return out
}
