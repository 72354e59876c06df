// Package transfer builds export documents and merges imported ones.
package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/thebtf/promptshelf/internal/templates"
	"github.com/thebtf/promptshelf/pkg/models"
)

// Format is an export file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrInvalidFormat is returned for import documents without a templates array.
var ErrInvalidFormat = errors.New("invalid export file format")

// ParseFormat maps a name to a Format. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType is the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// Filename is the suggested download name for an export made at now.
func (f Format) Filename(now time.Time) string {
	return "promptshelf-" + now.UTC().Format("2006-01-02") + "." + string(f)
}

// BuildExport assembles an export document. Settings are included when
// non-nil, always without the API key.
func BuildExport(collection []models.Template, settings *models.Settings, now time.Time) models.ExportData {
	if collection == nil {
		collection = []models.Template{}
	}
	data := models.ExportData{
		Version:    models.ExportVersion,
		ExportDate: models.Timestamp(now),
		Templates:  collection,
		Metadata: models.ExportMetadata{
			TotalTemplates: len(collection),
			Categories:     CategoryStats(collection),
		},
	}
	if settings != nil {
		s := *settings
		s.GeminiAPIKey = ""
		data.Settings = &s
	}
	return data
}

// CategoryStats counts templates per category in declaration order, omitting
// empty categories. LastUsed is the latest updatedAt of a used template.
func CategoryStats(collection []models.Template) []models.CategoryStats {
	stats := make([]models.CategoryStats, 0, len(models.Categories))
	for _, c := range models.Categories {
		st := models.CategoryStats{Category: c}
		for _, t := range collection {
			if t.Category != c {
				continue
			}
			st.Count++
			if t.UsageCount > 0 && t.UpdatedAt > st.LastUsed {
				st.LastUsed = t.UpdatedAt
			}
		}
		if st.Count > 0 {
			stats = append(stats, st)
		}
	}
	return stats
}

// Encode writes data to w in format f.
func Encode(w io.Writer, data models.ExportData, f Format) error {
	switch f {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		raw, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		_, err = w.Write(raw)
		return err
	}
}

type importDoc struct {
	Templates *[]models.Template `json:"templates" yaml:"templates"`
}

// Decode parses an import document. With an empty format, JSON is assumed
// when the document starts with '{' and YAML otherwise. Only the templates
// array is read.
func Decode(raw []byte, f Format) ([]models.Template, error) {
	if f == "" {
		f = FormatYAML
		if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
			f = FormatJSON
		}
	}

	var doc importDoc
	var err error
	if f == FormatYAML {
		err = yaml.Unmarshal(raw, &doc)
	} else {
		err = json.Unmarshal(raw, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if doc.Templates == nil {
		return nil, fmt.Errorf("%w: missing templates array", ErrInvalidFormat)
	}
	return *doc.Templates, nil
}

// Report summarizes a merge.
type Report struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Invalid  int `json:"invalid"`
}

// Merge appends the incoming templates whose ids are new to existing.
// Duplicates of existing ids or of earlier entries in incoming are skipped,
// invalid templates are dropped and counted. Imported templates get an id
// when missing and their variables re-derived from the content.
func Merge(existing, incoming []models.Template, now time.Time) ([]models.Template, Report) {
	var report Report
	seen := make(map[string]bool, len(existing)+len(incoming))
	for _, t := range existing {
		seen[t.ID] = true
	}

	merged := make([]models.Template, len(existing), len(existing)+len(incoming))
	copy(merged, existing)

	for _, t := range incoming {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if seen[t.ID] {
			report.Skipped++
			continue
		}
		if err := templates.Validate(templates.InputOf(t)); err != nil {
			report.Invalid++
			continue
		}
		seen[t.ID] = true
		merged = append(merged, normalize(t, now))
		report.Imported++
	}
	return merged, report
}

func normalize(t models.Template, now time.Time) models.Template {
	defaults := make(map[string]string, len(t.Variables))
	for _, v := range t.Variables {
		defaults[v.Name] = v.DefaultValue
	}
	t.Variables = templates.BuildVariables(t.Content)
	for i := range t.Variables {
		t.Variables[i].DefaultValue = defaults[t.Variables[i].Name]
	}

	if t.Category == "" {
		t.Category = models.CategoryAll
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.UsageCount < 0 {
		t.UsageCount = 0
	}
	ts := models.Timestamp(now)
	if t.CreatedAt == "" {
		t.CreatedAt = ts
	}
	if t.UpdatedAt == "" {
		t.UpdatedAt = t.CreatedAt
	}
	return t
}
