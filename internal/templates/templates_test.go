package templates

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/promptshelf/pkg/models"
)

func TestExtractVariables_TableDriven(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected []string
	}{
		{
			name:     "first occurrence order",
			content:  "Write about [TOPIC] for [AUDIENCE]",
			expected: []string{"TOPIC", "AUDIENCE"},
		},
		{
			name:     "lowercase does not match",
			content:  "Write about [topic]",
			expected: []string{},
		},
		{
			name:     "duplicates collapse",
			content:  "[A] then [B] then [A] again",
			expected: []string{"A", "B"},
		},
		{
			name:     "underscores allowed",
			content:  "Hi [FIRST_NAME], meet [LAST_NAME]",
			expected: []string{"FIRST_NAME", "LAST_NAME"},
		},
		{
			name:     "digits and mixed case rejected",
			content:  "[V1] [Mixed] [OK]",
			expected: []string{"OK"},
		},
		{
			name:     "empty brackets ignored",
			content:  "[] and [ ]",
			expected: []string{},
		},
		{
			name:     "empty content",
			content:  "",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractVariables(tt.content))
		})
	}
}

func TestBuildVariables(t *testing.T) {
	vars := BuildVariables("Dear [FIRST_NAME], about [TOPIC]")
	require.Len(t, vars, 2)
	assert.Equal(t, models.Variable{Name: "FIRST_NAME", Label: "FIRST NAME", Required: true}, vars[0])
	assert.Equal(t, models.Variable{Name: "TOPIC", Label: "TOPIC", Required: true}, vars[1])
}

func TestReplaceVariables(t *testing.T) {
	out := ReplaceVariables("Write about [TOPIC] for [AUDIENCE] on [TOPIC]", map[string]string{
		"TOPIC": "Go",
	})
	assert.Equal(t, "Write about Go for [AUDIENCE] on Go", out)
}

func TestRenderAndMissingRequired(t *testing.T) {
	tmpl := New(Input{Title: "t", Content: "Explain [TOPIC] to [AUDIENCE]"}, time.Now())
	tmpl.Variables[1].DefaultValue = "beginners"

	assert.Equal(t, []string{"TOPIC"}, MissingRequired(tmpl, nil))
	assert.Empty(t, MissingRequired(tmpl, map[string]string{"TOPIC": "channels"}))

	out := Render(tmpl, map[string]string{"TOPIC": "channels"})
	assert.Equal(t, "Explain channels to beginners", out)
}

func TestValidate_TableDriven(t *testing.T) {
	tooManyTags := make([]string, models.MaxTags+1)
	for i := range tooManyTags {
		tooManyTags[i] = "t"
	}

	tests := []struct {
		name     string
		input    Input
		problems int
	}{
		{
			name:  "valid",
			input: Input{Title: "Title", Content: "Body", Tags: []string{"a"}},
		},
		{
			name:     "missing title and content",
			input:    Input{Title: "  ", Content: ""},
			problems: 2,
		},
		{
			name:     "title too long",
			input:    Input{Title: strings.Repeat("x", models.TitleMaxLength+1), Content: "c"},
			problems: 1,
		},
		{
			name:  "title limit counts characters not bytes",
			input: Input{Title: strings.Repeat("é", models.TitleMaxLength), Content: "c"},
		},
		{
			name:     "content too long",
			input:    Input{Title: "t", Content: strings.Repeat("x", models.ContentMaxLength+1)},
			problems: 1,
		},
		{
			name:     "too many tags",
			input:    Input{Title: "t", Content: "c", Tags: tooManyTags},
			problems: 1,
		},
		{
			name:     "tag too long",
			input:    Input{Title: "t", Content: "c", Tags: []string{"ok", strings.Repeat("x", models.TagMaxLength+1)}},
			problems: 1,
		},
		{
			name:     "unknown category",
			input:    Input{Title: "t", Content: "c", Category: "audio"},
			problems: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.input)
			if tt.problems == 0 {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Len(t, verr.Problems, tt.problems)
		})
	}
}

func TestNew(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tmpl := New(Input{Title: " Greeting ", Content: "Hello [NAME]"}, now)

	_, err := uuid.Parse(tmpl.ID)
	assert.NoError(t, err)
	assert.Equal(t, "Greeting", tmpl.Title)
	assert.Equal(t, models.CategoryAll, tmpl.Category)
	assert.Equal(t, "2024-05-01T12:00:00.000Z", tmpl.CreatedAt)
	assert.Equal(t, tmpl.CreatedAt, tmpl.UpdatedAt)
	assert.Equal(t, []string{}, tmpl.Tags)
	assert.Len(t, tmpl.Variables, 1)
	assert.Zero(t, tmpl.UsageCount)
	assert.False(t, tmpl.IsFavorite)
}

func TestApplyEdit_RederivesVariables(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tmpl := New(Input{Title: "t", Content: "Hello [NAME]", Category: models.CategoryImage}, created)
	tmpl.UsageCount = 3
	tmpl.IsFavorite = true

	edited := ApplyEdit(tmpl, Input{Title: "t2", Content: "Draw [SUBJECT] in [STYLE]"}, created.Add(time.Minute))

	assert.Equal(t, tmpl.ID, edited.ID)
	assert.Equal(t, tmpl.CreatedAt, edited.CreatedAt)
	assert.Equal(t, "2024-05-01T12:01:00.000Z", edited.UpdatedAt)
	assert.Equal(t, models.CategoryImage, edited.Category, "empty category keeps the existing one")
	assert.Equal(t, 3, edited.UsageCount)
	assert.True(t, edited.IsFavorite)
	require.Len(t, edited.Variables, 2)
	assert.Equal(t, "SUBJECT", edited.Variables[0].Name)
	assert.Equal(t, "STYLE", edited.Variables[1].Name)
}

func TestApplyEdit_Source(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	from := "https://example.com/page"
	tmpl := New(Input{Title: "t", Content: "c", Source: &from}, now)
	require.Equal(t, from, tmpl.Source)

	other := "https://example.com/other"
	empty := ""

	tests := []struct {
		name     string
		source   *string
		expected string
	}{
		{name: "absent keeps source", source: nil, expected: from},
		{name: "empty clears source", source: &empty, expected: ""},
		{name: "value replaces source", source: &other, expected: other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edited := ApplyEdit(tmpl, Input{Title: "t", Content: "c", Source: tt.source}, now)
			assert.Equal(t, tt.expected, edited.Source)
		})
	}
}
