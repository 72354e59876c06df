package models

// Priority orders optimization suggestions.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the sort rank of p; lower ranks sort first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// SuggestionType classifies what a suggestion improves.
type SuggestionType string

const (
	SuggestionStructure   SuggestionType = "structure"
	SuggestionClarity     SuggestionType = "clarity"
	SuggestionSpecificity SuggestionType = "specificity"
	SuggestionFormat      SuggestionType = "format"
)

// Suggestion is a single prompt improvement hint.
type Suggestion struct {
	Type        SuggestionType `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Example     string         `json:"example,omitempty"`
	Priority    Priority       `json:"priority"`
}

// ResultSource tells which engine produced an optimization result.
type ResultSource string

const (
	SourceRemote  ResultSource = "remote"
	SourceOffline ResultSource = "offline"
)

// OptimizationResult is the output of a prompt optimization. Not persisted.
type OptimizationResult struct {
	OriginalPrompt   string       `json:"originalPrompt"`
	OptimizedPrompt  string       `json:"optimizedPrompt"`
	Suggestions      []Suggestion `json:"suggestions"`
	DetectedCategory Category     `json:"detectedCategory"`
	Improvements     []string     `json:"improvements"`
	MissingInfo      []string     `json:"missingInfo,omitempty"`
	Confidence       *float64     `json:"confidence,omitempty"`

	Source          ResultSource `json:"source,omitempty"`
	OriginalTokens  int          `json:"originalTokens,omitempty"`
	OptimizedTokens int          `json:"optimizedTokens,omitempty"`
}
