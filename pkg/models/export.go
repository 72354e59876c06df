package models

// ExportVersion is the export file format version.
const ExportVersion = "1.0"

// ExportData is the export/import file document.
type ExportData struct {
	Version    string         `json:"version" yaml:"version"`
	ExportDate string         `json:"exportDate" yaml:"exportDate"`
	Templates  []Template     `json:"templates" yaml:"templates"`
	Settings   *Settings      `json:"settings,omitempty" yaml:"settings,omitempty"`
	Metadata   ExportMetadata `json:"metadata" yaml:"metadata"`
}

// ExportMetadata summarizes the exported collection.
type ExportMetadata struct {
	TotalTemplates int             `json:"totalTemplates" yaml:"totalTemplates"`
	Categories     []CategoryStats `json:"categories" yaml:"categories"`
}
