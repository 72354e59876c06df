package models

import "fmt"

// ButtonPosition is where the floating button is placed on the host page.
type ButtonPosition string

const (
	ButtonTopRight    ButtonPosition = "top-right"
	ButtonBottomRight ButtonPosition = "bottom-right"
	ButtonTopLeft     ButtonPosition = "top-left"
	ButtonBottomLeft  ButtonPosition = "bottom-left"
)

// Valid reports whether p is a known position.
func (p ButtonPosition) Valid() bool {
	switch p {
	case ButtonTopRight, ButtonBottomRight, ButtonTopLeft, ButtonBottomLeft:
		return true
	}
	return false
}

// Theme is the UI color theme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeAuto  Theme = "auto"
)

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool {
	switch t {
	case ThemeLight, ThemeDark, ThemeAuto:
		return true
	}
	return false
}

// Settings is the single process-wide settings record.
type Settings struct {
	FloatingButtonEnabled bool           `json:"floatingButtonEnabled" yaml:"floatingButtonEnabled"`
	ButtonPosition        ButtonPosition `json:"buttonPosition" yaml:"buttonPosition"`
	DefaultCategory       Category       `json:"defaultCategory" yaml:"defaultCategory"`
	AutoOptimize          bool           `json:"autoOptimize" yaml:"autoOptimize"`
	Theme                 Theme          `json:"theme" yaml:"theme"`
	CompactView           bool           `json:"compactView" yaml:"compactView"`
	ConfirmDelete         bool           `json:"confirmDelete" yaml:"confirmDelete"`
	GeminiAPIKey          string         `json:"geminiApiKey,omitempty" yaml:"geminiApiKey,omitempty"`
}

// DefaultSettings returns the settings written on first run.
func DefaultSettings() Settings {
	return Settings{
		FloatingButtonEnabled: true,
		ButtonPosition:        ButtonBottomRight,
		DefaultCategory:       CategoryAll,
		AutoOptimize:          true,
		Theme:                 ThemeAuto,
		CompactView:           false,
		ConfirmDelete:         true,
	}
}

// SettingsPatch carries a partial settings update. Nil fields are left alone.
type SettingsPatch struct {
	FloatingButtonEnabled *bool           `json:"floatingButtonEnabled,omitempty"`
	ButtonPosition        *ButtonPosition `json:"buttonPosition,omitempty"`
	DefaultCategory       *Category       `json:"defaultCategory,omitempty"`
	AutoOptimize          *bool           `json:"autoOptimize,omitempty"`
	Theme                 *Theme          `json:"theme,omitempty"`
	CompactView           *bool           `json:"compactView,omitempty"`
	ConfirmDelete         *bool           `json:"confirmDelete,omitempty"`
	GeminiAPIKey          *string         `json:"geminiApiKey,omitempty"`
}

// Validate rejects enum fields set to unknown values.
func (p SettingsPatch) Validate() error {
	if p.ButtonPosition != nil && !p.ButtonPosition.Valid() {
		return fmt.Errorf("unknown button position %q", *p.ButtonPosition)
	}
	if p.DefaultCategory != nil && !p.DefaultCategory.Valid() {
		return fmt.Errorf("unknown category %q", *p.DefaultCategory)
	}
	if p.Theme != nil && !p.Theme.Valid() {
		return fmt.Errorf("unknown theme %q", *p.Theme)
	}
	return nil
}

// Apply returns s with every non-nil patch field overwritten (shallow merge).
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.FloatingButtonEnabled != nil {
		s.FloatingButtonEnabled = *p.FloatingButtonEnabled
	}
	if p.ButtonPosition != nil {
		s.ButtonPosition = *p.ButtonPosition
	}
	if p.DefaultCategory != nil {
		s.DefaultCategory = *p.DefaultCategory
	}
	if p.AutoOptimize != nil {
		s.AutoOptimize = *p.AutoOptimize
	}
	if p.Theme != nil {
		s.Theme = *p.Theme
	}
	if p.CompactView != nil {
		s.CompactView = *p.CompactView
	}
	if p.ConfirmDelete != nil {
		s.ConfirmDelete = *p.ConfirmDelete
	}
	if p.GeminiAPIKey != nil {
		s.GeminiAPIKey = *p.GeminiAPIKey
	}
	return s
}

// Metadata is the install metadata record.
type Metadata struct {
	Version     string `json:"version" yaml:"version"`
	InstallDate string `json:"installDate" yaml:"installDate"`
	LastBackup  string `json:"lastBackup,omitempty" yaml:"lastBackup,omitempty"`
}

// SchemaVersion is the persisted data schema version.
const SchemaVersion = "1.0"
