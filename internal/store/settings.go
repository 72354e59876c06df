package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/promptshelf/internal/kv"
	"github.com/thebtf/promptshelf/pkg/models"
)

// ErrInvalidAPIKey is returned when a settings update carries a malformed API key.
var ErrInvalidAPIKey = errors.New("invalid API key format")

// Sealer encrypts the API key at rest.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// SettingsStore reads and merges the single settings record.
type SettingsStore struct {
	backend  kv.Backend
	sealer   Sealer
	validKey func(string) bool
}

// SettingsOption configures a SettingsStore.
type SettingsOption func(*SettingsStore)

// WithSealer seals the API key before it is written.
func WithSealer(sealer Sealer) SettingsOption {
	return func(s *SettingsStore) {
		s.sealer = sealer
	}
}

// WithKeyValidator rejects updates whose non-empty API key fails fn.
func WithKeyValidator(fn func(string) bool) SettingsOption {
	return func(s *SettingsStore) {
		s.validKey = fn
	}
}

// NewSettingsStore creates a SettingsStore over backend.
func NewSettingsStore(backend kv.Backend, opts ...SettingsOption) *SettingsStore {
	s := &SettingsStore{backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetSettings returns the stored settings decoded over the defaults, or the
// defaults when nothing is stored.
func (s *SettingsStore) GetSettings(ctx context.Context) (models.Settings, error) {
	data, err := s.backend.Get(ctx, []string{KeySettings})
	if err != nil {
		return models.DefaultSettings(), fmt.Errorf("%w: read settings: %w", ErrStorage, err)
	}

	settings := models.DefaultSettings()
	raw, ok := data[KeySettings]
	if !ok {
		return settings, nil
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		log.Error().Err(err).Msg("Stored settings are unreadable, using defaults")
		return models.DefaultSettings(), nil
	}

	if s.sealer != nil && settings.GeminiAPIKey != "" {
		key, err := s.sealer.Open(settings.GeminiAPIKey)
		if err != nil {
			log.Warn().Err(err).Msg("Stored API key cannot be opened, dropping it")
			key = ""
		}
		settings.GeminiAPIKey = key
	}
	return settings, nil
}

// UpdateSettings merges patch into the stored settings and persists the
// result, which it returns.
func (s *SettingsStore) UpdateSettings(ctx context.Context, patch models.SettingsPatch) (models.Settings, error) {
	if patch.GeminiAPIKey != nil && *patch.GeminiAPIKey != "" && s.validKey != nil && !s.validKey(*patch.GeminiAPIKey) {
		return models.Settings{}, ErrInvalidAPIKey
	}

	current, err := s.GetSettings(ctx)
	if err != nil {
		return models.Settings{}, err
	}
	merged := patch.Apply(current)

	stored := merged
	if s.sealer != nil && stored.GeminiAPIKey != "" {
		sealed, err := s.sealer.Seal(stored.GeminiAPIKey)
		if err != nil {
			return models.Settings{}, fmt.Errorf("seal API key: %w", err)
		}
		stored.GeminiAPIKey = sealed
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return models.Settings{}, fmt.Errorf("encode settings: %w", err)
	}
	if err := s.backend.Set(ctx, map[string][]byte{KeySettings: raw}); err != nil {
		return models.Settings{}, fmt.Errorf("%w: write settings: %w", ErrStorage, err)
	}
	return merged, nil
}
