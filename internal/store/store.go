// Package store persists the template collection, settings and install
// metadata through a kv.Backend, transparently chunking payloads that do not
// fit under the backend's per-item ceiling.
//
// Every mutation reads the whole collection, changes it in memory and writes
// the whole collection back. Two concurrent mutations can therefore clobber
// each other (last writer wins); the backends offer no compare-and-swap to
// prevent it.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/promptshelf/internal/chunking"
	"github.com/thebtf/promptshelf/internal/kv"
	"github.com/thebtf/promptshelf/pkg/models"
)

// Persisted keys.
const (
	KeyTemplates = "templates"
	KeySettings  = "settings"
	KeyMetadata  = "metadata"
)

// DefaultChunkThreshold is the payload size at which the collection is split.
const DefaultChunkThreshold = 6144

// chunkKeyMargin leaves room for the chunk key itself under the item ceiling.
const chunkKeyMargin = 64

var (
	// ErrNotFound is returned when a template id is not in the collection.
	ErrNotFound = errors.New("template not found")
	// ErrStorage wraps every backend failure.
	ErrStorage = errors.New("storage failure")
	// errMalformed marks persisted data that cannot be decoded.
	errMalformed = errors.New("malformed persisted data")
)

// Config tunes a Store.
type Config struct {
	ChunkThreshold int              // Payload size that triggers chunking (default: 6144)
	ItemMaxBytes   int              // Backend per-item ceiling (default: kv.DefaultItemMaxBytes)
	StrictChunks   bool             // Treat a missing chunk as malformed data instead of skipping it
	Now            func() time.Time // Clock (default: time.Now)
}

// Store is the single owner of the template keys in a backend.
type Store struct {
	backend   kv.Backend
	now       func() time.Time
	metrics   *metrics
	reads     singleflight.Group
	// writes counts finished template writes. Reads only coalesce with
	// reads started after the same write.
	writes    atomic.Uint64
	layout    chunking.Layout
	threshold int
	strict    bool
}

// New creates a Store over backend.
func New(backend kv.Backend, cfg Config) (*Store, error) {
	if backend == nil {
		return nil, errors.New("store: nil backend")
	}

	threshold := cfg.ChunkThreshold
	if threshold <= 0 {
		threshold = DefaultChunkThreshold
	}
	itemMax := cfg.ItemMaxBytes
	if itemMax <= 0 {
		itemMax = kv.DefaultItemMaxBytes
	}
	if threshold+chunkKeyMargin > itemMax {
		return nil, fmt.Errorf("store: chunk threshold %d leaves no margin under item limit %d", threshold, itemMax)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		backend:   backend,
		now:       now,
		metrics:   newMetrics(),
		layout:    chunking.NewLayout(KeyTemplates),
		threshold: threshold,
		strict:    cfg.StrictChunks,
	}, nil
}

// Backend returns the underlying backend.
func (s *Store) Backend() kv.Backend {
	return s.backend
}

// Initialize writes install metadata, default settings and an empty
// collection for whichever of them is absent.
func (s *Store) Initialize(ctx context.Context) error {
	data, err := s.backend.Get(ctx, []string{KeyMetadata, KeySettings, KeyTemplates, s.layout.CountKey()})
	if err != nil {
		return fmt.Errorf("%w: initialize: %w", ErrStorage, err)
	}

	items := make(map[string][]byte)
	if _, ok := data[KeyMetadata]; !ok {
		raw, err := json.Marshal(models.Metadata{
			Version:     models.SchemaVersion,
			InstallDate: models.Timestamp(s.now()),
		})
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		items[KeyMetadata] = raw
	}
	if _, ok := data[KeySettings]; !ok {
		raw, err := json.Marshal(models.DefaultSettings())
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		items[KeySettings] = raw
	}
	// A chunked collection has no canonical key; writing one would shadow it.
	_, canonical := data[KeyTemplates]
	_, chunked := data[s.layout.CountKey()]
	if !canonical && !chunked {
		items[KeyTemplates] = []byte("[]")
	}

	if len(items) == 0 {
		return nil
	}
	defer s.writes.Add(1)
	if err := s.backend.Set(ctx, items); err != nil {
		return fmt.Errorf("%w: initialize: %w", ErrStorage, err)
	}
	log.Info().Strs("keys", kv.Keys(items)).Msg("Storage initialized")
	return nil
}

// GetTemplates returns the stored collection. Malformed persisted data is
// logged and yields an empty collection; only backend failures are errors.
func (s *Store) GetTemplates(ctx context.Context) ([]models.Template, error) {
	key := KeyTemplates + "@" + strconv.FormatUint(s.writes.Load(), 10)
	v, err, _ := s.reads.Do(key, func() (interface{}, error) {
		return s.loadTemplates(ctx)
	})
	if err != nil {
		return nil, err
	}
	// Callers mutate elements; never hand out the shared slice.
	return slices.Clone(v.([]models.Template)), nil
}

func (s *Store) loadTemplates(ctx context.Context) ([]models.Template, error) {
	data, err := s.backend.Get(ctx, []string{KeyTemplates, s.layout.CountKey()})
	if err != nil {
		return nil, fmt.Errorf("%w: read templates: %w", ErrStorage, err)
	}

	payload, err := s.readPayload(ctx, data)
	if err != nil {
		if errors.Is(err, errMalformed) {
			return s.malformed(ctx, err), nil
		}
		return nil, err
	}
	if payload == nil {
		return []models.Template{}, nil
	}

	var templates []models.Template
	if err := json.Unmarshal(payload, &templates); err != nil {
		return s.malformed(ctx, fmt.Errorf("%w: decode collection: %v", errMalformed, err)), nil
	}
	if templates == nil {
		templates = []models.Template{}
	}
	return templates, nil
}

// readPayload returns the serialized collection, nil when nothing is stored.
func (s *Store) readPayload(ctx context.Context, data map[string][]byte) ([]byte, error) {
	if raw, ok := data[KeyTemplates]; ok && len(raw) > 0 && string(raw) != "null" {
		return raw, nil
	}

	rawCount, ok := data[s.layout.CountKey()]
	if !ok {
		return nil, nil
	}
	var count int
	if err := json.Unmarshal(rawCount, &count); err != nil {
		return nil, fmt.Errorf("%w: chunk count %q: %v", errMalformed, rawCount, err)
	}
	if count <= 0 {
		return nil, nil
	}

	chunks, err := s.backend.Get(ctx, s.layout.ChunkKeys(count))
	if err != nil {
		return nil, fmt.Errorf("%w: read chunks: %w", ErrStorage, err)
	}

	parts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		key := s.layout.ChunkKey(i)
		raw, ok := chunks[key]
		if !ok {
			if s.strict {
				return nil, fmt.Errorf("%w: chunk %d of %d missing", errMalformed, i, count)
			}
			log.Warn().Str("key", key).Int("count", count).Msg("Skipping missing template chunk")
			continue
		}
		var part string
		if err := json.Unmarshal(raw, &part); err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", errMalformed, i, err)
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return []byte(chunking.Join(parts)), nil
}

func (s *Store) malformed(ctx context.Context, err error) []models.Template {
	log.Error().Err(err).Msg("Stored templates are unreadable, returning empty collection")
	s.metrics.recordMalformed(ctx)
	return []models.Template{}
}

// SaveTemplates replaces the stored collection.
func (s *Store) SaveTemplates(ctx context.Context, templates []models.Template) error {
	if templates == nil {
		templates = []models.Template{}
	}
	payload, err := json.Marshal(templates)
	if err != nil {
		return fmt.Errorf("encode templates: %w", err)
	}

	defer s.writes.Add(1)

	previous, err := s.clearTemplateKeys(ctx)
	if err != nil {
		return err
	}

	items := make(map[string][]byte)
	chunks := 0
	if len(payload) < s.threshold {
		items[KeyTemplates] = payload
	} else {
		parts := chunking.SplitJSON(string(payload), s.threshold)
		for i, part := range parts {
			raw, err := json.Marshal(part)
			if err != nil {
				return fmt.Errorf("encode chunk %d: %w", i, err)
			}
			items[s.layout.ChunkKey(i)] = raw
		}
		chunks = len(parts)
		items[s.layout.CountKey()] = []byte(strconv.Itoa(chunks))
	}

	if err := s.backend.Set(ctx, items); err != nil {
		s.metrics.recordWrite(ctx, false, chunks, len(payload))
		s.restore(ctx, previous)
		return fmt.Errorf("%w: save templates: %w", ErrStorage, err)
	}
	s.metrics.recordWrite(ctx, true, chunks, len(payload))

	log.Debug().
		Int("templates", len(templates)).
		Int("bytes", len(payload)).
		Int("chunks", chunks).
		Msg("Templates saved")
	return nil
}

// clearTemplateKeys removes the canonical key, the count marker and every
// chunk key so no stale chunk survives a representation change. It returns
// the removed items.
func (s *Store) clearTemplateKeys(ctx context.Context) (map[string][]byte, error) {
	all, err := s.backend.Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: list keys: %w", ErrStorage, err)
	}
	owned := s.layout.OwnedKeys(kv.Keys(all))
	removed := make(map[string][]byte, len(owned))
	for _, k := range owned {
		removed[k] = all[k]
	}
	if err := s.backend.Remove(ctx, owned); err != nil {
		return nil, fmt.Errorf("%w: clear template keys: %w", ErrStorage, err)
	}
	return removed, nil
}

// restore writes back the template keys removed before a failed save. The
// previous items fit before the save, so the backend accepts them again
// unless it is failing outright.
func (s *Store) restore(ctx context.Context, previous map[string][]byte) {
	if len(previous) == 0 {
		return
	}
	if err := s.backend.Set(ctx, previous); err != nil {
		log.Error().Err(err).Int("keys", len(previous)).Msg("Failed to restore templates after a failed save")
		return
	}
	log.Warn().Msg("Save failed, previous templates restored")
}

// GetTemplate returns the template with id.
func (s *Store) GetTemplate(ctx context.Context, id string) (models.Template, error) {
	templates, err := s.GetTemplates(ctx)
	if err != nil {
		return models.Template{}, err
	}
	if i := indexOf(templates, id); i >= 0 {
		return templates[i], nil
	}
	return models.Template{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// AddTemplate appends t to the collection. Callers validate t first.
func (s *Store) AddTemplate(ctx context.Context, t models.Template) error {
	templates, err := s.GetTemplates(ctx)
	if err != nil {
		return err
	}
	return s.SaveTemplates(ctx, append(templates, t))
}

// UpdateTemplate replaces the template sharing t's id. The collection is left
// untouched and ErrNotFound returned if there is none.
func (s *Store) UpdateTemplate(ctx context.Context, t models.Template) error {
	templates, err := s.GetTemplates(ctx)
	if err != nil {
		return err
	}
	i := indexOf(templates, t.ID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, t.ID)
	}
	templates[i] = t
	return s.SaveTemplates(ctx, templates)
}

// DeleteTemplate removes the template with id. Deleting an absent id is not
// an error.
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	templates, err := s.GetTemplates(ctx)
	if err != nil {
		return err
	}
	return s.SaveTemplates(ctx, slices.DeleteFunc(templates, func(t models.Template) bool {
		return t.ID == id
	}))
}

// IncrementUsage bumps the usage count of id. Absent ids are ignored.
func (s *Store) IncrementUsage(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func(t *models.Template) {
		t.UsageCount++
	})
}

// ToggleFavorite flips the favorite flag of id. Absent ids are ignored.
func (s *Store) ToggleFavorite(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func(t *models.Template) {
		t.IsFavorite = !t.IsFavorite
	})
}

// mutate applies fn to the template with id and refreshes its updatedAt.
// Nothing is written when id is absent.
func (s *Store) mutate(ctx context.Context, id string, fn func(*models.Template)) error {
	templates, err := s.GetTemplates(ctx)
	if err != nil {
		return err
	}
	i := indexOf(templates, id)
	if i < 0 {
		log.Debug().Str("id", id).Msg("Template not found, nothing to update")
		return nil
	}
	fn(&templates[i])
	templates[i].UpdatedAt = models.Timestamp(s.now())
	return s.SaveTemplates(ctx, templates)
}

// GetMetadata returns the install metadata, or nil if none is stored.
func (s *Store) GetMetadata(ctx context.Context) (*models.Metadata, error) {
	data, err := s.backend.Get(ctx, []string{KeyMetadata})
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata: %w", ErrStorage, err)
	}
	raw, ok := data[KeyMetadata]
	if !ok {
		return nil, nil
	}
	var meta models.Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		log.Error().Err(err).Msg("Stored metadata is unreadable")
		return nil, nil
	}
	return &meta, nil
}

// UpdateLastBackup stamps the metadata with the current time. It does nothing
// when no metadata is stored.
func (s *Store) UpdateLastBackup(ctx context.Context) error {
	meta, err := s.GetMetadata(ctx)
	if err != nil || meta == nil {
		return err
	}
	meta.LastBackup = models.Timestamp(s.now())
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := s.backend.Set(ctx, map[string][]byte{KeyMetadata: raw}); err != nil {
		return fmt.Errorf("%w: write metadata: %w", ErrStorage, err)
	}
	return nil
}

// ClearAll wipes the backend and re-initializes it.
func (s *Store) ClearAll(ctx context.Context) error {
	defer s.writes.Add(1)
	if err := s.backend.Clear(ctx); err != nil {
		return fmt.Errorf("%w: clear: %w", ErrStorage, err)
	}
	log.Warn().Msg("All stored data cleared")
	return s.Initialize(ctx)
}

func indexOf(templates []models.Template, id string) int {
	return slices.IndexFunc(templates, func(t models.Template) bool {
		return t.ID == id
	})
}
