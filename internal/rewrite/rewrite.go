// Package rewrite optimizes prompts through the remote model when one is
// configured, falling back to the offline heuristic optimizer.
package rewrite

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/promptshelf/internal/optimizer"
	"github.com/thebtf/promptshelf/internal/privacy"
	"github.com/thebtf/promptshelf/internal/remote"
	"github.com/thebtf/promptshelf/internal/tokens"
	"github.com/thebtf/promptshelf/pkg/models"
)

// RemoteImprovement is the improvement reported for a remote rewrite.
const RemoteImprovement = "Rewritten by the remote model"

// SettingsReader supplies the configured API key.
type SettingsReader interface {
	GetSettings(ctx context.Context) (models.Settings, error)
}

// ClientFactory builds a remote client for an API key.
type ClientFactory func(ctx context.Context, apiKey string) (remote.Client, error)

// Request is one optimization request.
type Request struct {
	Text     string          `json:"text"`
	Category models.Category `json:"category,omitempty"`
	// UseRemote disables the remote model when false. Nil means "if configured".
	UseRemote *bool `json:"useApi,omitempty"`
}

// Service runs optimizations.
type Service struct {
	settings  SettingsReader
	newClient ClientFactory
	counter   *tokens.Counter
}

// New creates a Service. A nil factory makes every optimization offline.
func New(settings SettingsReader, factory ClientFactory, counter *tokens.Counter) *Service {
	if counter == nil {
		counter = tokens.Default()
	}
	return &Service{settings: settings, newClient: factory, counter: counter}
}

// Optimize rewrites req.Text. It never fails: any remote problem degrades to
// the offline result.
func (s *Service) Optimize(ctx context.Context, req Request) models.OptimizationResult {
	result := optimizer.OptimizePrompt(req.Text, req.Category)

	if text, ok := s.remoteRewrite(ctx, req); ok {
		result.OptimizedPrompt = text
		result.Improvements = []string{RemoteImprovement}
		result.Source = models.SourceRemote
	}

	result.OriginalTokens = s.counter.Count(result.OriginalPrompt)
	result.OptimizedTokens = s.counter.Count(result.OptimizedPrompt)
	return result
}

func (s *Service) remoteRewrite(ctx context.Context, req Request) (string, bool) {
	if s.newClient == nil || s.settings == nil {
		return "", false
	}
	if req.UseRemote != nil && !*req.UseRemote {
		return "", false
	}
	if privacy.IsEntirelyPrivate(req.Text) {
		log.Debug().Msg("Prompt is entirely private, optimizing offline")
		return "", false
	}

	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Cannot read settings, optimizing offline")
		return "", false
	}
	if settings.GeminiAPIKey == "" {
		log.Debug().Msg("No API key configured, optimizing offline")
		return "", false
	}

	client, err := s.newClient(ctx, settings.GeminiAPIKey)
	if err != nil {
		log.Warn().Err(err).Str("key", privacy.MaskKey(settings.GeminiAPIKey)).Msg("Cannot create remote client, optimizing offline")
		return "", false
	}

	res := client.OptimizeViaRemote(ctx, privacy.Clean(req.Text))
	if !res.Success {
		log.Warn().Str("error", res.Error).Msg("Remote optimization failed, using offline optimizer")
		return "", false
	}
	return res.Text, true
}

// GeminiFactory returns a ClientFactory for Gemini clients built from cfg.
// The client of the most recently used key is reused.
func GeminiFactory(cfg remote.Config) ClientFactory {
	var (
		mu     sync.Mutex
		key    string
		client *remote.Gemini
	)
	return func(ctx context.Context, apiKey string) (remote.Client, error) {
		mu.Lock()
		defer mu.Unlock()

		if client != nil && key == apiKey {
			return client, nil
		}
		c := cfg
		c.APIKey = apiKey
		g, err := remote.NewGemini(ctx, c)
		if err != nil {
			return nil, err
		}
		key, client = apiKey, g
		return client, nil
	}
}
