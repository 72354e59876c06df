// Package remote talks to the Gemini text-generation API to rewrite prompts.
package remote

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/thebtf/promptshelf/internal/privacy"
)

// DefaultModel is the Gemini model used for rewrites.
const DefaultModel = "gemini-3-flash-preview"

// DefaultTimeout bounds one rewrite request.
const DefaultTimeout = 30 * time.Second

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("Gemini API key not configured")

// Result is the outcome of one remote rewrite.
type Result struct {
	Success bool   `json:"success"`
	Text    string `json:"text,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client rewrites a prompt remotely.
type Client interface {
	OptimizeViaRemote(ctx context.Context, text string) Result
}

// Config holds Gemini client configuration.
type Config struct {
	APIKey  string
	Model   string        // default: DefaultModel
	BaseURL string        // overrides the API endpoint (tests, proxies)
	Timeout time.Duration // default: DefaultTimeout
}

// Gemini is a Client backed by the Gemini API.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

var _ Client = (*Gemini)(nil)

var apiKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// IsValidAPIKey reports whether key looks like a Gemini API key.
func IsValidAPIKey(key string) bool {
	return len(key) >= 20 && apiKeyPattern.MatchString(key)
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	log.Debug().
		Str("model", model).
		Str("key", privacy.MaskKey(cfg.APIKey)).
		Msg("Gemini client created")

	return &Gemini{client: client, model: model, timeout: timeout}, nil
}

var safetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
}

// OptimizeViaRemote implements Client. Failures are reported in the Result,
// never as a panic or error.
func (g *Gemini) OptimizeViaRemote(ctx context.Context, text string) Result {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(BuildOptimizationPrompt(text)), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.7),
		TopK:            genai.Ptr[float32](40),
		TopP:            genai.Ptr[float32](0.95),
		MaxOutputTokens: 4096,
		SafetySettings:  safetySettings,
	})
	if err != nil {
		log.Warn().Err(err).Str("model", g.model).Msg("Gemini request failed")
		return Result{Error: fmt.Sprintf("API request failed: %v", err)}
	}

	optimized := cleanResponse(resp.Text())
	if optimized == "" {
		log.Warn().Str("model", g.model).Msg("Gemini response has no text")
		return Result{Error: "Invalid API response format - no text content found"}
	}

	log.Debug().
		Int("original_len", len(text)).
		Int("optimized_len", len(optimized)).
		Dur("took", time.Since(start)).
		Msg("Gemini rewrite complete")

	return Result{Success: true, Text: optimized}
}
