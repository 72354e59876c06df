// Package tokens estimates how many model tokens a prompt costs.
package tokens

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens with a BPE encoding.
type Counter struct {
	codec tokenizer.Codec
}

// New creates a Counter for the cl100k_base encoding.
func New() (*Counter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, err
	}
	return &Counter{codec: codec}, nil
}

var defaultCounter = sync.OnceValue(func() *Counter {
	c, err := New()
	if err != nil {
		log.Warn().Err(err).Msg("Tokenizer unavailable, using word estimate")
		return &Counter{}
	}
	return c
})

// Default returns the process-wide Counter.
func Default() *Counter {
	return defaultCounter()
}

// Count returns the number of tokens in text. Without a codec, or when
// encoding fails, it falls back to Estimate.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c != nil && c.codec != nil {
		ids, _, err := c.codec.Encode(text)
		if err == nil {
			return len(ids)
		}
		log.Debug().Err(err).Msg("Token encoding failed")
	}
	return Estimate(text)
}

// Estimate approximates a token count as four tokens per three words, rounded up.
func Estimate(text string) int {
	words := len(strings.Fields(text))
	return (words*4 + 2) / 3
}
