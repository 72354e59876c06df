// Package main provides an offline command-line prompt optimizer for promptshelf.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/promptshelf/internal/optimizer"
	"github.com/thebtf/promptshelf/internal/tokens"
	"github.com/thebtf/promptshelf/pkg/client"
	"github.com/thebtf/promptshelf/pkg/models"
)

func main() {
	category := flag.String("category", "", "Category hint: all, image, video, custom (default: detect)")
	textOnly := flag.Bool("text", false, "Print only the optimized prompt")
	useWorker := flag.Bool("worker", false, "Optimize through a running worker (remote model when configured)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	// stdout carries the result
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	var hint models.Category
	if *category != "" {
		c, ok := models.ParseCategory(*category)
		if !ok {
			log.Fatal().Str("category", *category).Msg("Unknown category")
		}
		hint = c
	}

	text, err := readPrompt(flag.Args(), os.Stdin)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read prompt")
	}

	result := optimize(context.Background(), text, hint, *useWorker)
	log.Debug().
		Str("category", string(result.DetectedCategory)).
		Int("suggestions", len(result.Suggestions)).
		Msg("Prompt optimized")

	if *textOnly {
		fmt.Println(result.OptimizedPrompt)
		return
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatal().Err(err).Msg("Failed to write result")
	}
}

// optimize runs through the local worker when asked and reachable, and the
// offline optimizer otherwise.
func optimize(ctx context.Context, text string, hint models.Category, useWorker bool) models.OptimizationResult {
	if useWorker {
		c := client.Local()
		if c.IsRunning(ctx) {
			res, err := c.Optimize(ctx, text, hint)
			if err == nil {
				return res
			}
			log.Warn().Err(err).Msg("Worker optimize failed, using offline optimizer")
		} else {
			log.Warn().Msg("Worker not running, using offline optimizer")
		}
	}

	result := optimizer.OptimizePrompt(text, hint)
	counter := tokens.Default()
	result.OriginalTokens = counter.Count(result.OriginalPrompt)
	result.OptimizedTokens = counter.Count(result.OptimizedPrompt)
	return result
}

// readPrompt joins the positional arguments, or reads stdin when there are none.
func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
