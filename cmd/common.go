/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/valpere/epubtran/internal/config"
	"github.com/valpere/epubtran/internal/detector"
	"github.com/valpere/epubtran/internal/document"
	"github.com/valpere/epubtran/internal/epub"
	"github.com/valpere/epubtran/internal/store"
	"github.com/valpere/epubtran/internal/translator"
)

// buildProvider constructs the configured provider, wrapped in a rate
// limiter when requests_per_minute is set. The returned function releases
// provider resources.
func buildProvider(ctx context.Context, c *config.Config) (translator.Provider, func(), error) {
	sc := c.ProviderConfig(c.Provider)
	release := func() {}

	var p translator.Provider
	switch c.Provider {
	case "openrouter":
		p = translator.NewOpenRouterProvider(sc)
	case "openai":
		p = translator.NewOpenAIProvider(sc)
	case "gemini":
		p = translator.NewGeminiProvider(sc)
	case "ollama":
		p = translator.NewOllamaProvider(sc)
	case "google":
		g, err := translator.NewGoogleProvider(ctx, sc)
		if err != nil {
			return nil, nil, err
		}
		p = g
		release = func() {
			if err := g.Close(); err != nil {
				log.WithError(err).Debug("Failed to close Google client")
			}
		}
	case "systran":
		p = translator.NewSystranProvider(sc)
	case "mymemory":
		p = translator.NewMyMemoryProvider(sc)
	default:
		return nil, nil, fmt.Errorf("unknown provider: %s", c.Provider)
	}

	log.WithFields(logrus.Fields{
		"provider":   p.Name(),
		"batch_size": p.Capabilities().MaxBatchSize,
		"max_chars":  p.Capabilities().MaxContextChars,
	}).Debug("Provider configured")
	return translator.NewRateLimited(p, sc.RequestsPerMinute), release, nil
}

// checkProvider verifies credentials or reachability when the provider
// supports it.
func checkProvider(ctx context.Context, p translator.Provider) error {
	c, ok := p.(translator.Checker)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := c.IsAvailable(ctx); err != nil {
		return fmt.Errorf("provider %s is not available: %w", p.Name(), err)
	}
	return nil
}

// openStore opens the SQLite database, creating its directory.
func openStore(c *config.Config) (*store.Store, error) {
	if dir := filepath.Dir(c.Store.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := store.New(c.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// sourceLanguage returns the configured source language, or for "auto" the
// book's dc:language, falling back to detection on the first chapters.
func sourceLanguage(book *epub.Book, configured string) string {
	if configured != "" && configured != "auto" {
		return configured
	}
	if lang, _, _ := strings.Cut(book.Language(), "-"); lang != "" {
		return lang
	}

	var sample strings.Builder
	for _, ch := range book.Chapters {
		tree, err := document.Parse(ch.Content)
		if err != nil {
			continue
		}
		sample.WriteString(document.PlainText(tree, document.DefaultOptions()))
		if sample.Len() > 2000 {
			break
		}
	}
	if detected, ok := detector.New().DetectISO(sample.String()); ok {
		log.WithField("language", detected).Info("Detected source language")
		return detected
	}
	return "ja"
}

// bookSections returns the plain text of every parsable chapter, without
// furigana, for the glossary pass.
func bookSections(book *epub.Book, opts document.Options) []string {
	opts.StripRuby = true
	var sections []string
	for _, ch := range book.Chapters {
		tree, err := document.Parse(ch.Content)
		if err != nil {
			log.WithField("href", ch.Href).WithError(err).Warn("Skipping unparsable chapter")
			continue
		}
		sections = append(sections, document.PlainText(tree, opts))
	}
	return sections
}
