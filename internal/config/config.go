// Package config loads the epubtran configuration from an optional file,
// EPUBTRAN_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/valpere/epubtran/internal/document"
	"github.com/valpere/epubtran/internal/orchestrator"
	"github.com/valpere/epubtran/internal/translator"
)

// Providers lists the provider names accepted by the provider key.
var Providers = []string{"openrouter", "openai", "gemini", "ollama", "google", "systran", "mymemory"}

const (
	DefaultProvider     = "openrouter"
	DefaultDatabasePath = "./data/epubtran.db"
	envPrefix           = "EPUBTRAN"
)

type (
	Config struct {
		SourceLang string                              `mapstructure:"source_lang"`
		TargetLang string                              `mapstructure:"target_lang"`
		Provider   string                              `mapstructure:"provider"`
		Providers  map[string]translator.ServiceConfig `mapstructure:"providers"`
		Pipeline   Pipeline                            `mapstructure:"pipeline"`
		Walker     document.Options                    `mapstructure:"walker"`
		Store      Store                               `mapstructure:"store"`
		Log        Log                                 `mapstructure:"log"`
	}

	Pipeline struct {
		Workers         int           `mapstructure:"workers"`
		ChapterTimeout  time.Duration `mapstructure:"chapter_timeout"`
		MaxRetries      int           `mapstructure:"max_retries"`
		BaseDelay       time.Duration `mapstructure:"base_delay"`
		MaxDelay        time.Duration `mapstructure:"max_delay"`
		BatchSize       int           `mapstructure:"batch_size"`
		AllowPartial    bool          `mapstructure:"allow_partial"`
		StrictGlossary  bool          `mapstructure:"strict_glossary"`
		RebuildGlossary bool          `mapstructure:"rebuild_glossary"`
		StripRuby       bool          `mapstructure:"strip_ruby"`
		ValidateOutput  bool          `mapstructure:"validate_output"`
		ContextChars    int           `mapstructure:"context_chars"`
	}

	Store struct {
		Path    string `mapstructure:"path"`
		NoCache bool   `mapstructure:"no_cache"`
	}

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	}
)

// providerFields are the keys of a provider block.
var providerFields = []string{
	"credentials", "api_key", "model", "base_url", "timeout", "project_id",
	"max_batch_size", "max_context_chars", "requests_per_minute",
}

// envAliases are environment variables accepted in addition to the
// EPUBTRAN_PROVIDERS_* names.
var envAliases = map[string][]string{
	"providers.openrouter.api_key": {"OPENROUTER_KEY"},
	"providers.openai.api_key":     {"OPENAI_API_KEY"},
	"providers.gemini.api_key":     {"GEMINI_KEY"},
	"providers.google.credentials": {"GOOGLE_APPLICATION_CREDENTIALS"},
	"providers.google.project_id":  {"GOOGLE_CLOUD_PROJECT"},
	"providers.systran.api_key":    {"SYSTRAN_KEY"},
	"providers.mymemory.api_key":   {"MYMEMORY_EMAIL"},
	"providers.ollama.base_url":    {"OLLAMA_HOST"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source_lang", "ja")
	v.SetDefault("target_lang", "ko")
	v.SetDefault("provider", DefaultProvider)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.chapter_timeout", 30*time.Minute)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.base_delay", 2*time.Second)
	v.SetDefault("pipeline.max_delay", time.Minute)
	v.SetDefault("pipeline.batch_size", 40)
	v.SetDefault("pipeline.allow_partial", false)
	v.SetDefault("pipeline.strict_glossary", false)
	v.SetDefault("pipeline.rebuild_glossary", false)
	v.SetDefault("pipeline.strip_ruby", true)
	v.SetDefault("pipeline.validate_output", false)
	v.SetDefault("pipeline.context_chars", 200)

	v.SetDefault("walker.skip_elements", []string{})
	v.SetDefault("walker.merge_inline", []string{})

	v.SetDefault("store.path", DefaultDatabasePath)
	v.SetDefault("store.no_cache", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// OpenAI-compatible hosts take large blocks, everything else the
	// smaller default.
	for _, name := range Providers {
		v.SetDefault("providers."+name+".timeout", 2*time.Minute)
		switch name {
		case "openrouter", "openai", "gemini":
			v.SetDefault("providers."+name+".max_context_chars", 35000)
		case "ollama":
			v.SetDefault("providers."+name+".max_context_chars", 10000)
		}
	}
}

// Load reads the configuration. file may be empty, in which case
// $HOME/.epubtran.yaml is used when it exists. Flags present in flags are
// bound to the keys listed in FlagKeys and win over file and environment
// when set.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, name := range Providers {
		for _, field := range providerFields {
			key := "providers." + name + "." + field
			input := append([]string{key, envName(key)}, envAliases[key]...)
			if err := v.BindEnv(input...); err != nil {
				return nil, fmt.Errorf("binding %s: %w", key, err)
			}
		}
	}

	if flags != nil {
		for key, flag := range FlagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", flag, err)
				}
			}
		}
	}

	if file == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".epubtran.yaml")
			if _, err := os.Stat(candidate); err == nil {
				file = candidate
			}
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FlagKeys maps configuration keys to the command-line flags that set them.
var FlagKeys = map[string]string{
	"source_lang":               "source",
	"target_lang":               "target",
	"provider":                  "provider",
	"store.path":                "db",
	"store.no_cache":            "no-cache",
	"log.level":                 "log-level",
	"log.format":                "log-format",
	"pipeline.workers":          "workers",
	"pipeline.chapter_timeout":  "chapter-timeout",
	"pipeline.max_retries":      "max-retries",
	"pipeline.batch_size":       "batch-size",
	"pipeline.allow_partial":    "allow-partial",
	"pipeline.strict_glossary":  "strict-glossary",
	"pipeline.rebuild_glossary": "rebuild-glossary",
	"pipeline.strip_ruby":       "strip-ruby",
	"pipeline.validate_output":  "validate",
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	var errs []error
	if !isProvider(c.Provider) {
		errs = append(errs, fmt.Errorf("unknown provider %q (want one of %s)", c.Provider, strings.Join(Providers, ", ")))
	}
	if c.TargetLang == "" {
		errs = append(errs, errors.New("target_lang must be set"))
	}
	if c.Pipeline.Workers < 0 {
		errs = append(errs, errors.New("pipeline.workers must not be negative"))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func isProvider(name string) bool {
	for _, p := range Providers {
		if p == name {
			return true
		}
	}
	return false
}

// ProviderConfig returns the block of the named provider.
func (c *Config) ProviderConfig(name string) translator.ServiceConfig {
	return c.Providers[name]
}

// Orchestrator converts the pipeline settings. A configured max_retries or
// context_chars of zero disables retries or the previous-context snippet;
// the orchestrator reads zero as its default.
func (c *Config) Orchestrator() orchestrator.Config {
	p := c.Pipeline
	if p.MaxRetries == 0 {
		p.MaxRetries = -1
	}
	if p.ContextChars == 0 {
		p.ContextChars = -1
	}
	return orchestrator.Config{
		SourceLang:      c.SourceLang,
		TargetLang:      c.TargetLang,
		Workers:         p.Workers,
		ChapterTimeout:  p.ChapterTimeout,
		MaxRetries:      p.MaxRetries,
		BaseDelay:       p.BaseDelay,
		MaxDelay:        p.MaxDelay,
		BatchSize:       p.BatchSize,
		BatchChars:      c.ProviderConfig(c.Provider).MaxContextChars,
		ContextChars:    p.ContextChars,
		AllowPartial:    p.AllowPartial,
		StrictGlossary:  p.StrictGlossary,
		RebuildGlossary: p.RebuildGlossary,
		StripRuby:       p.StripRuby,
		ValidateOutput:  p.ValidateOutput,
		Walk:            c.Walker,
	}
}
