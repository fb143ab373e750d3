package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"whisper", "whisper-native"},
	"tts":        {"coqui"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai"},
	"apps":       {"adb"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("apps", cfg.Providers.Apps.Name)

	// Fallback chains are one level deep.
	for _, kind := range []struct {
		name  string
		entry ProviderEntry
	}{
		{"stt", cfg.Providers.STT},
		{"tts", cfg.Providers.TTS},
		{"llm", cfg.Providers.LLM},
	} {
		for i, fb := range kind.entry.Fallbacks {
			validateProviderName(kind.name, fb.Name)
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d] is missing a name", kind.name, i))
			}
			if len(fb.Fallbacks) > 0 {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d] declares nested fallbacks", kind.name, i))
			}
		}
	}

	// Provider availability warnings
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; wake-word questions and the dispatch catch-all will fail")
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required; the assistant cannot listen without a transcriber"))
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; replies will not be spoken")
	}

	// Assistant
	if wake := strings.TrimSpace(cfg.Assistant.WakeWord); wake != "" && strings.ContainsAny(wake, " \t") {
		errs = append(errs, fmt.Errorf("assistant.wake_word %q must be a single token", cfg.Assistant.WakeWord))
	}
	if cfg.Assistant.LLMTimeout < 0 {
		errs = append(errs, fmt.Errorf("assistant.llm_timeout %s must not be negative", cfg.Assistant.LLMTimeout.Std()))
	}
	for alias, pkg := range cfg.Assistant.Aliases {
		if strings.TrimSpace(pkg) == "" {
			errs = append(errs, fmt.Errorf("assistant.aliases[%q] has an empty package id", alias))
		}
	}

	// Session tunables
	s := cfg.Session
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("session.min_confidence %.2f is out of range [0, 1]", s.MinConfidence))
	}
	if s.MinChunkBytes < 0 {
		errs = append(errs, fmt.Errorf("session.min_chunk_bytes %d must not be negative", s.MinChunkBytes))
	}
	if s.MinWords < 0 {
		errs = append(errs, fmt.Errorf("session.min_words %d must not be negative", s.MinWords))
	}
	for _, d := range []struct {
		name  string
		value Duration
	}{
		{"session.utterance_timeout", s.UtteranceTimeout},
		{"session.max_chunk_duration", s.MaxChunkDuration},
		{"session.restart_delay", s.RestartDelay},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s %s must not be negative", d.name, d.value.Std()))
		}
	}
	if s.UtteranceTimeout > 0 && s.MaxChunkDuration > 0 && s.UtteranceTimeout > s.MaxChunkDuration {
		errs = append(errs, fmt.Errorf("session.utterance_timeout %s exceeds session.max_chunk_duration %s",
			s.UtteranceTimeout.Std(), s.MaxChunkDuration.Std()))
	}

	// History
	if cfg.History.PostgresDSN == "" {
		slog.Warn("history.postgres_dsn is empty; the interaction log will be in-memory only")
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.History.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but history.embedding_dimensions is not set; the provider's model width is used")
	}
	if cfg.History.DedupWindow < 0 {
		errs = append(errs, fmt.Errorf("history.dedup_window %s must not be negative", cfg.History.DedupWindow.Std()))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
