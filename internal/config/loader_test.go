package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/perivale/sonara/internal/config"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
providers:
  stt:
    name: whisper
    base_url: "http://localhost:9000"
  tts:
    name: coqui
    base_url: "http://localhost:5002"
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  apps:
    name: adb
assistant:
  wake_word: sonara
  llm_timeout: 15s
  aliases:
    tube: com.google.android.youtube
session:
  utterance_timeout: 4s
  max_chunk_duration: 12s
  restart_delay: 300ms
  min_chunk_bytes: 2000
  min_confidence: 0.6
  min_words: 3
history:
  postgres_dsn: "postgres://localhost/sonara"
  dedup_window: 10s
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.STT.Name != "whisper" {
		t.Errorf("stt provider = %q, want whisper", cfg.Providers.STT.Name)
	}
	if cfg.Assistant.WakeWord != "sonara" {
		t.Errorf("wake word = %q, want sonara", cfg.Assistant.WakeWord)
	}
	if got := cfg.Assistant.LLMTimeout.Std(); got != 15*time.Second {
		t.Errorf("llm timeout = %s, want 15s", got)
	}
	if got := cfg.Session.RestartDelay.Std(); got != 300*time.Millisecond {
		t.Errorf("restart delay = %s, want 300ms", got)
	}
	if cfg.Assistant.Aliases["tube"] != "com.google.android.youtube" {
		t.Errorf("aliases = %v, want tube entry", cfg.Assistant.Aliases)
	}
}

func TestValidate_STTIsRequired(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing STT provider, got nil")
	}
	if !strings.Contains(err.Error(), "providers.stt.name") {
		t.Errorf("error should name the missing field, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
providers:
  stt:
    name: whisper
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_MultiTokenWakeWord(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    name: whisper
assistant:
  wake_word: "hey sonara"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for multi-token wake word, got nil")
	}
	if !strings.Contains(err.Error(), "single token") {
		t.Errorf("error should mention single token, got: %v", err)
	}
}

func TestValidate_ConfidenceOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    name: whisper
session:
  min_confidence: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range confidence, got nil")
	}
}

func TestValidate_UtteranceTimeoutExceedsMaxChunk(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    name: whisper
session:
  utterance_timeout: 20s
  max_chunk_duration: 10s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error when utterance timeout exceeds max chunk, got nil")
	}
}

func TestValidate_EmptyAliasPackage(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    name: whisper
assistant:
  aliases:
    tube: ""
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for empty alias package id, got nil")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    name: whisper
serverr:
  listen_addr: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    name: whisper
session:
  utterance_timeout: "soonish"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unparsable duration, got nil")
	}
}

func TestLoadFromReader_FallbackChain(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    name: whisper
    base_url: "http://localhost:9000"
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
    fallbacks:
      - name: ollama
        base_url: "http://localhost:11434"
        model: llama3.2
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	fbs := cfg.Providers.LLM.Fallbacks
	if len(fbs) != 1 {
		t.Fatalf("fallbacks = %v, want one entry", fbs)
	}
	if fbs[0].Name != "ollama" || fbs[0].Model != "llama3.2" {
		t.Errorf("fallback = %+v, want ollama/llama3.2", fbs[0])
	}
}

func TestValidate_NestedFallbackRejected(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    name: whisper
    fallbacks:
      - name: whisper-native
        fallbacks:
          - name: whisper
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for nested fallbacks, got nil")
	}
	if !strings.Contains(err.Error(), "nested fallbacks") {
		t.Errorf("err = %v, want nested fallbacks complaint", err)
	}
}

func TestValidate_FallbackMissingName(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    name: whisper
    fallbacks:
      - model: base.en
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unnamed fallback, got nil")
	}
}
