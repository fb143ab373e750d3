package config

import "maps"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// server changes require a restart.
type ConfigDiff struct {
	// LogLevelChanged is set when server.log_level differs.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AssistantChanged is set when the wake word, persona, voice, or LLM
	// timeout differ.
	AssistantChanged bool

	// AliasesChanged is set when the alias table differs.
	AliasesChanged bool

	// SessionChanged is set when any capture-loop tunable differs.
	SessionChanged bool
}

// Any reports whether the diff contains at least one tracked change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.AssistantChanged || d.AliasesChanged || d.SessionChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Assistant.WakeWord != new.Assistant.WakeWord ||
		old.Assistant.Persona != new.Assistant.Persona ||
		old.Assistant.VoiceID != new.Assistant.VoiceID ||
		old.Assistant.LLMTimeout != new.Assistant.LLMTimeout {
		d.AssistantChanged = true
	}

	if !maps.Equal(old.Assistant.Aliases, new.Assistant.Aliases) {
		d.AliasesChanged = true
	}

	if old.Session != new.Session {
		d.SessionChanged = true
	}

	return d
}
