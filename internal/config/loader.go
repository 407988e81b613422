package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/beatmeet/beat/internal/mcp"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":  {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":  {"deepgram", "whisper", "whisper-native"},
	"tts":  {"elevenlabs", "coqui"},
	"vad":  {"silero"},
	"room": {"discord"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("room", cfg.Providers.Room.Name)

	// A room can be facilitated without STT/TTS/VAD only in degraded text-only
	// mode; LLM is load-bearing for every non-deterministic path the engine has.
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("providers.llm.name is required"))
	}
	if cfg.Providers.Room.Name == "" {
		errs = append(errs, fmt.Errorf("providers.room.name is required"))
	}

	// Facilitation
	if cfg.Facilitation.Style != "" && !cfg.Facilitation.Style.IsValid() {
		errs = append(errs, fmt.Errorf("facilitation.style %q is invalid; valid values: gentle, moderate, chatting", cfg.Facilitation.Style))
	}
	if cfg.Facilitation.WarningRatio != 0 && (cfg.Facilitation.WarningRatio <= 0 || cfg.Facilitation.WarningRatio >= 1) {
		errs = append(errs, fmt.Errorf("facilitation.warning_ratio %.2f is out of range (0, 1)", cfg.Facilitation.WarningRatio))
	}
	if cfg.Facilitation.MonitoringIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("facilitation.monitoring_interval_seconds must not be negative"))
	}
	if cfg.Facilitation.InterventionCooldownSeconds < 0 {
		errs = append(errs, fmt.Errorf("facilitation.intervention_cooldown_seconds must not be negative"))
	}
	if cfg.Facilitation.OverrideGraceSeconds < 0 {
		errs = append(errs, fmt.Errorf("facilitation.override_grace_seconds must not be negative"))
	}
	if cfg.Facilitation.SilenceWindowSeconds < 0 {
		errs = append(errs, fmt.Errorf("facilitation.silence_window_seconds must not be negative"))
	}
	if cfg.Facilitation.TranscriptWindowSeconds < 0 {
		errs = append(errs, fmt.Errorf("facilitation.transcript_window_seconds must not be negative"))
	}
	for style, threshold := range cfg.Facilitation.TangentConfidenceThresholds {
		styleVal := Style(style)
		if !styleVal.IsValid() {
			errs = append(errs, fmt.Errorf("facilitation.tangent_confidence_thresholds: %q is not a recognised style", style))
		}
		if threshold < 0 || threshold > 1 {
			errs = append(errs, fmt.Errorf("facilitation.tangent_confidence_thresholds[%s] %.2f is out of range [0, 1]", style, threshold))
		}
	}

	// Docstore
	if cfg.Docstore.PostgresDSN == "" {
		slog.Warn("docstore.postgres_dsn is empty; generated documents will not be persisted")
	}

	// MCP servers
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
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
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
