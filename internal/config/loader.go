package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/vivadeck/vivadeck/internal/artifact"
	"github.com/vivadeck/vivadeck/internal/review"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"deepgram", "whisper", "whisper-native"},
	"tts":        {"cartesia", "elevenlabs", "coqui"},
	"embeddings": {"openai", "ollama"},
	"vad":        {"energy"},
	"room":       {"wsroom"},
}

// Load reads the YAML configuration file at path, overlays the runner's
// environment with [ApplyEnv], and returns a validated [Config]. The overlay
// runs before validation so a minimal file plus environment selection (for
// example STT_PROVIDER) still forms a complete configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result,
// without touching the environment. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
//
// A review session cannot run at all without recognition, synthesis,
// reasoning, retrieval, and a room gateway, so those are hard requirements;
// everything else degrades to package defaults or a warning.
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
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("room", cfg.Providers.Room.Name)

	// Required pipeline stages. The VAD entry may stay empty (the energy
	// gate needs no credentials) and the room name defaults to wsroom, but
	// the gateway address has nowhere to come from except configuration.
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required"))
	}
	if cfg.Providers.Room.BaseURL == "" {
		errs = append(errs, errors.New("providers.room.base_url is required"))
	}

	// Embeddings ↔ retrieval dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Retrieval.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but retrieval.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Retrieval.PostgresDSN == "" {
		errs = append(errs, errors.New("retrieval.postgres_dsn is required"))
	}
	if cfg.Retrieval.ChunkOverlap > 0 && cfg.Retrieval.ChunkBudget > 0 && cfg.Retrieval.ChunkOverlap >= cfg.Retrieval.ChunkBudget {
		errs = append(errs, fmt.Errorf("retrieval.chunk_overlap %d must be smaller than chunk_budget %d", cfg.Retrieval.ChunkOverlap, cfg.Retrieval.ChunkBudget))
	}

	// Voice
	if cfg.Voice.Speed != 0 {
		if cfg.Voice.Speed < 0.5 || cfg.Voice.Speed > 2.0 {
			errs = append(errs, fmt.Errorf("voice.speed %.2f is out of range [0.5, 2.0]", cfg.Voice.Speed))
		}
	}

	// Pipeline
	if cfg.Pipeline.Temperature < 0 || cfg.Pipeline.Temperature > 2 {
		errs = append(errs, fmt.Errorf("pipeline.temperature %.2f is out of range [0, 2]", cfg.Pipeline.Temperature))
	}
	if t := cfg.Pipeline.VAD.SpeechThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("pipeline.vad.speech_threshold %.2f is out of range [0, 1]", t))
	}
	if t := cfg.Pipeline.VAD.SilenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("pipeline.vad.silence_threshold %.2f is out of range [0, 1]", t))
	}
	if s, q := cfg.Pipeline.VAD.SpeechThreshold, cfg.Pipeline.VAD.SilenceThreshold; s != 0 && q != 0 && q > s {
		errs = append(errs, fmt.Errorf("pipeline.vad.silence_threshold %.2f exceeds speech_threshold %.2f", q, s))
	}

	// Session
	if cfg.Session.AnswerTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("session.answer_timeout_sec %d must not be negative", cfg.Session.AnswerTimeoutSec))
	}
	if cfg.Session.NudgeIntervalSec < 0 {
		errs = append(errs, fmt.Errorf("session.nudge_interval_sec %d must not be negative", cfg.Session.NudgeIntervalSec))
	}
	if cfg.Session.DisconnectGraceSec < 0 {
		errs = append(errs, fmt.Errorf("session.disconnect_grace_sec %d must not be negative", cfg.Session.DisconnectGraceSec))
	}
	for level, n := range cfg.Session.QuestionCounts {
		if !review.Level(level).IsValid() {
			errs = append(errs, fmt.Errorf("session.question_counts key %q is invalid; valid values: easy, medium, hard", level))
		}
		if n < 0 {
			errs = append(errs, fmt.Errorf("session.question_counts[%s] %d must not be negative", level, n))
		}
	}

	// Checkpoints
	if cfg.Checkpoint.Backend != "" && !cfg.Checkpoint.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("checkpoint.backend %q is invalid; valid values: memory, redis", cfg.Checkpoint.Backend))
	}
	if cfg.Checkpoint.Backend == CheckpointRedis && cfg.Checkpoint.RedisURL == "" {
		errs = append(errs, errors.New("checkpoint.redis_url is required when checkpoint.backend is redis"))
	}
	if cfg.Checkpoint.IntervalSec < 0 {
		errs = append(errs, fmt.Errorf("checkpoint.interval_sec %d must not be negative", cfg.Checkpoint.IntervalSec))
	}
	if cfg.Checkpoint.Ring < 0 {
		errs = append(errs, fmt.Errorf("checkpoint.ring %d must not be negative", cfg.Checkpoint.Ring))
	}

	// Artifact
	if _, err := artifact.NewParser(cfg.Artifact.Parser); err != nil {
		errs = append(errs, fmt.Errorf("artifact.parser: %w", err))
	}
	if cfg.Artifact.MaxFetchBytes < 0 {
		errs = append(errs, fmt.Errorf("artifact.max_fetch_bytes %d must not be negative", cfg.Artifact.MaxFetchBytes))
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
