package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv overlays runner-injected environment variables onto cfg. The
// runner spawns one agent process per review session and tunes it through
// the environment rather than by templating the config file, so environment
// values win over file values.
//
// Recognised variables:
//
//	LLM_MODEL, LLM_TEMPERATURE, LLM_MAX_TOKENS
//	STT_PROVIDER, STT_MODEL, STT_LANGUAGE
//	TTS_PROVIDER, TTS_MODEL, TTS_VOICE_ID, TTS_LANGUAGE
//	VAD_SPEECH_THRESHOLD, VAD_SILENCE_THRESHOLD
//	VAD_MIN_SPEECH_MS, VAD_MIN_SILENCE_MS
//	CHECKPOINT_INTERVAL, ANSWER_TIMEOUT
//	ROOM_URL, ROOM_TOKEN
//	<PROVIDER>_API_KEY (e.g. OPENAI_API_KEY, DEEPGRAM_API_KEY)
//
// Durations accept either bare seconds ("90") or a Go duration ("1m30s").
// Unset or empty variables leave the config value untouched. Malformed
// values are reported as a joined error; cfg keeps the file value for any
// variable that failed to parse.
//
// [Load] applies the overlay automatically, before validation. Call this
// directly only when composing a load sequence by hand.
func ApplyEnv(cfg *Config) error {
	var errs []error

	envString("LLM_MODEL", &cfg.Providers.LLM.Model)
	errs = append(errs, envFloat("LLM_TEMPERATURE", &cfg.Pipeline.Temperature))
	errs = append(errs, envInt("LLM_MAX_TOKENS", &cfg.Pipeline.MaxTokens))

	if envString("STT_PROVIDER", &cfg.Providers.STT.Name) {
		validateProviderName("stt", cfg.Providers.STT.Name)
	}
	envString("STT_MODEL", &cfg.Providers.STT.Model)
	envString("STT_LANGUAGE", &cfg.Pipeline.Language)

	if envString("TTS_PROVIDER", &cfg.Providers.TTS.Name) {
		validateProviderName("tts", cfg.Providers.TTS.Name)
	}
	envString("TTS_MODEL", &cfg.Providers.TTS.Model)
	envString("TTS_VOICE_ID", &cfg.Voice.VoiceID)
	envString("TTS_LANGUAGE", &cfg.Voice.Language)

	errs = append(errs, envFloat("VAD_SPEECH_THRESHOLD", &cfg.Pipeline.VAD.SpeechThreshold))
	errs = append(errs, envFloat("VAD_SILENCE_THRESHOLD", &cfg.Pipeline.VAD.SilenceThreshold))
	errs = append(errs, envInt("VAD_MIN_SPEECH_MS", &cfg.Pipeline.VAD.MinSpeechMs))
	errs = append(errs, envInt("VAD_MIN_SILENCE_MS", &cfg.Pipeline.VAD.MinSilenceMs))

	errs = append(errs, envSeconds("CHECKPOINT_INTERVAL", &cfg.Checkpoint.IntervalSec))
	errs = append(errs, envSeconds("ANSWER_TIMEOUT", &cfg.Session.AnswerTimeoutSec))

	envString("ROOM_URL", &cfg.Providers.Room.BaseURL)
	envString("ROOM_TOKEN", &cfg.Providers.Room.APIKey)

	fillAPIKey(&cfg.Providers.LLM)
	fillAPIKey(&cfg.Providers.STT)
	fillAPIKey(&cfg.Providers.TTS)
	fillAPIKey(&cfg.Providers.Embeddings)

	return errors.Join(errs...)
}

// fillAPIKey overrides the entry's credential from the conventional
// <PROVIDER>_API_KEY variable for its provider name.
func fillAPIKey(e *ProviderEntry) {
	if e.Name == "" {
		return
	}
	name := strings.ToUpper(strings.ReplaceAll(e.Name, "-", "_")) + "_API_KEY"
	if v := os.Getenv(name); v != "" {
		e.APIKey = v
	}
}

// envString copies the variable into dst when set, reporting whether it did.
func envString(name string, dst *string) bool {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return false
	}
	*dst = v
	return true
}

func envInt(name string, dst *int) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %q is not an integer", name, v)
	}
	if n < 0 {
		return fmt.Errorf("%s: %d must not be negative", name, n)
	}
	*dst = n
	return nil
}

func envFloat(name string, dst *float64) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %q is not a number", name, v)
	}
	*dst = f
	return nil
}

// envSeconds parses bare seconds or a Go duration into whole seconds.
func envSeconds(name string, dst *int) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return fmt.Errorf("%s: %d must not be negative", name, n)
		}
		*dst = n
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %q is neither seconds nor a duration", name, v)
	}
	if d < 0 {
		return fmt.Errorf("%s: %s must not be negative", name, d)
	}
	*dst = int(d / time.Second)
	return nil
}
