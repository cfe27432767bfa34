package tts

import "errors"

// ErrVoiceRequired is returned by providers when the voice profile carries no
// provider-specific voice ID.
var ErrVoiceRequired = errors.New("tts: voice.ID must not be empty")

// ErrEmptyText is returned by Synthesize when called with an empty string.
var ErrEmptyText = errors.New("tts: text must not be empty")
