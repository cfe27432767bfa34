package vad

import "errors"

// ErrSessionClosed is returned by ProcessFrame after Close.
var ErrSessionClosed = errors.New("vad: session is closed")

// ErrFrameSize is wrapped by ProcessFrame when a frame does not match the
// configured SampleRate × FrameSizeMs length.
var ErrFrameSize = errors.New("vad: frame size mismatch")
