package stt

import "errors"

// ErrSessionClosed is wrapped by SessionHandle methods called after Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// ErrNotSupported is wrapped by SetKeywords on providers that cannot update
// keyword boosts mid-session. The session remains usable after this error.
var ErrNotSupported = errors.New("stt: operation not supported")
