// Package cartesia provides a Cartesia-backed TTS provider using the Cartesia
// streaming WebSocket API. It implements the tts.Provider interface and is the
// default reviewer voice backend.
package cartesia

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/vivadeck/vivadeck/pkg/provider/fault"
	"github.com/vivadeck/vivadeck/pkg/provider/tts"
	"github.com/vivadeck/vivadeck/pkg/types"
)

const (
	wsEndpoint     = "wss://api.cartesia.ai/tts/websocket"
	bytesEndpoint  = "https://api.cartesia.ai/tts/bytes"
	voicesEndpoint = "https://api.cartesia.ai/voices"

	apiVersion        = "2024-06-10"
	defaultModel      = "sonic-2"
	defaultSampleRate = 16000
	defaultLanguage   = "en"
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Cartesia Provider.
type Option func(*Provider)

// WithModel sets the Cartesia model ID (e.g., "sonic-2", "sonic-turbo").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithSampleRate sets the PCM output sample rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithLanguage sets the default synthesis language used when the voice profile
// carries none. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// Provider implements tts.Provider backed by the Cartesia API.
type Provider struct {
	apiKey     string
	model      string
	sampleRate int
	language   string
	httpClient *http.Client

	// endpoint overrides for tests
	wsURL     string
	bytesURL  string
	voicesURL string
}

// New creates a new Cartesia Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("cartesia: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		sampleRate: defaultSampleRate,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		wsURL:      wsEndpoint,
		bytesURL:   bytesEndpoint,
		voicesURL:  voicesEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- wire types ----

// outputFormat selects raw 16-bit little-endian PCM at the configured rate.
type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// voiceSpec selects a catalogue voice by ID, with optional speed control.
type voiceSpec struct {
	Mode     string         `json:"mode"`
	ID       string         `json:"id"`
	Controls *voiceControls `json:"__experimental_controls,omitempty"`
}

// voiceControls carries Cartesia's named speed scale.
type voiceControls struct {
	Speed string `json:"speed,omitempty"`
}

// ttsRequest is the JSON payload for one transcript fragment on the WebSocket
// (with ContextID/Continue) or for the bytes endpoint (without them).
type ttsRequest struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        voiceSpec    `json:"voice"`
	Language     string       `json:"language,omitempty"`
	OutputFormat outputFormat `json:"output_format"`
	ContextID    string       `json:"context_id,omitempty"`
	Continue     *bool        `json:"continue,omitempty"`
}

// wsResponse is a single JSON message received from Cartesia over the
// WebSocket. Type is "chunk" for audio, "done" for end of context, "error"
// on failure.
type wsResponse struct {
	Type      string `json:"type"`
	Data      string `json:"data"` // base64-encoded PCM for chunk messages
	ContextID string `json:"context_id"`
	Done      bool   `json:"done"`
	Error     string `json:"error,omitempty"`
}

// buildRequest constructs the request payload for one transcript fragment.
// contextID and cont are zero-valued for the request/response bytes endpoint.
func (p *Provider) buildRequest(transcript string, voice types.VoiceProfile, contextID string, cont *bool) ttsRequest {
	lang := voice.Language
	if lang == "" {
		lang = p.language
	}
	spec := voiceSpec{Mode: "id", ID: voice.ID}
	if s := speedControl(voice.Speed); s != "" {
		spec.Controls = &voiceControls{Speed: s}
	}
	return ttsRequest{
		ModelID:    p.model,
		Transcript: transcript,
		Voice:      spec,
		Language:   lang,
		OutputFormat: outputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: p.sampleRate,
		},
		ContextID: contextID,
		Continue:  cont,
	}
}

// speedControl maps a VoiceProfile speed multiplier (0.5–2.0, 1.0 = default)
// onto Cartesia's named speed scale. Values near 1.0 return "" so the control
// is omitted entirely.
func speedControl(speed float64) string {
	switch {
	case speed == 0:
		return ""
	case speed <= 0.6:
		return "slowest"
	case speed <= 0.85:
		return "slow"
	case speed < 1.15:
		return ""
	case speed < 1.5:
		return "fast"
	default:
		return "fastest"
	}
}

// ---- Synthesize (request/response) ----

// Synthesize converts a complete text into raw PCM audio via the bytes
// endpoint. Used for short scripted reviewer lines.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("cartesia: %w", tts.ErrEmptyText)
	}
	if voice.ID == "" {
		return nil, fmt.Errorf("cartesia: %w", tts.ErrVoiceRequired)
	}

	payload, err := json.Marshal(p.buildRequest(text, voice, "", nil))
	if err != nil {
		return nil, fmt.Errorf("cartesia: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.bytesURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("cartesia: create request: %w", err)
	}
	p.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fault.Transient("cartesia", "tts.synthesize", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fault.FromStatus("cartesia", "tts.synthesize", resp.StatusCode,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cartesia: read audio: %w", err)
	}
	return pcm, nil
}

// ---- SynthesizeStream ----

// SynthesizeStream opens a WebSocket to Cartesia, pipes text fragments from
// the text channel as one continued context, and returns a channel emitting
// raw PCM audio chunks.
//
// The returned audio channel is closed when synthesis is complete or ctx is
// cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, fmt.Errorf("cartesia: %w", tts.ErrVoiceRequired)
	}

	headers := http.Header{}
	headers.Set("X-API-Key", p.apiKey)
	headers.Set("Cartesia-Version", apiVersion)

	conn, resp, err := websocket.Dial(ctx, p.wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		if resp != nil {
			return nil, fault.FromStatus("cartesia", "tts.stream", resp.StatusCode, fmt.Errorf("dial: %w", err))
		}
		return nil, fault.Transient("cartesia", "tts.stream", fmt.Errorf("dial: %w", err))
	}

	contextID := uuid.NewString()
	audioCh := make(chan []byte, 256)

	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		// Reader goroutine: decode chunk messages until the context is done.
		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			for {
				_, msg, err := conn.Read(ctx)
				if err != nil {
					return
				}
				var r wsResponse
				if err := json.Unmarshal(msg, &r); err != nil {
					continue
				}
				switch r.Type {
				case "chunk":
					pcm, err := base64.StdEncoding.DecodeString(r.Data)
					if err != nil || len(pcm) == 0 {
						continue
					}
					select {
					case audioCh <- pcm:
					case <-ctx.Done():
						return
					}
				case "done":
					return
				case "error":
					return
				}
			}
		}()

		// Writer: forward each fragment as a continued context, then close the
		// context with an empty non-continuing transcript.
		cont := true
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					fin := false
					payload, _ := json.Marshal(p.buildRequest("", voice, contextID, &fin))
					_ = conn.Write(ctx, websocket.MessageText, payload)
					// Wait for the reader to drain remaining audio.
					select {
					case <-readDone:
					case <-ctx.Done():
					}
					return
				}
				if fragment == "" {
					continue
				}
				payload, err := json.Marshal(p.buildRequest(fragment, voice, contextID, &cont))
				if err != nil {
					return
				}
				if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

// ---- ListVoices ----

// cartesiaVoice is a single voice entry from GET /voices.
type cartesiaVoice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Language    string `json:"language"`
}

// ListVoices returns all voices available from Cartesia for the configured
// API key.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.voicesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cartesia: list voices: %w", err)
	}
	p.setHeaders(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fault.Transient("cartesia", "tts.voices", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fault.FromStatus("cartesia", "tts.voices", resp.StatusCode,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cartesia: list voices read: %w", err)
	}
	return parseVoicesResponse(data)
}

// parseVoicesResponse parses the JSON array returned by GET /voices into
// VoiceProfile values.
func parseVoicesResponse(data []byte) ([]types.VoiceProfile, error) {
	var voices []cartesiaVoice
	if err := json.Unmarshal(data, &voices); err != nil {
		return nil, fmt.Errorf("cartesia: list voices decode: %w", err)
	}
	profiles := make([]types.VoiceProfile, 0, len(voices))
	for _, v := range voices {
		meta := map[string]string{}
		if v.Name != "" {
			meta["name"] = v.Name
		}
		if v.Description != "" {
			meta["description"] = v.Description
		}
		profiles = append(profiles, types.VoiceProfile{
			ID:       v.ID,
			Provider: "cartesia",
			Language: v.Language,
			Metadata: meta,
		})
	}
	return profiles, nil
}

// setHeaders applies the auth and version headers common to all HTTP calls.
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("X-API-Key", p.apiKey)
	req.Header.Set("Cartesia-Version", apiVersion)
}
