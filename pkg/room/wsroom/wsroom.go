// Package wsroom implements [room.Room] and [room.Conn] over a WebSocket
// media gateway.
//
// The gateway multiplexes a media room onto a single WebSocket connection
// using JSON text frames ("envelopes"). The client dials
//
//	{base}/rooms/{room}/ws?identity={identity}
//
// with a bearer token, and the gateway answers with a "joined" envelope
// carrying the agent's participant id, the room metadata string, and the
// participants already present. After the handshake both sides exchange:
//
//	{"type":"audio","participantId":"p1","opus":"<base64>"}   one 20 ms Opus frame
//	{"type":"data","participantId":"p1","payload":"<base64>"} data-channel message
//	{"type":"participant_joined","participantId":"p1","name":"Alice"}
//	{"type":"participant_left","participantId":"p1"}
//	{"type":"error","message":"..."}                          gateway-side problem
//
// Client-to-gateway audio and data envelopes omit participantId (the gateway
// stamps the sender). Incoming Opus is decoded to 48 kHz stereo PCM and
// demuxed into per-participant channels; outgoing PCM is converted, packed
// into exact 20 ms frames and encoded to Opus.
package wsroom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/vivadeck/vivadeck/pkg/room"
)

// Compile-time interface assertion.
var _ room.Room = (*Gateway)(nil)

const defaultIdentity = "vivadeck-reviewer"

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway)

// WithIdentity sets the participant identity the agent joins rooms under.
// Defaults to "vivadeck-reviewer".
func WithIdentity(identity string) Option {
	return func(g *Gateway) { g.identity = identity }
}

// Gateway connects to a WebSocket media gateway and joins rooms on it.
// It is safe for concurrent use; each Join opens an independent connection.
type Gateway struct {
	baseURL  string
	token    string
	identity string
}

// New creates a Gateway for the given base URL and bearer token.
// The base URL may use an http(s) or ws(s) scheme; http schemes are
// normalised to their WebSocket equivalents.
func New(baseURL, token string, opts ...Option) (*Gateway, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("wsroom: base URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("wsroom: parse base URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("wsroom: unsupported scheme %q", u.Scheme)
	}

	g := &Gateway{
		baseURL:  strings.TrimRight(u.String(), "/"),
		token:    token,
		identity: defaultIdentity,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Join dials the gateway, performs the join handshake for roomName, and
// returns an active [room.Conn]. The supplied ctx bounds the handshake only;
// the returned connection lives until Disconnect.
func (g *Gateway) Join(ctx context.Context, roomName string) (room.Conn, error) {
	wsURL, err := g.buildURL(roomName)
	if err != nil {
		return nil, fmt.Errorf("wsroom: build URL: %w", err)
	}

	headers := http.Header{}
	if g.token != "" {
		headers.Set("Authorization", "Bearer "+g.token)
	}

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("wsroom: dial: %w", err)
	}

	// The gateway's first frame must be the join confirmation.
	_, data, err := ws.Read(ctx)
	if err != nil {
		ws.Close(websocket.StatusProtocolError, "no join confirmation")
		return nil, fmt.Errorf("wsroom: read join confirmation: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		ws.Close(websocket.StatusProtocolError, "malformed join confirmation")
		return nil, fmt.Errorf("wsroom: parse join confirmation: %w", err)
	}
	switch env.Type {
	case typeJoined:
	case typeError:
		ws.Close(websocket.StatusNormalClosure, "join rejected")
		return nil, fmt.Errorf("wsroom: join rejected: %s", env.Message)
	default:
		ws.Close(websocket.StatusProtocolError, "unexpected envelope")
		return nil, fmt.Errorf("wsroom: unexpected envelope %q during join", env.Type)
	}

	return newConn(ws, &env), nil
}

// buildURL constructs the room endpoint URL for the given room name.
func (g *Gateway) buildURL(roomName string) (string, error) {
	if roomName == "" {
		return "", fmt.Errorf("room name is required")
	}
	u, err := url.Parse(g.baseURL + "/rooms/" + url.PathEscape(roomName) + "/ws")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("identity", g.identity)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
