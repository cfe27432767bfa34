package wsroom

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vivadeck/vivadeck/pkg/audio"
	"github.com/vivadeck/vivadeck/pkg/room"
)

// Compile-time interface assertion.
var _ room.Conn = (*conn)(nil)

// ErrConnClosed is returned by PublishData after the connection has been
// disconnected.
var ErrConnClosed = errors.New("wsroom: connection closed")

const (
	inputChannelBuffer  = 64
	outputChannelBuffer = 64
	dataChannelBuffer   = 16
)

// Envelope types exchanged with the gateway.
const (
	typeJoined            = "joined"
	typeAudio             = "audio"
	typeData              = "data"
	typeParticipantJoined = "participant_joined"
	typeParticipantLeft   = "participant_left"
	typeLeave             = "leave"
	typeError             = "error"
)

// envelope is the JSON frame format used on the gateway WebSocket.
// Fields are populated depending on Type; unused fields are omitted.
type envelope struct {
	Type          string            `json:"type"`
	ParticipantID string            `json:"participantId,omitempty"`
	Name          string            `json:"name,omitempty"`
	Opus          string            `json:"opus,omitempty"`    // base64-encoded Opus packet
	Payload       string            `json:"payload,omitempty"` // base64-encoded data payload
	TimestampMs   int64             `json:"timestampMs,omitempty"`
	Metadata      string            `json:"metadata,omitempty"`
	Participants  []participantInfo `json:"participants,omitempty"`
	Message       string            `json:"message,omitempty"`
}

// participantInfo describes a participant already present at join time.
type participantInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// conn adapts a gateway WebSocket to the [room.Conn] interface. It demuxes
// incoming audio envelopes by participant into per-participant PCM input
// streams, and encodes outgoing PCM frames to Opus for transmission.
//
// conn is safe for concurrent use.
type conn struct {
	ws *websocket.Conn

	selfID   string
	metadata string

	inputsMu sync.RWMutex
	inputs   map[string]chan audio.AudioFrame // keyed by participant id

	output chan audio.AudioFrame
	dataCh chan room.DataMessage

	changeMu sync.Mutex
	changeCb func(room.Event)

	ctx       context.Context
	cancel    context.CancelFunc
	doneCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// newConn initialises a conn from a completed join handshake and starts the
// background receive and send loops.
func newConn(ws *websocket.Conn, joined *envelope) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		ws:       ws,
		selfID:   joined.ParticipantID,
		metadata: joined.Metadata,
		inputs:   make(map[string]chan audio.AudioFrame),
		output:   make(chan audio.AudioFrame, outputChannelBuffer),
		dataCh:   make(chan room.DataMessage, dataChannelBuffer),
		ctx:      ctx,
		cancel:   cancel,
		doneCh:   make(chan struct{}),
	}

	// Participants already in the room get their input channels up front so
	// the first InputStreams call sees them without waiting for audio.
	for _, p := range joined.Participants {
		if p.ID == c.selfID {
			continue
		}
		c.inputs[p.ID] = make(chan audio.AudioFrame, inputChannelBuffer)
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.sendLoop()

	return c
}

// InputStreams returns a snapshot of the current per-participant audio channels.
// The map key is the participant id; the value is the read-only input channel.
func (c *conn) InputStreams() map[string]<-chan audio.AudioFrame {
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	snapshot := make(map[string]<-chan audio.AudioFrame, len(c.inputs))
	for id, ch := range c.inputs {
		snapshot[id] = ch
	}
	return snapshot
}

// OutputStream returns the channel outgoing PCM frames are written to.
func (c *conn) OutputStream() chan<- audio.AudioFrame {
	return c.output
}

// DataMessages returns the stream of data-channel messages from participants.
func (c *conn) DataMessages() <-chan room.DataMessage {
	return c.dataCh
}

// PublishData sends payload on the room's data channel.
func (c *conn) PublishData(ctx context.Context, payload []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnClosed
	default:
	}
	return c.writeEnvelope(ctx, envelope{
		Type:    typeData,
		Payload: base64.StdEncoding.EncodeToString(payload),
	})
}

// OnParticipantChange registers cb as the callback for participant join/leave
// events. Only one callback may be registered; subsequent calls replace the
// previous one.
func (c *conn) OnParticipantChange(cb func(room.Event)) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()
	c.changeCb = cb
}

// Metadata returns the room metadata string received at join time.
func (c *conn) Metadata() string {
	return c.metadata
}

// Done returns a channel closed when the connection has terminated.
func (c *conn) Done() <-chan struct{} {
	return c.doneCh
}

// Disconnect cleanly tears down the connection and stops all background
// goroutines. It is safe to call more than once; subsequent calls return nil.
func (c *conn) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		// Best-effort leave notification before tearing the socket down.
		leaveCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = c.writeEnvelope(leaveCtx, envelope{Type: typeLeave})
		cancel()

		c.cancel()
		err = c.ws.Close(websocket.StatusNormalClosure, "left room")
		c.wg.Wait()
	})
	return err
}

// writeEnvelope marshals env and writes it as a text WebSocket message.
func (c *conn) writeEnvelope(ctx context.Context, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("wsroom: marshal envelope: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("wsroom: write envelope: %w", err)
	}
	return nil
}

// readLoop reads envelopes from the gateway and dispatches them. It owns the
// input channels and dataCh: it closes them all when it exits, so downstream
// consumers see EOF when the connection terminates for any reason. The done
// channel closes last, after all other channels are already closed.
func (c *conn) readLoop() {
	defer c.wg.Done()
	defer close(c.doneCh)
	defer c.closeChannels()

	// Each participant gets its own decoder to maintain state across frames.
	decoders := make(map[string]*opusDecoder)

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				slog.Warn("wsroom: read error", "error", err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("wsroom: malformed envelope", "error", err)
			continue
		}

		switch env.Type {
		case typeAudio:
			c.handleAudio(decoders, &env)
		case typeData:
			c.handleData(&env)
		case typeParticipantJoined:
			c.handleParticipantJoined(&env)
		case typeParticipantLeft:
			c.handleParticipantLeft(decoders, &env)
		case typeError:
			slog.Warn("wsroom: gateway error", "message", env.Message)
		default:
			slog.Debug("wsroom: ignoring envelope", "type", env.Type)
		}
	}
}

// handleAudio decodes an incoming Opus frame and delivers it to the sending
// participant's input channel, creating decoder and channel lazily.
func (c *conn) handleAudio(decoders map[string]*opusDecoder, env *envelope) {
	id := env.ParticipantID
	if id == "" || id == c.selfID {
		return
	}

	pkt, err := base64.StdEncoding.DecodeString(env.Opus)
	if err != nil {
		slog.Warn("wsroom: bad audio payload", "participant", id, "error", err)
		return
	}

	dec, exists := decoders[id]
	if !exists {
		dec, err = newOpusDecoder()
		if err != nil {
			slog.Error("wsroom: failed to create opus decoder", "participant", id, "error", err)
			return
		}
		decoders[id] = dec
	}

	ch, created := c.ensureInput(id)
	if created {
		// Audio from a participant the gateway never announced.
		c.emitEvent(room.Event{Type: room.EventJoin, ParticipantID: id, Name: env.Name})
	}

	pcm, err := dec.decode(pkt)
	if err != nil {
		slog.Warn("wsroom: opus decode error", "participant", id, "error", err)
		return
	}

	frame := audio.AudioFrame{
		Data:       pcm,
		SampleRate: opusSampleRate,
		Channels:   opusChannels,
		Timestamp:  time.Duration(env.TimestampMs) * time.Millisecond,
	}

	select {
	case ch <- frame:
	default:
		// Channel full — drop frame rather than block.
	}
}

// handleData decodes a data-channel envelope and delivers it to dataCh.
func (c *conn) handleData(env *envelope) {
	payload, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		slog.Warn("wsroom: bad data payload", "participant", env.ParticipantID, "error", err)
		return
	}
	msg := room.DataMessage{
		From:       env.ParticipantID,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}
	select {
	case c.dataCh <- msg:
	default:
		slog.Warn("wsroom: data channel full, dropping message", "participant", env.ParticipantID)
	}
}

// handleParticipantJoined creates the participant's input channel and emits
// a join event.
func (c *conn) handleParticipantJoined(env *envelope) {
	id := env.ParticipantID
	if id == "" || id == c.selfID {
		return
	}
	if _, created := c.ensureInput(id); created {
		c.emitEvent(room.Event{Type: room.EventJoin, ParticipantID: id, Name: env.Name})
	}
}

// handleParticipantLeft closes and removes the participant's input channel
// and emits a leave event.
func (c *conn) handleParticipantLeft(decoders map[string]*opusDecoder, env *envelope) {
	id := env.ParticipantID
	if id == "" {
		return
	}
	delete(decoders, id)

	c.inputsMu.Lock()
	ch, ok := c.inputs[id]
	if ok {
		close(ch)
		delete(c.inputs, id)
	}
	c.inputsMu.Unlock()

	if ok {
		c.emitEvent(room.Event{Type: room.EventLeave, ParticipantID: id, Name: env.Name})
	}
}

// ensureInput returns the input channel for participant id, creating it if
// needed. The second return reports whether the channel was just created.
func (c *conn) ensureInput(id string) (chan audio.AudioFrame, bool) {
	c.inputsMu.Lock()
	defer c.inputsMu.Unlock()
	ch, exists := c.inputs[id]
	if exists {
		return ch, false
	}
	ch = make(chan audio.AudioFrame, inputChannelBuffer)
	c.inputs[id] = ch
	return ch, true
}

// closeChannels closes all input channels and the data channel so downstream
// consumers see EOF.
func (c *conn) closeChannels() {
	c.inputsMu.Lock()
	for id, ch := range c.inputs {
		close(ch)
		delete(c.inputs, id)
	}
	c.inputsMu.Unlock()
	close(c.dataCh)
}

// sendLoop reads PCM AudioFrames from the output channel, converts them to
// the gateway's target format (48 kHz stereo), extracts exact Opus
// frame-sized chunks, encodes them to Opus, and sends them as audio envelopes.
func (c *conn) sendLoop() {
	defer c.wg.Done()

	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("wsroom: failed to create opus encoder", "error", err)
		return
	}

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}}

	// opusFrameBytes is the exact PCM input size for one Opus frame:
	// 960 samples/channel × 2 channels × 2 bytes/sample = 3840 bytes.
	const opusFrameBytes = opusFrameSize * opusChannels * 2

	var buf []byte

	for {
		select {
		case <-c.ctx.Done():
			return
		case frame, ok := <-c.output:
			if !ok {
				return
			}

			frame = conv.Convert(frame)
			buf = append(buf, frame.Data...)

			// Encode and send complete Opus frames.
			for len(buf) >= opusFrameBytes {
				pkt, eErr := enc.encode(buf[:opusFrameBytes])
				if eErr != nil {
					slog.Warn("wsroom: opus encode error", "error", eErr)
					buf = buf[opusFrameBytes:]
					continue
				}
				buf = buf[opusFrameBytes:]

				env := envelope{Type: typeAudio, Opus: base64.StdEncoding.EncodeToString(pkt)}
				if wErr := c.writeEnvelope(c.ctx, env); wErr != nil {
					if c.ctx.Err() == nil {
						slog.Warn("wsroom: audio send error", "error", wErr)
					}
					return
				}
			}
		}
	}
}

// emitEvent safely invokes the registered participant change callback.
func (c *conn) emitEvent(ev room.Event) {
	c.changeMu.Lock()
	cb := c.changeCb
	c.changeMu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}
