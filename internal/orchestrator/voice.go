package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vivadeck/vivadeck/internal/pipeline"
	"github.com/vivadeck/vivadeck/internal/session"
)

// ErrNoRoom is returned by the voice surface while no pipeline is bound,
// i.e. between a room drop and a successful rejoin.
var ErrNoRoom = errors.New("orchestrator: no room connection")

// roomVoice adapts the dialogue pipeline to the workflow's [session.Voice]
// contract. The pipeline behind it is swapped on reconnect; the finals
// channel lives here so buffered utterances survive the swap.
//
// Interruptions are not failures at this level: a candidate talking over
// the reviewer means the session is very much alive, so Say and Respond
// swallow [pipeline.ErrInterrupted] and let the workflow carry on.
type roomVoice struct {
	current func() *pipeline.Pipeline

	finals chan session.Utterance
}

func newRoomVoice(current func() *pipeline.Pipeline) *roomVoice {
	return &roomVoice{
		current: current,
		finals:  make(chan session.Utterance, utteranceBuffer),
	}
}

// utteranceBuffer bounds how many unconsumed candidate utterances are held
// for the workflow. Overflow drops the oldest; the newest utterance is the
// one the evaluator wants.
const utteranceBuffer = 8

func (v *roomVoice) Say(ctx context.Context, text string) error {
	p := v.current()
	if p == nil {
		return ErrNoRoom
	}
	err := p.Say(ctx, text)
	if errors.Is(err, pipeline.ErrInterrupted) {
		return nil
	}
	return err
}

func (v *roomVoice) Respond(ctx context.Context, instruction string) (string, error) {
	p := v.current()
	if p == nil {
		return "", ErrNoRoom
	}
	text, err := p.Respond(ctx, instruction)
	if errors.Is(err, pipeline.ErrInterrupted) {
		// Partial speech already went out; the transcript records what
		// was actually said.
		return text, nil
	}
	return text, err
}

func (v *roomVoice) NextUtterance(ctx context.Context) (session.Utterance, error) {
	select {
	case u := <-v.finals:
		return u, nil
	case <-ctx.Done():
		return session.Utterance{}, ctx.Err()
	}
}

// deliver hands a final candidate utterance to the workflow, evicting the
// oldest buffered one when the workflow has fallen behind.
func (v *roomVoice) deliver(u session.Utterance) {
	for {
		select {
		case v.finals <- u:
			return
		default:
		}
		select {
		case old := <-v.finals:
			slog.Debug("evicting stale utterance", "text", old.Text)
		default:
		}
	}
}
