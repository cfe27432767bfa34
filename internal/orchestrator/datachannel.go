package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/vivadeck/vivadeck/internal/review"
	"github.com/vivadeck/vivadeck/pkg/room"
)

// Data-channel message types. Ingress types outside this set are logged at
// debug and discarded; the channel is shared with client-side chatter we
// have no business decoding.
const (
	msgPPTUploaded  = "ppt_uploaded"
	msgFileUpload   = "file_upload" // legacy client alias for ppt_uploaded
	msgReviewReport = "review_report"
)

// envelope is the wire shape of every data-channel message: a type tag and
// an opaque payload.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// uploadNotice is the payload of ppt_uploaded / file_upload messages.
type uploadNotice struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
}

// reportPayload is the outbound shape of the final report message.
type reportPayload struct {
	SessionID  string                    `json:"sessionId"`
	Phase      review.Phase              `json:"phase"`
	Report     *review.Report            `json:"report,omitempty"`
	Detection  *review.AIDetectionReport `json:"aiDetection,omitempty"`
	Answers    []review.AnswerRecord     `json:"answers,omitempty"`
	FinishedAt time.Time                 `json:"finishedAt"`
}

// consumeData drains the connection's data channel until the transport
// closes it, forwarding upload notifications to the workflow. It never
// blocks on the workflow: a full uploads channel drops the notification
// with a warning, and the upload nudge loop will prompt the candidate to
// resend.
func (o *Orchestrator) consumeData(conn room.Conn) {
	for msg := range conn.DataMessages() {
		var env envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			slog.Warn("undecodable data message", "from", msg.From, "error", err)
			continue
		}
		switch env.Type {
		case msgPPTUploaded, msgFileUpload:
			var n uploadNotice
			if err := json.Unmarshal(env.Data, &n); err != nil {
				slog.Warn("malformed upload notification", "from", msg.From, "error", err)
				continue
			}
			if n.FileURL == "" {
				slog.Warn("upload notification without fileUrl", "from", msg.From)
				continue
			}
			ref := review.ArtifactRef{URL: n.FileURL, Name: n.FileName}
			select {
			case o.uploads <- ref:
				slog.Info("artifact upload notified", "url", n.FileURL, "name", n.FileName)
			default:
				slog.Warn("upload notification dropped, channel full", "url", n.FileURL)
			}
		default:
			slog.Debug("ignoring data message", "type", env.Type, "from", msg.From)
		}
	}
}

// publishReport sends the final report to the client over the data channel.
// Best effort: by the time the report exists the candidate may already have
// left the room, so failure is logged, not returned.
func (o *Orchestrator) publishReport(state review.State) {
	if state.Report == nil {
		return
	}
	conn := o.recon.Connection()
	if conn == nil {
		slog.Warn("report ready but room is gone, skipping publish",
			"session_id", state.SessionID)
		return
	}

	payload, err := json.Marshal(envelopeOf(state))
	if err != nil {
		slog.Error("marshal report payload", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PublishData(ctx, payload); err != nil {
		slog.Warn("publish report on data channel", "session_id", state.SessionID, "error", err)
		return
	}
	slog.Info("review report published", "session_id", state.SessionID,
		"recommendation", state.Report.Recommendation)
}

func envelopeOf(state review.State) any {
	return struct {
		Type string        `json:"type"`
		Data reportPayload `json:"data"`
	}{
		Type: msgReviewReport,
		Data: reportPayload{
			SessionID:  state.SessionID,
			Phase:      state.Phase,
			Report:     state.Report,
			Detection:  state.Detection,
			Answers:    state.Answers,
			FinishedAt: time.Now(),
		},
	}
}
