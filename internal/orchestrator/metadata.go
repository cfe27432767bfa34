package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vivadeck/vivadeck/internal/review"
)

// AgentTypeProjectReview is the metadata agent type this orchestrator serves.
// Rooms carrying any other agent type are logged and served anyway; the
// runner is responsible for routing rooms to the right agent binary.
const AgentTypeProjectReview = "project-review"

// Metadata is the session context the runner attaches to the room at
// creation time, decoded from the room's metadata JSON. All fields are
// optional; unknown fields are ignored.
type Metadata struct {
	// AgentType names the agent the runner expects in the room.
	AgentType string `json:"agentType"`

	// SessionID is the runner-assigned review session identifier.
	SessionID string `json:"sessionId"`

	// RoomName echoes the room this metadata belongs to.
	RoomName string `json:"roomName"`

	// CandidateID is the candidate's external identifier.
	CandidateID string `json:"candidateId"`

	// CandidateName is the candidate's display name.
	CandidateName string `json:"candidateName"`

	// ProjectTitle is the project under review.
	ProjectTitle string `json:"projectTitle"`

	// ProjectDescription is free-text project context.
	ProjectDescription string `json:"projectDescription"`

	// PPTURL points at a pre-uploaded deck in the upload store.
	PPTURL string `json:"pptUrl"`

	// PPTContent carries the deck text inline, skipping the fetch.
	PPTContent string `json:"pptContent"`
}

// ParseMetadata decodes the room metadata string. An empty string yields a
// zero Metadata; malformed JSON is an error, since it means the runner and
// agent disagree on the contract.
func ParseMetadata(raw string) (Metadata, error) {
	var m Metadata
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Metadata{}, fmt.Errorf("orchestrator: decode room metadata: %w", err)
	}
	return m, nil
}

// initialState builds the fresh session state a new room starts from. A
// missing session id gets a generated one so checkpoints and retrieval have
// a key to hang off.
func initialState(m Metadata, roomName string) review.State {
	id := m.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	room := m.RoomName
	if room == "" {
		room = roomName
	}
	now := time.Now()
	return review.State{
		SessionID: id,
		RoomID:    room,
		Candidate: review.Candidate{
			ID:   m.CandidateID,
			Name: m.CandidateName,
		},
		ProjectTitle:       m.ProjectTitle,
		ProjectDescription: m.ProjectDescription,
		Artifact: review.ArtifactRef{
			URL:  m.PPTURL,
			Text: m.PPTContent,
		},
		Connection:    review.ConnConnected,
		LastHeartbeat: now,
		StartedAt:     now,
	}
}
