package chat

import "github.com/zhouzirui/timemachine/backend/internal/analysis/emotion"

// Phase is the position of a session in the send lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseAwaiting  Phase = "awaiting"
	PhaseStreaming Phase = "streaming"
)

// State is a point-in-time copy of a chat session.
type State struct {
	SessionID string        `json:"sessionId"`
	PersonaID string        `json:"personaId"`
	Messages  []Message     `json:"messages"`
	Emotion   emotion.Label `json:"emotion"`
	// StreamingID is the id of the assistant message being filled, 0 when none.
	StreamingID int64  `json:"streamingId"`
	Error       string `json:"error,omitempty"`
	Loading     bool   `json:"loading"`
	ShowAbout   bool   `json:"showAbout"`
	Phase       Phase  `json:"phase"`
}
