package chat

import (
	"github.com/zhouzirui/timemachine/backend/internal/analysis/emotion"
	model "github.com/zhouzirui/timemachine/backend/internal/model/chat"
)

// EventType names a step of a send.
type EventType string

const (
	EventStart EventType = "start"
	EventDelta EventType = "delta"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is delivered to an Observer while a send progresses. Every send emits
// exactly one EventDone or EventError as its last event.
type Event struct {
	Type      EventType
	PersonaID string
	MessageID int64
	// Delta is the visible text added by one fragment.
	Delta string
	// Reasoning is the reasoning transcript so far.
	Reasoning string
	// Message is the settled assistant message on EventDone.
	Message *model.Message
	Emotion emotion.Label
	// EmotionChanged is set on EventDone when the reply carried a valid emotion tag.
	EmotionChanged bool
	Error          string
	Err            error
}

// Observer receives send events on the sending goroutine. It must not call back
// into the session's Send.
type Observer func(Event)

func (o Observer) emit(ev Event) {
	if o != nil {
		o(ev)
	}
}
