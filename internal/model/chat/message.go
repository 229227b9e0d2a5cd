package chat

import (
	"sync"
	"time"
)

// Message is one bubble in the conversation.
type Message struct {
	ID          int64  `json:"id"`
	Content     string `json:"content"`
	IsAI        bool   `json:"isAI"`
	Reasoning   string `json:"reasoning,omitempty"`
	HasAnimated bool   `json:"hasAnimated"`
}

var (
	idMu   sync.Mutex
	lastID int64
)

// NextID returns a time-derived message identifier. Identifiers are strictly
// increasing within the process even when the clock stalls or steps back.
func NextID() int64 {
	idMu.Lock()
	defer idMu.Unlock()
	id := time.Now().UnixMilli()
	if id <= lastID {
		id = lastID + 1
	}
	lastID = id
	return id
}
