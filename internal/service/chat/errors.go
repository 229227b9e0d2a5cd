package chat

import (
	"errors"
	"fmt"
)

var (
	ErrPersonaRequired = errors.New("persona id is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrUnknownPersona  = errors.New("unknown persona")
	ErrEmptyMessage    = errors.New("message text or image is required")
	ErrOffline         = errors.New(offlineMessage)
	ErrSendInFlight    = errors.New("a reply is already being generated for this session")
	// ErrSuperseded is returned by Send when the persona changed while the reply
	// was being generated. The reply is dropped.
	ErrSuperseded = errors.New("persona changed while the reply was generated")
)

// Texts shown in the session error banner.
const (
	offlineMessage = "TimeMachine is currently offline. Please try again later."
	failureMessage = "Failed to generate response. Please try again."
	configApology  = "Looks like we are missing something in the future. Please contact to TimeMachine Geniuses"
)

// QuotaError reports that the client used up a persona's daily messages.
type QuotaError struct {
	PersonaID   string
	PersonaName string
	Remaining   int
	// Switching is set when the quota blocked a persona switch rather than a send.
	Switching bool
}

func (e *QuotaError) Error() string {
	if e.Switching {
		return fmt.Sprintf("You've reached the daily limit for %s. Try again tomorrow or choose a different persona.", e.PersonaName)
	}
	return fmt.Sprintf("You've reached the daily limit for %s. Remaining messages: %d. Try again tomorrow or switch to a different persona.", e.PersonaName, e.Remaining)
}
