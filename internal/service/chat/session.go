package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/timemachine/backend/internal/analysis/emotion"
	"github.com/zhouzirui/timemachine/backend/internal/analysis/reply"
	model "github.com/zhouzirui/timemachine/backend/internal/model/chat"
	"github.com/zhouzirui/timemachine/backend/internal/service/ai"
)

// SendRequest is one user turn.
type SendRequest struct {
	// Client is the caller's fingerprint.
	Client  string
	Content string
	// ImageData is an optional data URI.
	ImageData string
}

// Session is the state machine of one conversation. A send does not hold the
// lock while the model streams, so snapshots and persona switches stay responsive.
type Session struct {
	id  string
	svc *Service

	mu          sync.Mutex
	personaID   string
	messages    []model.Message
	emotion     emotion.Label
	streamingID int64
	errMsg      string
	showAbout   bool
	phase       model.Phase
	busy        bool
	cancel      context.CancelFunc
	// generation changes on every persona switch; a send whose generation is
	// stale no longer owns the message sequence.
	generation uint64
	lastActive time.Time
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.State{
		SessionID:   s.id,
		PersonaID:   s.personaID,
		Messages:    append([]model.Message(nil), s.messages...),
		Emotion:     s.emotion,
		StreamingID: s.streamingID,
		Error:       s.errMsg,
		Loading:     s.busy,
		ShowAbout:   s.showAbout,
		Phase:       s.phase,
	}
}

// Send appends the user message, streams the persona's reply into an assistant
// placeholder and settles it. Every outcome, including refusals, is reported to
// obs as a final EventDone or EventError.
func (s *Session) Send(ctx context.Context, req SendRequest, obs Observer) (model.Message, error) {
	msg, err := s.send(ctx, req, obs)
	if err != nil {
		ev := Event{Type: EventError, Error: bannerText(err), Err: err}
		s.mu.Lock()
		ev.PersonaID = s.personaID
		s.mu.Unlock()
		obs.emit(ev)
	}
	return msg, err
}

func (s *Session) send(ctx context.Context, req SendRequest, obs Observer) (model.Message, error) {
	log := s.svc.logger.With(zap.String("session", s.id))

	if !s.svc.online {
		s.setError(offlineMessage)
		return model.Message{}, ErrOffline
	}
	content := strings.TrimSpace(req.Content)
	if content == "" && req.ImageData == "" {
		return model.Message{}, ErrEmptyMessage
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return model.Message{}, ErrSendInFlight
	}
	s.busy = true
	s.cancel = cancel
	s.phase = model.PhaseAwaiting
	s.lastActive = s.svc.now()
	personaID := s.personaID
	gen := s.generation
	s.mu.Unlock()
	defer s.release()

	p, ok := s.svc.personas.FindByID(personaID)
	if !ok {
		return model.Message{}, ErrUnknownPersona
	}

	slot, err := s.svc.ledger.Reserve(ctx, req.Client, p.ID)
	if err != nil {
		log.Error("reserve usage", zap.String("persona", p.ID), zap.Error(err))
		s.setError(failureMessage)
		return model.Message{}, fmt.Errorf("reserve usage: %w", err)
	}
	if slot == nil {
		remaining, err := s.svc.ledger.Remaining(ctx, req.Client, p.ID)
		if err != nil {
			log.Warn("read remaining usage", zap.Error(err))
		}
		qe := &QuotaError{PersonaID: p.ID, PersonaName: p.Name, Remaining: remaining}
		s.setError(qe.Error())
		return model.Message{}, qe
	}
	defer slot.Release()

	user := model.Message{ID: model.NextID(), Content: content}
	placeholder := model.Message{ID: model.NextID(), IsAI: true}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return model.Message{}, ErrSuperseded
	}
	s.messages = append(s.messages, user)
	history := append([]model.Message(nil), s.messages...)
	s.messages = append(s.messages, placeholder)
	s.streamingID = placeholder.ID
	s.errMsg = ""
	s.mu.Unlock()

	obs.emit(Event{Type: EventStart, PersonaID: p.ID, MessageID: placeholder.ID})

	stream, err := s.svc.responder.StreamReply(ctx, ai.Request{Persona: p, History: history, ImageData: req.ImageData})
	if err != nil {
		return model.Message{}, s.fail(gen, placeholder.ID, err, log)
	}
	defer stream.Close()

	s.mu.Lock()
	if gen == s.generation {
		s.phase = model.PhaseStreaming
	}
	s.mu.Unlock()

	parser := reply.NewParser(p.RevealsReasoning)
	var lastReasoning string
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return model.Message{}, s.fail(gen, placeholder.ID, err, log)
		}

		var u reply.Update
		if chunk.ReasoningContent != "" {
			u = parser.FeedReasoning(chunk.ReasoningContent)
		}
		if chunk.Content != "" || chunk.ReasoningContent == "" {
			u = parser.Feed(chunk.Content)
		}
		if u.Delta == "" && u.Reasoning == lastReasoning {
			continue
		}
		lastReasoning = u.Reasoning

		if !s.fill(gen, placeholder.ID, u.Visible, u.Reasoning) {
			continue
		}
		obs.emit(Event{Type: EventDelta, PersonaID: p.ID, MessageID: placeholder.ID, Delta: u.Delta, Reasoning: u.Reasoning})
	}

	res := parser.Result()
	if res.Empty() {
		return model.Message{}, s.fail(gen, placeholder.ID, ai.ErrEmptyResponse, log)
	}

	final := model.Message{ID: placeholder.ID, Content: res.Content, IsAI: true, Reasoning: res.Reasoning}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		log.Info("dropping reply after persona switch", zap.String("persona", p.ID))
		return model.Message{}, ErrSuperseded
	}
	s.replace(final)
	if res.HasEmotion {
		s.emotion = res.Emotion
	}
	current := s.emotion
	s.streamingID = 0
	s.mu.Unlock()

	// The reply is already shown; a client hanging up now must not lose the count.
	settle := context.WithoutCancel(ctx)
	if err := slot.Commit(settle); err != nil {
		log.Error("commit usage", zap.String("persona", p.ID), zap.Error(err))
	}
	about := s.svc.aboutDue(settle, req.Client, p.ID)
	s.mu.Lock()
	if gen == s.generation {
		s.showAbout = about
	}
	s.mu.Unlock()

	log.Debug("reply settled",
		zap.String("persona", p.ID),
		zap.Int("content_len", len(final.Content)),
		zap.Bool("emotion", res.HasEmotion),
	)
	obs.emit(Event{
		Type:           EventDone,
		PersonaID:      p.ID,
		MessageID:      final.ID,
		Reasoning:      final.Reasoning,
		Message:        &final,
		Emotion:        current,
		EmotionChanged: res.HasEmotion,
	})
	return final, nil
}

// SwitchPersona replaces the conversation with the greeting of another persona.
// It is refused with a *QuotaError when the client has nothing left for it today.
// A send in flight is cancelled and its reply dropped.
func (s *Session) SwitchPersona(ctx context.Context, client, personaID string) error {
	p, ok := s.svc.personas.FindByID(personaID)
	if !ok {
		return ErrUnknownPersona
	}

	remaining, err := s.svc.ledger.Remaining(ctx, client, p.ID)
	if err != nil {
		return fmt.Errorf("read remaining usage: %w", err)
	}
	if remaining == 0 {
		qe := &QuotaError{PersonaID: p.ID, PersonaName: p.Name, Switching: true}
		s.setError(qe.Error())
		return qe
	}
	about := s.svc.aboutDue(ctx, client, p.ID)

	s.mu.Lock()
	s.personaID = p.ID
	s.messages = []model.Message{greeting(p)}
	s.streamingID = 0
	s.errMsg = ""
	s.showAbout = about
	s.generation++
	s.lastActive = s.svc.now()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.svc.logger.Debug("persona switched", zap.String("session", s.id), zap.String("persona", p.ID))
	return nil
}

// MarkAnimated records that the front end finished animating a message. It
// reports whether the message exists.
func (s *Session) MarkAnimated(messageID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].HasAnimated = true
			return true
		}
	}
	return false
}

// DismissAbout hides the about prompt until the next reply or persona switch.
func (s *Session) DismissAbout() {
	s.mu.Lock()
	s.showAbout = false
	s.mu.Unlock()
}

// fail removes the placeholder and sets the error banner.
func (s *Session) fail(gen uint64, placeholderID int64, cause error, log *zap.Logger) error {
	log.Warn("reply failed", zap.Error(cause))

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return ErrSuperseded
	}
	s.remove(placeholderID)
	s.streamingID = 0
	s.errMsg = bannerText(cause)
	return fmt.Errorf("generate reply: %w", cause)
}

// fill updates the placeholder in place. It reports false when the placeholder no
// longer belongs to this send.
func (s *Session) fill(gen uint64, id int64, content, reasoning string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Content = content
			s.messages[i].Reasoning = reasoning
			return true
		}
	}
	return false
}

func (s *Session) replace(msg model.Message) {
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			return
		}
	}
}

func (s *Session) remove(id int64) {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.cancel = nil
	s.phase = model.PhaseIdle
	s.lastActive = s.svc.now()
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	s.errMsg = msg
	s.mu.Unlock()
}

func (s *Session) cancelSend() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.busy && s.lastActive.Before(cutoff)
}

// bannerText maps a send error to the text the user sees.
func bannerText(err error) string {
	var qe *QuotaError
	switch {
	case errors.As(err, &qe):
		return qe.Error()
	case errors.Is(err, ErrOffline):
		return offlineMessage
	case errors.Is(err, ai.ErrNotConfigured):
		return configApology
	case errors.Is(err, ErrSendInFlight), errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrSuperseded), errors.Is(err, ErrUnknownPersona):
		return err.Error()
	default:
		return failureMessage
	}
}
