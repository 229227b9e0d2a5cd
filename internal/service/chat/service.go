package chat

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/timemachine/backend/internal/analysis/emotion"
	model "github.com/zhouzirui/timemachine/backend/internal/model/chat"
	"github.com/zhouzirui/timemachine/backend/internal/model/persona"
	"github.com/zhouzirui/timemachine/backend/internal/service/ai"
	"github.com/zhouzirui/timemachine/backend/internal/service/usage"
)

// Responder streams a model reply.
type Responder interface {
	StreamReply(ctx context.Context, req ai.Request) (*schema.StreamReader[*schema.Message], error)
}

// Ledger is the quota bookkeeping a session needs.
type Ledger interface {
	// Reserve returns nil when the client has nothing left today.
	Reserve(ctx context.Context, client, personaID string) (*usage.Reservation, error)
	Remaining(ctx context.Context, client, personaID string) (int, error)
	TotalCount(ctx context.Context, client, personaID string) (int, error)
}

// Options tunes a Service.
type Options struct {
	// Online gates every send. A stopped service refuses with ErrOffline.
	Online bool
	Logger *zap.Logger
	// Now replaces time.Now for idle bookkeeping.
	Now func() time.Time
}

// Service owns the live chat sessions.
type Service struct {
	personas  persona.Store
	ledger    Ledger
	responder Responder
	online    bool
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService wires the session registry.
func NewService(personas persona.Store, ledger Ledger, responder Responder, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		personas:  personas,
		ledger:    ledger,
		responder: responder,
		online:    opts.Online,
		logger:    logger.Named("chat"),
		now:       now,
		sessions:  make(map[string]*Session),
	}
}

// Online reports whether sends are accepted.
func (s *Service) Online() bool {
	return s.online
}

// CreateSession starts a conversation seeded with the persona's greeting. client
// is the caller's fingerprint, used to decide whether the about prompt shows.
func (s *Service) CreateSession(ctx context.Context, client, personaID string) (*Session, error) {
	if personaID == "" {
		return nil, ErrPersonaRequired
	}
	p, ok := s.personas.FindByID(personaID)
	if !ok {
		return nil, ErrUnknownPersona
	}

	session := &Session{
		id:         uuid.NewString(),
		svc:        s,
		personaID:  p.ID,
		messages:   []model.Message{greeting(p)},
		emotion:    emotion.Initial,
		phase:      model.PhaseIdle,
		lastActive: s.now(),
	}
	session.showAbout = s.aboutDue(ctx, client, p.ID)

	s.mu.Lock()
	s.sessions[session.id] = session
	s.mu.Unlock()

	s.logger.Debug("session created", zap.String("session", session.id), zap.String("persona", p.ID))
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// DeleteSession drops a session and cancels its in-flight send, if any.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	session.cancelSend()
	return nil
}

// Prune removes sessions that have been idle for longer than maxIdle and returns
// how many were removed. Sessions with a send in flight are kept.
func (s *Service) Prune(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, session := range s.sessions {
		if session.idleSince(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("pruned idle sessions", zap.Int("count", removed))
	}
	return removed
}

// Len returns the number of live sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

const aboutThreshold = 3

func (s *Service) aboutDue(ctx context.Context, client, personaID string) bool {
	if client == "" {
		return false
	}
	total, err := s.ledger.TotalCount(ctx, client, personaID)
	if err != nil {
		s.logger.Warn("read total usage", zap.String("persona", personaID), zap.Error(err))
		return false
	}
	return total >= aboutThreshold
}

func greeting(p persona.Persona) model.Message {
	return model.Message{
		ID:      model.NextID(),
		Content: emotion.Clean(p.InitialMessage),
		IsAI:    true,
	}
}
