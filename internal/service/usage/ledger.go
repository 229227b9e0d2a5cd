// Package usage counts messages per client fingerprint and persona and enforces the
// persona's daily cap.
package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zhouzirui/timemachine/backend/internal/model/persona"
)

// ErrUnknownPersona is returned for a persona id the registry does not know.
var ErrUnknownPersona = errors.New("unknown persona")

// Status summarises one client's standing with a persona.
type Status struct {
	PersonaID string `json:"personaId"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Total     int    `json:"total"`
}

// Ledger enforces daily message caps on top of a Store. Sends in flight hold a
// Reservation, so concurrent sends from one client never exceed the cap. The
// reservations live in this process only.
type Ledger struct {
	store    Store
	personas persona.Store
	loc      *time.Location
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]int
}

// Reservation holds one of today's messages for a send that has not settled yet.
type Reservation struct {
	ledger    *Ledger
	client    string
	personaID string
	key       string
	done      bool
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithLocation sets the time zone whose midnight starts a new day. Defaults to
// time.Local.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger builds a ledger reading caps from personas.
func NewLedger(store Store, personas persona.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		personas: personas,
		loc:      time.Local,
		now:      time.Now,
		pending:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the daily cap of a persona.
func (l *Ledger) Limit(personaID string) (int, error) {
	p, ok := l.personas.FindByID(personaID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPersona, personaID)
	}
	return p.DailyLimit, nil
}

// CheckLimit reports whether the client may send one more message today.
func (l *Ledger) CheckLimit(ctx context.Context, client, personaID string) (bool, error) {
	remaining, err := l.Remaining(ctx, client, personaID)
	if err != nil {
		return false, err
	}
	return remaining > 0, nil
}

// Remaining returns how many messages are left today, never negative. Messages
// reserved by sends in flight are not available.
func (l *Ledger) Remaining(ctx context.Context, client, personaID string) (int, error) {
	limit, err := l.Limit(personaID)
	if err != nil {
		return 0, err
	}
	day, _ := l.day()
	key := dayKey(client, personaID, day)

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining(ctx, limit, key)
}

// Reserve claims one of today's messages for a send. It returns a nil
// Reservation and no error when nothing is left. The caller must Commit or
// Release the reservation.
func (l *Ledger) Reserve(ctx context.Context, client, personaID string) (*Reservation, error) {
	limit, err := l.Limit(personaID)
	if err != nil {
		return nil, err
	}
	day, _ := l.day()
	key := dayKey(client, personaID, day)

	l.mu.Lock()
	defer l.mu.Unlock()
	left, err := l.remaining(ctx, limit, key)
	if err != nil {
		return nil, err
	}
	if left == 0 {
		return nil, nil
	}
	l.pending[key]++
	return &Reservation{ledger: l, client: client, personaID: personaID, key: key}, nil
}

// Commit records the reserved message as completed. Calling it again, or after
// Release, does nothing.
func (r *Reservation) Commit(ctx context.Context) error {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.done {
		return nil
	}
	r.done = true
	l.unreserve(r.key)
	return l.increment(ctx, r.client, r.personaID)
}

// Release gives the reserved message back. It does nothing after Commit.
func (r *Reservation) Release() {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	l.unreserve(r.key)
}

// Increment records one completed message without a reservation.
func (l *Ledger) Increment(ctx context.Context, client, personaID string) error {
	if _, err := l.Limit(personaID); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.increment(ctx, client, personaID)
}

// remaining must be called with l.mu held.
func (l *Ledger) remaining(ctx context.Context, limit int, key string) (int, error) {
	used, err := l.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read daily usage: %w", err)
	}
	return max(0, limit-used-l.pending[key]), nil
}

func (l *Ledger) unreserve(key string) {
	if l.pending[key] <= 1 {
		delete(l.pending, key)
		return
	}
	l.pending[key]--
}

// increment must be called with l.mu held.
func (l *Ledger) increment(ctx context.Context, client, personaID string) error {
	day, next := l.day()
	if _, err := l.store.Incr(ctx, dayKey(client, personaID, day), next); err != nil {
		return fmt.Errorf("increment daily usage: %w", err)
	}
	if _, err := l.store.Incr(ctx, totalKey(client, personaID), time.Time{}); err != nil {
		return fmt.Errorf("increment total usage: %w", err)
	}
	return nil
}

// TotalCount returns how many messages the client has ever completed with the persona.
func (l *Ledger) TotalCount(ctx context.Context, client, personaID string) (int, error) {
	if _, err := l.Limit(personaID); err != nil {
		return 0, err
	}
	n, err := l.store.Get(ctx, totalKey(client, personaID))
	if err != nil {
		return 0, fmt.Errorf("read total usage: %w", err)
	}
	return n, nil
}

// Status collects limit, remaining and total in one call.
func (l *Ledger) Status(ctx context.Context, client, personaID string) (Status, error) {
	limit, err := l.Limit(personaID)
	if err != nil {
		return Status{}, err
	}
	remaining, err := l.Remaining(ctx, client, personaID)
	if err != nil {
		return Status{}, err
	}
	total, err := l.TotalCount(ctx, client, personaID)
	if err != nil {
		return Status{}, err
	}
	return Status{PersonaID: personaID, Limit: limit, Remaining: remaining, Total: total}, nil
}

// day returns the current calendar date in the ledger's zone and the instant the
// next one starts.
func (l *Ledger) day() (string, time.Time) {
	now := l.now().In(l.loc)
	y, m, d := now.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, l.loc)
	return now.Format(time.DateOnly), next
}

func dayKey(client, personaID, day string) string {
	return "usage:" + client + ":" + personaID + ":" + day
}

func totalKey(client, personaID string) string {
	return "usage:" + client + ":" + personaID + ":total"
}
