// Package aitest provides a scripted model responder for tests.
package aitest

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/timemachine/backend/internal/service/ai"
)

// Responder replays canned fragments for every request.
type Responder struct {
	mu       sync.Mutex
	parts    []string
	err      error
	requests []ai.Request
}

// Reply returns a Responder streaming parts as separate fragments.
func Reply(parts ...string) *Responder {
	return &Responder{parts: parts}
}

// Fail returns a Responder whose every call fails with err.
func Fail(err error) *Responder {
	return &Responder{err: err}
}

// StreamReply implements the chat service's responder.
func (r *Responder) StreamReply(_ context.Context, req ai.Request) (*schema.StreamReader[*schema.Message], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.err != nil {
		return nil, r.err
	}
	msgs := make([]*schema.Message, 0, len(r.parts))
	for _, p := range r.parts {
		msgs = append(msgs, schema.AssistantMessage(p, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

// Requests returns the requests seen so far.
func (r *Responder) Requests() []ai.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ai.Request(nil), r.requests...)
}
