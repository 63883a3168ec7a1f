// Package llmtest provides scripted llm.Client fakes for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/playintel/market-analyst/internal/llm"
)

// ErrScriptExhausted is returned when a fake runs out of scripted replies.
var ErrScriptExhausted = errors.New("llmtest: no scripted reply left")

// Reply is one scripted completion outcome.
type Reply struct {
	Content string
	Err     error
}

// Handler produces a reply for a request.
type Handler func(req *llm.CompletionRequest) Reply

// Fake is a concurrency-safe scripted client. Replies are served per stage
// in order; a Handler, when set, takes precedence.
type Fake struct {
	mu       sync.Mutex
	scripts  map[llm.Stage][]Reply
	handler  Handler
	requests []*llm.CompletionRequest
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{scripts: make(map[llm.Stage][]Reply)}
}

// NewFunc returns a fake answering every request through h.
func NewFunc(h Handler) *Fake {
	f := New()
	f.handler = h
	return f
}

// Script queues replies for a stage.
func (f *Fake) Script(stage llm.Stage, replies ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range replies {
		f.scripts[stage] = append(f.scripts[stage], Reply{Content: r})
	}
	return f
}

// Fail queues an error for a stage.
func (f *Fake) Fail(stage llm.Stage, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[stage] = append(f.scripts[stage], Reply{Err: err})
	return f
}

// Name returns the provider name.
func (f *Fake) Name() string {
	return "fake"
}

// Complete serves the next scripted reply for the request's stage.
func (f *Fake) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var reply Reply
	switch {
	case f.handler != nil:
		f.mu.Unlock()
		reply = f.handler(req)
	case len(f.scripts[req.Stage]) > 0:
		reply = f.scripts[req.Stage][0]
		f.scripts[req.Stage] = f.scripts[req.Stage][1:]
		f.mu.Unlock()
	default:
		f.mu.Unlock()
		reply = Reply{Err: ErrScriptExhausted}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &llm.CompletionResponse{Content: reply.Content, Model: req.Model}, nil
}

// Requests returns every request received so far.
func (f *Fake) Requests() []*llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*llm.CompletionRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// Calls returns the number of requests received for a stage.
func (f *Fake) Calls(stage llm.Stage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Stage == stage {
			n++
		}
	}
	return n
}

// Total returns the number of requests received.
func (f *Fake) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
