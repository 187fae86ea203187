package projectadapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syntrixbase/pegasus/internal/modelregistry"
)

// ErrWorkerTerminated is returned by every LLMProxy call still pending when
// the worker is shutting down (spec.md §4.8's "rejects all pending requests
// with a worker terminated error").
var ErrWorkerTerminated = errors.New("projectadapter: worker terminated")

// LLMProxy implements modelregistry.LLMProvider from inside a project
// worker. Generate assigns a fresh request id, posts llm_request to the
// host over the worker's stdout, and blocks until a matching llm_response
// or llm_error arrives on stdin — the proxy model of spec.md §4.8.
type LLMProxy struct {
	out *lineWriter

	mu      sync.Mutex
	pending map[string]chan proxyResult
	closed  bool
}

type proxyResult struct {
	resp *modelregistry.GenerateResponse
	err  error
}

// NewLLMProxy constructs a proxy writing llm_request messages to out.
// resolveResponse/resolveError, below, feed the matching replies back in as
// they're read off the worker's stdin.
func NewLLMProxy(out *lineWriter) *LLMProxy {
	return &LLMProxy{out: out, pending: make(map[string]chan proxyResult)}
}

// ModelID reports a synthetic id; the real model identity lives on the host
// side, which is the only side that ever resolves a concrete provider.
func (p *LLMProxy) ModelID() string { return "projectadapter/proxy" }

// Generate implements modelregistry.LLMProvider.
func (p *LLMProxy) Generate(ctx context.Context, req modelregistry.GenerateRequest) (*modelregistry.GenerateResponse, error) {
	reqID := newRequestID()
	ch := make(chan proxyResult, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrWorkerTerminated
	}
	p.pending[reqID] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, reqID)
		p.mu.Unlock()
	}()

	line, err := marshalLine(workerEnvelope{Type: WorkerMsgLLMRequest, RequestID: reqID, Options: &req})
	if err != nil {
		return nil, fmt.Errorf("projectadapter: marshal llm_request: %w", err)
	}
	if err := p.out.writeLine(line); err != nil {
		return nil, fmt.Errorf("projectadapter: post llm_request: %w", err)
	}

	select {
	case result := <-ch:
		return result.resp, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolveResponse completes a pending Generate call with a successful
// result. Called from the worker's host-message read loop.
func (p *LLMProxy) resolveResponse(requestID string, resp *modelregistry.GenerateResponse) {
	p.mu.Lock()
	ch, ok := p.pending[requestID]
	p.mu.Unlock()
	if ok {
		ch <- proxyResult{resp: resp}
	}
}

// resolveError completes a pending Generate call with a failure.
func (p *LLMProxy) resolveError(requestID, message string) {
	p.mu.Lock()
	ch, ok := p.pending[requestID]
	p.mu.Unlock()
	if ok {
		ch <- proxyResult{err: errors.New(message)}
	}
}

// shutdown rejects every still-pending request; called once the worker
// starts tearing down so no Generate call blocks forever past shutdown.
func (p *LLMProxy) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, ch := range p.pending {
		ch <- proxyResult{err: ErrWorkerTerminated}
		delete(p.pending, id)
	}
}
