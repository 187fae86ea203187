package projectadapter

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/syntrixbase/pegasus/internal/modelregistry"
)

// safeBuffer makes bytes.Buffer safe for the concurrent read-while-written
// access these tests need (Generate posts from one goroutine while the test
// polls the buffer from another).
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *safeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, b.buf.Len())
	copy(cp, b.buf.Bytes())
	return cp
}

func TestLLMProxyGenerateRoundTrip(t *testing.T) {
	buf := &safeBuffer{}
	proxy := NewLLMProxy(newLineWriter(buf))

	done := make(chan struct {
		resp *modelregistry.GenerateResponse
		err  error
	}, 1)
	go func() {
		resp, err := proxy.Generate(context.Background(), modelregistry.GenerateRequest{System: "hi"})
		done <- struct {
			resp *modelregistry.GenerateResponse
			err  error
		}{resp, err}
	}()

	// Read the posted llm_request back out and resolve it, mimicking what
	// the worker's host-message read loop does for a real llm_response.
	var env workerEnvelope
	waitUntil(t, time.Second, func() bool { return buf.Len() > 0 })
	line := bytes.TrimRight(buf.Bytes(), "\n")
	if err := unmarshalLine(line, &env); err != nil {
		t.Fatalf("unmarshal posted request: %v", err)
	}
	if env.Type != WorkerMsgLLMRequest || env.RequestID == "" {
		t.Fatalf("env = %+v, want a valid llm_request", env)
	}

	proxy.resolveResponse(env.RequestID, &modelregistry.GenerateResponse{Content: "answer"})

	select {
	case result := <-done:
		if result.err != nil {
			t.Fatalf("Generate returned error: %v", result.err)
		}
		if result.resp.Content != "answer" {
			t.Errorf("Content = %q, want %q", result.resp.Content, "answer")
		}
	case <-time.After(time.Second):
		t.Fatal("Generate did not return")
	}
}

func TestLLMProxyResolveErrorFailsGenerate(t *testing.T) {
	buf := &safeBuffer{}
	proxy := NewLLMProxy(newLineWriter(buf))

	done := make(chan error, 1)
	go func() {
		_, err := proxy.Generate(context.Background(), modelregistry.GenerateRequest{})
		done <- err
	}()

	waitUntil(t, time.Second, func() bool { return buf.Len() > 0 })
	var env workerEnvelope
	_ = unmarshalLine(bytes.TrimRight(buf.Bytes(), "\n"), &env)
	proxy.resolveError(env.RequestID, "boom")

	select {
	case err := <-done:
		if err == nil || err.Error() != "boom" {
			t.Fatalf("err = %v, want boom", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Generate did not return")
	}
}

func TestLLMProxyShutdownRejectsPendingAndFutureCalls(t *testing.T) {
	buf := &safeBuffer{}
	proxy := NewLLMProxy(newLineWriter(buf))

	done := make(chan error, 1)
	go func() {
		_, err := proxy.Generate(context.Background(), modelregistry.GenerateRequest{})
		done <- err
	}()
	waitUntil(t, time.Second, func() bool { return buf.Len() > 0 })

	proxy.shutdown()

	select {
	case err := <-done:
		if err != ErrWorkerTerminated {
			t.Fatalf("err = %v, want ErrWorkerTerminated", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Generate did not return after shutdown")
	}

	if _, err := proxy.Generate(context.Background(), modelregistry.GenerateRequest{}); err != ErrWorkerTerminated {
		t.Fatalf("err = %v, want ErrWorkerTerminated for a call after shutdown", err)
	}
}
