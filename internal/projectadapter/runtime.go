package projectadapter

import (
	"context"
	"io"
	"log/slog"

	"github.com/syntrixbase/pegasus/pkg/models"
)

// WorkerAgent is the subset of *core.Agent a project worker drives. It is
// declared here rather than imported so this package never needs to import
// internal/core; cmd/pegasus's worker-mode entrypoint supplies the concrete
// Agent.
type WorkerAgent interface {
	Start(ctx context.Context)
	Submit(ctx context.Context, text, source string) (string, error)
	Stop()
}

// AgentFactory builds the worker's private Agent, wired with proxy as its
// sole LLMProvider and notifyHost as its NotifyFunc so every assistant
// reply and spontaneous notification leaves the worker as a `notify`
// message.
type AgentFactory func(proxy *LLMProxy, notifyHost func(ctx context.Context, source string, msg *models.Message)) WorkerAgent

// RunWorker is the project worker's main loop: it reads host messages from
// in, builds the project's Agent around an LLMProxy writing to out, and
// runs until it receives `shutdown`, at which point it drains the proxy,
// emits shutdown-complete, and returns.
//
// It is the counterpart to Manager — Manager is the host side of this same
// protocol, and the two communicate only over in/out.
func RunWorker(ctx context.Context, in io.Reader, out io.Writer, build AgentFactory, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	writer := newLineWriter(out)
	proxy := NewLLMProxy(writer)

	notifyHost := func(ctx context.Context, source string, msg *models.Message) {
		line, err := marshalLine(workerEnvelope{Type: WorkerMsgNotify, Inbound: msg})
		if err != nil {
			logger.Error("projectadapter: marshal notify", "error", err)
			return
		}
		if err := writer.writeLine(line); err != nil {
			logger.Error("projectadapter: post notify", "error", err)
		}
	}

	agent := build(proxy, notifyHost)

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(done)
		_ = scanLines(in, func(line []byte) {
			if handleHostLine(ctx, line, agent, proxy, writer, logger) {
				select {
				case <-stopped:
				default:
					close(stopped)
				}
			}
		})
	}()

	select {
	case <-done:
	case <-stopped:
	case <-ctx.Done():
	}
	return nil
}

// handleHostLine dispatches one host message and reports whether it was
// `shutdown`.
func handleHostLine(ctx context.Context, line []byte, agent WorkerAgent, proxy *LLMProxy, writer *lineWriter, logger *slog.Logger) bool {
	var env hostEnvelope
	if err := unmarshalLine(line, &env); err != nil {
		logger.Error("projectadapter: malformed host message", "error", err)
		return false
	}

	switch env.Type {
	case HostMsgInit:
		agent.Start(ctx)
		sendWorkerLine(writer, workerEnvelope{Type: WorkerMsgReady}, logger)
	case HostMsgMessage:
		if env.Outbound == nil {
			return false
		}
		if _, err := agent.Submit(ctx, env.Outbound.Content, string(env.Outbound.Channel)); err != nil {
			sendWorkerLine(writer, workerEnvelope{Type: WorkerMsgError, Error: err.Error()}, logger)
		}
	case HostMsgLLMResponse:
		proxy.resolveResponse(env.RequestID, env.Result)
	case HostMsgLLMError:
		proxy.resolveError(env.RequestID, env.Error)
	case HostMsgShutdown:
		proxy.shutdown()
		agent.Stop()
		sendWorkerLine(writer, workerEnvelope{Type: WorkerMsgShutdownComplete}, logger)
		return true
	}
	return false
}

func sendWorkerLine(writer *lineWriter, env workerEnvelope, logger *slog.Logger) {
	line, err := marshalLine(env)
	if err != nil {
		logger.Error("projectadapter: marshal worker message", "error", err)
		return
	}
	if err := writer.writeLine(line); err != nil {
		logger.Error("projectadapter: post worker message", "error", err)
	}
}
