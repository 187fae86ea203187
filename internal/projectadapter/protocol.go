// Package projectadapter implements the isolated worker scheduler described
// in spec.md §4.8: each long-lived project runs its own cognitive task core
// in a separate OS process, and every LLM call that process makes is
// proxied back to the host, where the shared model registry and
// concurrency limits actually live.
//
// The wire protocol is line-delimited JSON over the worker's stdin/stdout,
// grounded on the teacher's internal/mcp StdioTransport: a spawned process,
// a buffered line scanner, and a request-id-keyed pending map for
// correlating requests with their eventual responses.
package projectadapter

import (
	"encoding/json"

	"github.com/syntrixbase/pegasus/internal/modelregistry"
	"github.com/syntrixbase/pegasus/pkg/models"
)

// HostMessageType enumerates the host→worker messages of spec.md §4.8.
type HostMessageType string

const (
	HostMsgInit        HostMessageType = "init"
	HostMsgMessage     HostMessageType = "message"
	HostMsgLLMResponse HostMessageType = "llm_response"
	HostMsgLLMError    HostMessageType = "llm_error"
	HostMsgShutdown    HostMessageType = "shutdown"
)

// WorkerMessageType enumerates the worker→host messages of spec.md §4.8.
type WorkerMessageType string

const (
	WorkerMsgReady            WorkerMessageType = "ready"
	WorkerMsgError            WorkerMessageType = "error"
	WorkerMsgNotify           WorkerMessageType = "notify"
	WorkerMsgLLMRequest       WorkerMessageType = "llm_request"
	WorkerMsgShutdownComplete WorkerMessageType = "shutdown-complete"
)

// hostEnvelope is the single wire shape for every host→worker message; only
// the fields relevant to Type are populated.
type hostEnvelope struct {
	Type          HostMessageType                 `json:"type"`
	ProjectPath   string                          `json:"projectPath,omitempty"`
	ContextWindow int                              `json:"contextWindow,omitempty"`
	Outbound      *models.Message                 `json:"outbound,omitempty"`
	RequestID     string                          `json:"requestId,omitempty"`
	Result        *modelregistry.GenerateResponse `json:"result,omitempty"`
	Error         string                          `json:"error,omitempty"`
}

// workerEnvelope is the single wire shape for every worker→host message.
type workerEnvelope struct {
	Type          WorkerMessageType              `json:"type"`
	Error         string                         `json:"error,omitempty"`
	Inbound       *models.Message                `json:"inbound,omitempty"`
	RequestID     string                         `json:"requestId,omitempty"`
	Options       *modelregistry.GenerateRequest `json:"options,omitempty"`
	ModelOverride string                         `json:"modelOverride,omitempty"`
}

func marshalLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func unmarshalLine(line []byte, v any) error {
	return json.Unmarshal(line, v)
}
