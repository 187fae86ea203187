package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/syntrixbase/pegasus/pkg/models"
)

// Terminal is the simplest channel adapter: reads lines from an input
// stream (normally os.Stdin) as inbound messages, writes outbound messages
// to an output stream (normally os.Stdout). It's the reference
// implementation of the Adapter interface spec.md §6 names.
type Terminal struct {
	in     io.Reader
	out    io.Writer
	source string

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTerminal builds a Terminal adapter. source identifies this terminal
// session (e.g. a username or "local") for routing outbound replies back.
func NewTerminal(in io.Reader, out io.Writer, source string) *Terminal {
	if source == "" {
		source = "local"
	}
	return &Terminal{in: in, out: out, source: source}
}

// Type implements Adapter.
func (t *Terminal) Type() models.ChannelType { return models.ChannelType("terminal") }

// Start reads lines from the input stream until ctx is canceled or the
// stream closes, submitting each non-empty line.
func (t *Terminal) Start(ctx context.Context, submit Submit) error {
	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	go func() {
		defer close(t.done)
		scanner := bufio.NewScanner(t.in)
		for scanner.Scan() {
			if runCtx.Err() != nil {
				return
			}
			line := scanner.Text()
			if line == "" {
				continue
			}
			if _, err := submit(runCtx, line, t.source); err != nil {
				fmt.Fprintf(t.out, "[error] %v\n", err)
			}
		}
	}()
	return nil
}

// Deliver writes an outbound message to the output stream.
func (t *Terminal) Deliver(ctx context.Context, msg *models.Message) error {
	_, err := fmt.Fprintf(t.out, "%s\n", msg.Content)
	return err
}

// Stop cancels the read loop and waits for it to exit.
func (t *Terminal) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel := t.cancel
	done := t.done
	t.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
