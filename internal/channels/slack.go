package channels

import (
	"context"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/syntrixbase/pegasus/pkg/models"
)

// Slack is a minimal Slack bot adapter built on Socket Mode, so it needs no
// inbound HTTP endpoint: botToken authenticates API calls (posting
// messages), appToken authenticates the Socket Mode connection.
type Slack struct {
	api    *slack.Client
	client *socketmode.Client
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSlack builds a Slack adapter from a bot token (xoxb-...) and an
// app-level token (xapp-...).
func NewSlack(botToken, appToken string) *Slack {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	return &Slack{
		api:    api,
		client: socketmode.New(api),
	}
}

// Type implements Adapter.
func (s *Slack) Type() models.ChannelType { return models.ChannelSlack }

// Start runs the Socket Mode event loop, submitting every channel message.
func (s *Slack) Start(ctx context.Context, submit Submit) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		for {
			select {
			case <-runCtx.Done():
				return
			case evt := <-s.client.Events:
				if evt.Type != socketmode.EventTypeEventsAPI {
					continue
				}
				s.client.Ack(*evt.Request)
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				inner, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
				if !ok || inner.BotID != "" || strings.TrimSpace(inner.Text) == "" {
					continue
				}
				if _, err := submit(runCtx, inner.Text, inner.Channel); err != nil {
					s.api.PostMessage(inner.Channel, slack.MsgOptionText("error: "+err.Error(), false))
				}
			}
		}
	}()

	go func() {
		if err := s.client.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			cancel()
		}
	}()
	return nil
}

// Deliver posts msg.Content to the Slack channel/conversation the message
// originated from.
func (s *Slack) Deliver(ctx context.Context, msg *models.Message) error {
	_, _, err := s.api.PostMessage(destination(msg), slack.MsgOptionText(msg.Content, false))
	return err
}

// Stop cancels the Socket Mode event loop and waits for it to exit.
func (s *Slack) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
