package channels

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/syntrixbase/pegasus/pkg/models"
)

// Discord is a minimal Discord bot adapter: every message in a channel the
// bot can see becomes an inbound submission; outbound messages are sent to
// the channel the message's Metadata["source"] names, or its ChannelID.
type Discord struct {
	session *discordgo.Session
	botID   string
}

// NewDiscord builds a Discord adapter authenticated with a bot token.
func NewDiscord(token string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &Discord{session: session}, nil
}

// Type implements Adapter.
func (d *Discord) Type() models.ChannelType { return models.ChannelDiscord }

// Start opens the gateway connection and registers a message handler that
// submits every non-bot message.
func (d *Discord) Start(ctx context.Context, submit Submit) error {
	d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == d.botID || strings.TrimSpace(m.Content) == "" {
			return
		}
		if _, err := submit(ctx, m.Content, m.ChannelID); err != nil {
			s.ChannelMessageSend(m.ChannelID, "error: "+err.Error())
		}
	})
	d.session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages
	if err := d.session.Open(); err != nil {
		return err
	}
	if d.session.State != nil && d.session.State.User != nil {
		d.botID = d.session.State.User.ID
	}
	return nil
}

// Deliver sends msg.Content to the Discord channel named by the string
// Metadata["source"] when present, falling back to msg.ChannelID.
func (d *Discord) Deliver(ctx context.Context, msg *models.Message) error {
	_, err := d.session.ChannelMessageSend(destination(msg), msg.Content)
	return err
}

func destination(msg *models.Message) string {
	if msg.Metadata != nil {
		if v, ok := msg.Metadata["source"].(string); ok {
			return v
		}
	}
	return msg.ChannelID
}

// Stop closes the gateway connection.
func (d *Discord) Stop(ctx context.Context) error {
	return d.session.Close()
}
