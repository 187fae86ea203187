package channels

import (
	"context"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	pegasusmodels "github.com/syntrixbase/pegasus/pkg/models"
)

// Telegram is a minimal long-polling Telegram bot adapter.
type Telegram struct {
	bot    *tgbot.Bot
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTelegram builds a Telegram adapter from a bot API token, wiring submit
// as the handler for every incoming text message.
func NewTelegram(token string, submit Submit) (*Telegram, error) {
	t := &Telegram{}
	opts := []tgbot.Option{
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			if update.Message == nil || strings.TrimSpace(update.Message.Text) == "" {
				return
			}
			source := strconv.FormatInt(update.Message.Chat.ID, 10)
			if _, err := submit(ctx, update.Message.Text, source); err != nil {
				b.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: update.Message.Chat.ID, Text: "error: " + err.Error()})
			}
		}),
	}
	b, err := tgbot.New(token, opts...)
	if err != nil {
		return nil, err
	}
	t.bot = b
	return t, nil
}

// Type implements Adapter.
func (t *Telegram) Type() pegasusmodels.ChannelType { return pegasusmodels.ChannelTelegram }

// Start begins long polling in the background. submit was already bound at
// construction time (NewTelegram), since go-telegram/bot wires its default
// handler at build time rather than after Start.
func (t *Telegram) Start(ctx context.Context, submit Submit) error {
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go func() {
		defer close(t.done)
		t.bot.Start(runCtx)
	}()
	return nil
}

// Deliver sends msg.Content to the Telegram chat the message originated
// from.
func (t *Telegram) Deliver(ctx context.Context, msg *pegasusmodels.Message) error {
	chatID, err := strconv.ParseInt(destination(msg), 10, 64)
	if err != nil {
		return err
	}
	_, err = t.bot.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: msg.Content})
	return err
}

// Stop cancels the polling loop and waits for it to exit.
func (t *Telegram) Stop(ctx context.Context) error {
	if t.cancel == nil {
		return nil
	}
	t.cancel()
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
