package notifications

import (
	"context"
	"fmt"

	"alpha_executor/internal/executor"
	"alpha_executor/internal/telegram"
)

// TextSender is the part of the Telegram client the sink uses.
type TextSender interface {
	Send(text string, buttons ...telegram.Button) error
}

// TelegramSink formats events and posts them to the chat. Risk limit alerts carry a
// button that re-enables the bot.
type TelegramSink struct {
	Sender TextSender
}

func (s TelegramSink) Deliver(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buttons []telegram.Button
	if ev.Type == executor.EventRiskLimit {
		if id := get(ev.Payload, "bot_id"); id != "-" && id != "0" {
			buttons = append(buttons, telegram.Button{Text: "Re-enable bot #" + id, Action: telegram.ActionEnable, Data: id})
		}
	}
	if err := s.Sender.Send(Format(ev), buttons...); err != nil {
		return fmt.Errorf("deliver %s: %w", ev.Type, err)
	}
	return nil
}
