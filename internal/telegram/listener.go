package telegram

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// CommandHandler answers a slash command such as "/enable 3" with the reply text.
type CommandHandler func(ctx context.Context, command string) string

// ActionEnable is the callback action carried by "re-enable bot" buttons.
const ActionEnable = "enable"

// Listen long-polls for commands until ctx is done. Updates from any chat other than
// the authorized one are dropped without a reply.
func (c *Client) Listen(ctx context.Context, handler CommandHandler) error {
	if c.bot == nil {
		return errors.New("telegram: listener needs a connected bot")
	}
	c.bot.Use(func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(tc tele.Context) error {
			if !c.authorized(tc.Chat()) {
				var from string
				if s := tc.Sender(); s != nil {
					from = s.Username
				}
				c.log.Warn("unauthorized command attempt", zap.String("from", from), zap.String("text", tc.Text()))
				return nil
			}
			return next(tc)
		}
	})
	c.bot.Handle(tele.OnText, func(tc tele.Context) error {
		text := strings.TrimSpace(tc.Text())
		if !strings.HasPrefix(text, "/") {
			return nil
		}
		c.log.Info("command received", zap.String("command", text))
		return tc.Send(handler(ctx, text), tele.ModeMarkdown)
	})
	c.bot.Handle(&tele.Btn{Unique: ActionEnable}, func(tc tele.Context) error {
		reply := handler(ctx, "/enable "+tc.Data())
		if err := tc.Respond(&tele.CallbackResponse{Text: reply}); err != nil {
			c.log.Debug("callback answer failed", zap.Error(err))
		}
		return tc.Send(reply, tele.ModeMarkdown)
	})

	go func() {
		<-ctx.Done()
		c.bot.Stop()
	}()
	c.log.Info("command listener started")
	c.bot.Start()
	return nil
}

func (c *Client) authorized(chat *tele.Chat) bool {
	return chat != nil && chat.ID == c.chatID
}
