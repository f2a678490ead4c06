package telegram

import (
	"fmt"

	tele "gopkg.in/telebot.v3"
)

// Button is an inline keyboard button. Action selects the callback handler and
// Data is passed to it.
type Button struct {
	Text   string
	Action string
	Data   string
}

// Send posts a Markdown message to the authorized chat. Buttons, if any, go on one row.
func (c *Client) Send(text string, buttons ...Button) error {
	opts := []interface{}{tele.ModeMarkdown}
	if len(buttons) > 0 {
		menu := &tele.ReplyMarkup{}
		row := make(tele.Row, 0, len(buttons))
		for _, b := range buttons {
			row = append(row, menu.Data(b.Text, b.Action, b.Data))
		}
		menu.Inline(row)
		opts = append(opts, menu)
	}
	if _, err := c.out.Send(tele.ChatID(c.chatID), text, opts...); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
