package telegram

import (
	"errors"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// messenger is the slice of *tele.Bot the client sends through.
type messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Client talks to one authorized chat. The same bot is used for outgoing alerts
// and for the command listener.
type Client struct {
	bot    *tele.Bot
	out    messenger
	chatID int64
	log    *zap.Logger
}

// New connects to the Bot API. Both the token and the chat id are required.
func New(token string, chatID int64, log *zap.Logger) (*Client, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram: token and chat id are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", zap.Error(err))
		},
	})
	if err != nil {
		return nil, err
	}
	return &Client{bot: b, out: b, chatID: chatID, log: log.Named("telegram")}, nil
}

func newWithMessenger(out messenger, chatID int64) *Client {
	return &Client{out: out, chatID: chatID, log: zap.NewNop()}
}
