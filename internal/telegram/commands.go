package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"alpha_executor/internal/models"
)

// BotAdmin is what the chat commands need from the bot store.
type BotAdmin interface {
	ListBotConfigs(ctx context.Context) ([]models.BotConfig, error)
	SetBotActive(ctx context.Context, id int64, active bool) (*models.BotConfig, error)
}

const helpText = "*Commands*\n/status - list bots\n/enable <id> - re-enable a bot\n/disable <id> - stop a bot"

// Commands builds the handler for /status, /enable and /disable.
func Commands(admin BotAdmin) CommandHandler {
	return func(ctx context.Context, command string) string {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return helpText
		}
		// "/status@my_bot" in group chats
		name := strings.ToLower(strings.SplitN(fields[0], "@", 2)[0])
		switch name {
		case "/status":
			return status(ctx, admin)
		case "/enable", "/disable":
			if len(fields) < 2 {
				return fmt.Sprintf("usage: %s <bot id>", name)
			}
			id, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Sprintf("invalid bot id %q", fields[1])
			}
			active := name == "/enable"
			bot, err := admin.SetBotActive(ctx, id, active)
			if err != nil {
				return fmt.Sprintf("bot %d: %v", id, err)
			}
			verb := "disabled"
			if active {
				verb = "enabled"
			}
			return fmt.Sprintf("Bot #%d %s %s %s", bot.ID, bot.Symbol, bot.Timeframe, verb)
		}
		return helpText
	}
}

func status(ctx context.Context, admin BotAdmin) string {
	bots, err := admin.ListBotConfigs(ctx)
	if err != nil {
		return fmt.Sprintf("status unavailable: %v", err)
	}
	if len(bots) == 0 {
		return "No bots configured"
	}
	var sb strings.Builder
	sb.WriteString("*Bots*\n")
	for _, b := range bots {
		state := "on"
		if !b.IsActive {
			state = "off"
		}
		fmt.Fprintf(&sb, "#%d %s %s [%s] %s trades=%d pnl=%s\n",
			b.ID, b.Symbol, b.Timeframe, state, b.CurrentPositionSide, b.TotalTrades, b.TotalPnL.StringFixed(2))
	}
	return sb.String()
}
