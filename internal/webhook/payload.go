package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"alpha_executor/internal/models"
)

// payloadSchema accepts the field spellings alert templates commonly use.
const payloadSchema = `{
  "type": "object",
  "properties": {
    "action":        {"type": "string", "minLength": 1},
    "signal":        {"type": "string", "minLength": 1},
    "symbol":        {"type": "string", "minLength": 1},
    "ticker":        {"type": "string", "minLength": 1},
    "timeframe":     {"type": ["string", "number"]},
    "interval":      {"type": ["string", "number"]},
    "position_size": {"type": ["string", "number"]},
    "source":        {"type": "string"},
    "received_at":   {"type": "string"},
    "passphrase":    {"type": "string"},
    "strategy": {
      "type": "object",
      "properties": {
        "order": {
          "type": "object",
          "properties": {"action": {"type": "string", "minLength": 1}}
        }
      }
    }
  },
  "allOf": [
    {"anyOf": [{"required": ["symbol"]}, {"required": ["ticker"]}]},
    {"anyOf": [{"required": ["timeframe"]}, {"required": ["interval"]}]},
    {"anyOf": [
      {"required": ["action"]},
      {"required": ["signal"]},
      {"required": ["strategy"], "properties": {"strategy": {"required": ["order"], "properties": {"order": {"required": ["action"]}}}}}
    ]}
  ]
}`

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("webhook.json", strings.NewReader(payloadSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("webhook.json")
}

// inbound is a validated webhook body.
type inbound struct {
	Signal     models.Signal
	Passphrase string
}

func validatePayload(schema *jsonschema.Schema, body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("payload rejected: %w", err)
	}
	return nil
}

// parseSignal reads the signal fields out of a schema-valid body.
func parseSignal(body []byte, now time.Time) (inbound, error) {
	doc := gjson.ParseBytes(body)
	first := func(paths ...string) string {
		for _, p := range paths {
			if v := strings.TrimSpace(doc.Get(p).String()); v != "" {
				return v
			}
		}
		return ""
	}

	rawAction := first("action", "strategy.order.action", "signal")
	action, ok := models.ParseAction(rawAction)
	if !ok {
		return inbound{}, fmt.Errorf("unknown action %q", rawAction)
	}

	symbol := strings.ToUpper(first("symbol", "ticker"))
	// "NASDAQ:AAPL" style tickers carry the exchange
	if i := strings.LastIndex(symbol, ":"); i >= 0 {
		symbol = symbol[i+1:]
	}
	if symbol == "" {
		return inbound{}, errors.New("symbol is required")
	}
	timeframe := first("timeframe", "interval")
	if timeframe == "" {
		return inbound{}, errors.New("timeframe is required")
	}

	sig := models.Signal{
		Symbol:     symbol,
		Action:     action,
		Timeframe:  timeframe,
		Source:     first("source"),
		ReceivedAt: now,
	}
	if sig.Source == "" {
		sig.Source = models.SourceWebhook
	}
	if size := doc.Get("position_size"); size.Exists() && strings.TrimSpace(size.String()) != "" {
		d, err := decimal.NewFromString(strings.TrimSpace(size.String()))
		if err != nil || !d.IsPositive() {
			return inbound{}, fmt.Errorf("position_size %q must be a positive number", size.String())
		}
		sig.PositionSize = d
	}
	if ts := first("received_at"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return inbound{}, fmt.Errorf("received_at: %w", err)
		}
		sig.ReceivedAt = t.UTC()
	}
	return inbound{Signal: sig, Passphrase: doc.Get("passphrase").String()}, nil
}
