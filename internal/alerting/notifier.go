// Package alerting delivers opportunity notifications to external channels.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dexwatch/internal/market"
)

// Notifier delivers a newly detected opportunity.
type Notifier interface {
	NotifyOpportunity(ctx context.Context, opp market.ArbitrageOpportunity) error
}

// TelegramNotifier pushes opportunity messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// NotifyOpportunity sends the rendered opportunity via the sendMessage API.
func (n *TelegramNotifier) NotifyOpportunity(ctx context.Context, opp market.ArbitrageOpportunity) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(opp),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("asset", opp.AssetID).
		Str("pair", opp.LegKey()).
		Str("net_profit_pct", opp.NetProfitPercent.StringFixed(2)).
		Msg("opportunity alert sent (Telegram)")
	return nil
}

func renderMessage(opp market.ArbitrageOpportunity) string {
	builder := strings.Builder{}
	builder.WriteString("[Arbitrage Opportunity]\n")
	builder.WriteString(fmt.Sprintf("Asset: %s\n", opp.AssetID))
	builder.WriteString(fmt.Sprintf("Buy:  %s @ %s ($%s)\n", opp.SourceVenue, opp.SourceChain, opp.SourcePriceUSD.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("Sell: %s @ %s ($%s)\n", opp.TargetVenue, opp.TargetChain, opp.TargetPriceUSD.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("Gross: %s%%  Fees: %s%%  Net: %s%%\n",
		opp.GrossProfitPercent.StringFixed(2),
		opp.EstimatedFeePercent.StringFixed(2),
		opp.NetProfitPercent.StringFixed(2)))
	if opp.IsCrossChain {
		builder.WriteString("Route: cross-chain (bridge fee included)\n")
	}
	builder.WriteString(fmt.Sprintf("Detected: %s UTC\n", opp.DetectedAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
