package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dexwatch/internal/market"
)

// EVM chain ids used by the hosted bridge fee APIs.
var evmChainIDs = map[string]int{
	"ethereum": 1,
	"bsc":      56,
	"polygon":  137,
	"arbitrum": 42161,
}

// LiFiProvider quotes bridge routes from the LI.FI aggregator API.
type LiFiProvider struct {
	baseURL string
	client  *http.Client
}

// NewLiFiProvider constructs the first-priority fee provider.
func NewLiFiProvider(baseURL string, timeout time.Duration) *LiFiProvider {
	if baseURL == "" {
		baseURL = "https://li.quest/v1"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LiFiProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements FeeProvider.
func (p *LiFiProvider) Name() string { return "lifi" }

// Quote fetches the cheapest route estimate for the chain pair.
func (p *LiFiProvider) Quote(ctx context.Context, sourceChain, targetChain string) (market.BridgeFeeQuote, error) {
	fromID, okFrom := evmChainIDs[sourceChain]
	toID, okTo := evmChainIDs[targetChain]
	if !okFrom || !okTo {
		return market.BridgeFeeQuote{}, fmt.Errorf("unsupported chain pair %s->%s", sourceChain, targetChain)
	}

	endpoint := fmt.Sprintf("%s/quote/fees?fromChain=%d&toChain=%d", p.baseURL, fromID, toID)
	body, err := getJSON(ctx, p.client, endpoint)
	if err != nil {
		return market.BridgeFeeQuote{}, err
	}

	var payload struct {
		Tool     string `json:"tool"`
		Estimate struct {
			ExecutionDuration int `json:"executionDuration"`
			FeeCosts          []struct {
				AmountUSD  string `json:"amountUSD"`
				Percentage string `json:"percentage"`
			} `json:"feeCosts"`
		} `json:"estimate"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return market.BridgeFeeQuote{}, err
	}
	if payload.Tool == "" || len(payload.Estimate.FeeCosts) == 0 {
		return market.BridgeFeeQuote{}, errors.New("lifi returned no fee costs")
	}

	fixed := decimal.Zero
	percentage := decimal.Zero
	for _, cost := range payload.Estimate.FeeCosts {
		if amount, convErr := decimal.NewFromString(cost.AmountUSD); convErr == nil {
			fixed = fixed.Add(amount)
		}
		if fraction, convErr := decimal.NewFromString(cost.Percentage); convErr == nil {
			percentage = percentage.Add(fraction.Mul(decimal.NewFromInt(100)))
		}
	}

	return market.BridgeFeeQuote{
		SourceChain:          sourceChain,
		TargetChain:          targetChain,
		BridgeName:           payload.Tool,
		FixedFeeUSD:          fixed,
		PercentageFee:        percentage,
		EstimatedTimeSeconds: payload.Estimate.ExecutionDuration,
	}, nil
}

// SocketProvider quotes routes from the Socket (Bungee) API.
type SocketProvider struct {
	baseURL string
	client  *http.Client
}

// NewSocketProvider constructs the second-priority fee provider.
func NewSocketProvider(baseURL string, timeout time.Duration) *SocketProvider {
	if baseURL == "" {
		baseURL = "https://api.socket.tech/v2"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SocketProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements FeeProvider.
func (p *SocketProvider) Name() string { return "socket" }

// Quote fetches the first available route for the chain pair.
func (p *SocketProvider) Quote(ctx context.Context, sourceChain, targetChain string) (market.BridgeFeeQuote, error) {
	fromID, okFrom := evmChainIDs[sourceChain]
	toID, okTo := evmChainIDs[targetChain]
	if !okFrom || !okTo {
		return market.BridgeFeeQuote{}, fmt.Errorf("unsupported chain pair %s->%s", sourceChain, targetChain)
	}

	endpoint := fmt.Sprintf("%s/quote?fromChainId=%d&toChainId=%d", p.baseURL, fromID, toID)
	body, err := getJSON(ctx, p.client, endpoint)
	if err != nil {
		return market.BridgeFeeQuote{}, err
	}

	var payload struct {
		Success bool `json:"success"`
		Result  struct {
			Routes []struct {
				UsedBridgeNames  []string `json:"usedBridgeNames"`
				TotalGasFeesUSD  float64  `json:"totalGasFeesInUsd"`
				BridgeFeePercent float64  `json:"bridgeFeePercent"`
				ServiceTime      int      `json:"serviceTime"`
			} `json:"routes"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return market.BridgeFeeQuote{}, err
	}
	if !payload.Success || len(payload.Result.Routes) == 0 {
		return market.BridgeFeeQuote{}, errors.New("socket returned no routes")
	}

	route := payload.Result.Routes[0]
	name := "socket"
	if len(route.UsedBridgeNames) > 0 {
		name = route.UsedBridgeNames[0]
	}

	return market.BridgeFeeQuote{
		SourceChain:          sourceChain,
		TargetChain:          targetChain,
		BridgeName:           name,
		FixedFeeUSD:          decimal.NewFromFloat(route.TotalGasFeesUSD),
		PercentageFee:        decimal.NewFromFloat(route.BridgeFeePercent),
		EstimatedTimeSeconds: route.ServiceTime,
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
