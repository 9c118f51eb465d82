package venue

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dexwatch/internal/config"
	"dexwatch/internal/market"
)

const (
	onchainID = "uniswap-v2"

	pairABIJSON = `[{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"_reserve0","type":"uint112"},{"internalType":"uint112","name":"_reserve1","type":"uint112"},{"internalType":"uint32","name":"_blockTimestampLast","type":"uint32"}],"payable":false,"stateMutability":"view","type":"function"}]`
)

var pairABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		panic("failed to parse pair ABI: " + err.Error())
	}
	pairABI = parsed
}

// uniswap V2 style pools charge a flat 0.30% swap fee.
var uniswapV2Fee = decimal.NewFromFloat(0.3)

// Onchain reads spot prices directly from Uniswap-V2 style pair reserves
// over Ethereum RPC. Slippage tiers are derived exactly from the constant
// product curve rather than estimated.
type Onchain struct {
	opts      config.OnchainConfig
	observer  Observer
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewOnchain builds an on-chain AMM reader.
func NewOnchain(opts config.OnchainConfig, observer Observer, logger zerolog.Logger) *Onchain {
	return &Onchain{
		opts:     opts,
		observer: observer,
		logger:   logger.With().Str("component", "venue_onchain").Logger(),
	}
}

// ID implements Adapter.
func (o *Onchain) ID() string { return onchainID }

// Chains implements Adapter.
func (o *Onchain) Chains() []string { return []string{o.opts.ChainID} }

// FetchPrice computes the spot price from pair reserves.
func (o *Onchain) FetchPrice(ctx context.Context, assetID, chainID string) (market.PriceQuote, error) {
	if assetID == "" {
		return market.PriceQuote{}, errors.New("assetID is required")
	}
	if o.opts.RPCURL == "" {
		return market.PriceQuote{}, errors.New("ethereum rpc url not configured")
	}
	if chainID != o.opts.ChainID {
		return market.PriceQuote{}, ErrNotAvailable
	}
	pair, ok := o.opts.Pairs[assetID]
	if !ok {
		return market.PriceQuote{}, ErrNotAvailable
	}

	timeout := o.opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	quote, err := o.readPair(ctx, assetID, pair)
	if err != nil {
		observe(ctx, o.observer, onchainID, chainID, start, false)
		o.logger.Warn().Err(err).Str("asset", assetID).Msg("onchain reserve read failed")
		return market.PriceQuote{}, ErrNotAvailable
	}
	observe(ctx, o.observer, onchainID, chainID, start, true)
	return quote, nil
}

func (o *Onchain) readPair(ctx context.Context, assetID string, pair config.OnchainPair) (market.PriceQuote, error) {
	client, err := o.getClient(ctx)
	if err != nil {
		return market.PriceQuote{}, err
	}

	addr := common.HexToAddress(pair.PairAddress)
	payload, err := pairABI.Pack("getReserves")
	if err != nil {
		return market.PriceQuote{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return market.PriceQuote{}, err
	}

	outputs, err := pairABI.Unpack("getReserves", res)
	if err != nil {
		return market.PriceQuote{}, err
	}
	if len(outputs) != 3 {
		return market.PriceQuote{}, errors.New("unexpected getReserves response")
	}

	reserve0, ok0 := outputs[0].(*big.Int)
	reserve1, ok1 := outputs[1].(*big.Int)
	if !ok0 || !ok1 {
		return market.PriceQuote{}, errors.New("failed to decode reserves")
	}

	baseReserve, quoteReserve := reserve0, reserve1
	if !pair.BaseIsToken0 {
		baseReserve, quoteReserve = reserve1, reserve0
	}
	if baseReserve.Sign() == 0 || quoteReserve.Sign() == 0 {
		return market.PriceQuote{}, errors.New("pair has empty reserves")
	}

	base := decimal.NewFromBigInt(baseReserve, -int32(pair.BaseDecimals))
	quoteAmt := decimal.NewFromBigInt(quoteReserve, -int32(pair.QuoteDecimals))
	price := quoteAmt.Div(base)

	fee := uniswapV2Fee
	result := market.PriceQuote{
		AssetID:    assetID,
		ChainID:    o.opts.ChainID,
		VenueID:    onchainID,
		PriceUSD:   price,
		FeePercent: &fee,
		ObservedAt: time.Now().UTC(),
	}

	if pair.QuoteIsUSDPeg {
		liquidity := quoteAmt.Mul(decimal.NewFromInt(2))
		result.Liquidity = &liquidity

		// Constant product: buying with a USD of quote moves the price by
		// a/(quoteReserve+a).
		hundred := decimal.NewFromInt(100)
		for _, tier := range []struct {
			amount decimal.Decimal
			dst    **decimal.Decimal
		}{
			{decimal.NewFromInt(1_000), &result.Slippage1k},
			{decimal.NewFromInt(10_000), &result.Slippage10k},
			{decimal.NewFromInt(100_000), &result.Slippage100k},
		} {
			slippage := tier.amount.Div(quoteAmt.Add(tier.amount)).Mul(hundred)
			value := slippage
			*tier.dst = &value
		}
	}

	return result, nil
}

func (o *Onchain) getClient(ctx context.Context) (*ethclient.Client, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

var _ Adapter = (*Onchain)(nil)
