package arbitrage

import (
	"github.com/shopspring/decimal"

	"dexwatch/internal/market"
)

// Filters narrows an opportunity list. The zero value matches everything.
type Filters struct {
	MinProfitPercent decimal.Decimal
	CrossChainOnly   bool
	SameChainOnly    bool
	ChainID          string
	VenueID          string
	Limit            int
}

// Apply returns the opportunities matching every set filter, preserving
// input order, truncated to Limit when positive.
func (f Filters) Apply(opportunities []market.ArbitrageOpportunity) []market.ArbitrageOpportunity {
	matched := make([]market.ArbitrageOpportunity, 0, len(opportunities))
	for _, opp := range opportunities {
		if !f.matches(opp) {
			continue
		}
		matched = append(matched, opp)
		if f.Limit > 0 && len(matched) == f.Limit {
			break
		}
	}
	return matched
}

func (f Filters) matches(opp market.ArbitrageOpportunity) bool {
	if f.MinProfitPercent.IsPositive() && opp.NetProfitPercent.LessThan(f.MinProfitPercent) {
		return false
	}
	if f.CrossChainOnly && !opp.IsCrossChain {
		return false
	}
	if f.SameChainOnly && opp.IsCrossChain {
		return false
	}
	if f.ChainID != "" && opp.SourceChain != f.ChainID && opp.TargetChain != f.ChainID {
		return false
	}
	if f.VenueID != "" && opp.SourceVenue != f.VenueID && opp.TargetVenue != f.VenueID {
		return false
	}
	return true
}
