package valuation

import (
	"time"

	"cryptofolio-backend/internal/domain"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// AssetWithPrice is an asset enriched with display-ready valuation fields.
type AssetWithPrice struct {
	domain.Asset
	CurrentPrice         decimal.Decimal `json:"currentPrice"`
	Value                decimal.Decimal `json:"value"`
	PriceChange24h       decimal.Decimal `json:"priceChange24h"`
	ProfitLoss           decimal.Decimal `json:"profitLoss"`
	ProfitLossPercentage decimal.Decimal `json:"profitLossPercentage"`
}

// Overview is the aggregate valuation of a set of assets.
type Overview struct {
	TotalValue          decimal.Decimal `json:"totalValue"`
	Change24h           decimal.Decimal `json:"change24h"`
	Change24hPercentage decimal.Decimal `json:"change24hPercentage"`
	LastUpdated         time.Time       `json:"lastUpdated"`
}

// PriceAssets values each asset against quotes keyed by price id. A missing quote
// prices the asset at zero instead of failing the listing.
func PriceAssets(assets []domain.Asset, quotes map[string]domain.Quote) []AssetWithPrice {
	out := make([]AssetWithPrice, 0, len(assets))
	for _, a := range assets {
		p := AssetWithPrice{
			Asset:                a,
			CurrentPrice:         decimal.Zero,
			PriceChange24h:       decimal.Zero,
			ProfitLoss:           decimal.Zero,
			ProfitLossPercentage: decimal.Zero,
		}
		if q, ok := quotes[a.PriceID]; ok {
			p.CurrentPrice = q.Price
			p.PriceChange24h = q.PercentChange24h
		}
		p.Value = a.Balance.Mul(p.CurrentPrice)
		if a.AvgBuyPrice.Valid && p.CurrentPrice.IsPositive() {
			avg := a.AvgBuyPrice.Decimal
			p.ProfitLoss = p.CurrentPrice.Sub(avg).Mul(a.Balance)
			// A zero cost basis has no meaningful percentage.
			if avg.IsPositive() {
				p.ProfitLossPercentage = p.CurrentPrice.Div(avg).Sub(decimal.NewFromInt(1)).Mul(hundred)
			}
		}
		out = append(out, p)
	}
	return out
}

// Summarize aggregates priced assets. Yesterday's value of each asset is recovered as
// value / (1 + change24h/100), so no second price fetch is needed.
func Summarize(priced []AssetWithPrice, now time.Time) Overview {
	ov := Overview{
		TotalValue:          decimal.Zero,
		Change24h:           decimal.Zero,
		Change24hPercentage: decimal.Zero,
		LastUpdated:         now,
	}
	if len(priced) == 0 {
		return ov
	}
	previous := decimal.Zero
	for _, p := range priced {
		ov.TotalValue = ov.TotalValue.Add(p.Value)
		factor := decimal.NewFromInt(1).Add(p.PriceChange24h.Div(hundred))
		if !factor.IsPositive() {
			// a -100% move leaves no recoverable previous value
			previous = previous.Add(p.Value)
			continue
		}
		previous = previous.Add(p.Value.Div(factor))
	}
	ov.Change24h = ov.TotalValue.Sub(previous)
	if previous.IsPositive() {
		ov.Change24hPercentage = ov.Change24h.Div(previous).Mul(hundred)
	}
	return ov
}

// Batches splits ids into distinct, order-preserving groups of at most size.
func Batches(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	seen := make(map[string]struct{}, len(ids))
	var batches [][]string
	var cur []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		cur = append(cur, id)
		if len(cur) == size {
			batches = append(batches, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}
