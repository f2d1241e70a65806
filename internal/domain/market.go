package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a USD price and 24h percent change for one price id.
type Quote struct {
	ID               string          `json:"id"`
	Price            decimal.Decimal `json:"price"`
	PercentChange24h decimal.Decimal `json:"percentChange24h"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Identity is a resolved wallet. DisplayName is empty when the input was a raw address
// without a reverse record.
type Identity struct {
	Address     string `json:"address"`
	DisplayName string `json:"displayName,omitempty"`
}

// ChainBalance is one entry of a wallet balance read.
type ChainBalance struct {
	AssetKey string          `json:"assetKey"`
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	PriceID  string          `json:"priceId"`
	Balance  decimal.Decimal `json:"balance"`
	ImageURL string          `json:"imageUrl,omitempty"`
}

// ValuePoint is a recorded or simulated portfolio value at one instant.
type ValuePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}
