package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Asset is one fungible holding inside a portfolio. (PortfolioID, Symbol) is unique.
// Decimal columns are stored as text so every backend keeps the exact digits.
type Asset struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	PortfolioID uuid.UUID           `gorm:"column:portfolio_id;type:uuid;not null;uniqueIndex:idx_assets_portfolio_symbol" json:"portfolioId"`
	Name        string              `gorm:"column:name;not null" json:"name"`
	Symbol      string              `gorm:"column:symbol;not null;uniqueIndex:idx_assets_portfolio_symbol" json:"symbol"`
	PriceID     string              `gorm:"column:price_id;not null;index" json:"priceId"`
	Balance     decimal.Decimal     `gorm:"column:balance;type:text;not null" json:"balance"`
	AvgBuyPrice decimal.NullDecimal `gorm:"column:avg_buy_price;type:text" json:"avgBuyPrice"`
	ImageURL    *string             `gorm:"column:image_url" json:"imageUrl"`
	CreatedAt   time.Time           `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt   time.Time           `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Asset) TableName() string {
	return "Assets"
}

func (a *Asset) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// NewAsset is the input to Store.CreateAsset.
type NewAsset struct {
	PortfolioID uuid.UUID
	Name        string
	Symbol      string
	PriceID     string
	Balance     decimal.Decimal
	AvgBuyPrice decimal.NullDecimal
	ImageURL    *string
}

// AssetUpdate carries the mutable asset fields; nil means unchanged.
// A Balance change is recorded as a retroactive buy or sell.
type AssetUpdate struct {
	Name        *string
	Symbol      *string
	PriceID     *string
	Balance     *decimal.Decimal
	AvgBuyPrice *decimal.NullDecimal
	ImageURL    *string
}

// NormalizeSymbol upper-cases a ticker symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
