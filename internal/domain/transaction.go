package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TxType is the kind of balance-affecting event a Transaction records.
type TxType string

const (
	TxBuy      TxType = "buy"
	TxSell     TxType = "sell"
	TxSwap     TxType = "swap"
	TxDeposit  TxType = "deposit"
	TxWithdraw TxType = "withdraw"
)

// Valid reports whether t is one of the known transaction types.
func (t TxType) Valid() bool {
	switch t {
	case TxBuy, TxSell, TxSwap, TxDeposit, TxWithdraw:
		return true
	}
	return false
}

// Transaction sources recorded in Meta.
const (
	SourceManual            = "manual"
	SourceTransfer          = "transfer"
	SourceBalanceAdjustment = "balance_adjustment"
)

// Transaction is an append-only record of a balance change. Only Notes and Date may be edited.
type Transaction struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	PortfolioID uuid.UUID           `gorm:"column:portfolio_id;type:uuid;not null;index" json:"portfolioId"`
	AssetID     uuid.UUID           `gorm:"column:asset_id;type:uuid;not null;index" json:"assetId"`
	Type        TxType              `gorm:"column:type;type:varchar(20);not null" json:"type"`
	Amount      decimal.Decimal     `gorm:"column:amount;type:text;not null" json:"amount"`
	Price       decimal.NullDecimal `gorm:"column:price;type:text" json:"price"`
	Date        time.Time           `gorm:"column:date;not null;index" json:"date"`
	ToAssetID   *uuid.UUID          `gorm:"column:to_asset_id;type:uuid;index" json:"toAssetId"`
	ToAmount    decimal.NullDecimal `gorm:"column:to_amount;type:text" json:"toAmount"`
	ToPrice     decimal.NullDecimal `gorm:"column:to_price;type:text" json:"toPrice"`
	Notes       *string             `gorm:"column:notes" json:"notes"`
	Meta        datatypes.JSON      `gorm:"column:meta" json:"meta,omitempty"`
	CreatedAt   time.Time           `gorm:"column:createdAt" json:"createdAt"`
}

func (Transaction) TableName() string {
	return "Transactions"
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// NewTransaction is the input to Store.CreateTransaction. A zero Date means "now".
type NewTransaction struct {
	AssetID   uuid.UUID
	Type      TxType
	Amount    decimal.Decimal
	Price     decimal.NullDecimal
	Date      time.Time
	ToAssetID *uuid.UUID
	ToAmount  decimal.NullDecimal
	ToPrice   decimal.NullDecimal
	Notes     *string
	Source    string
}

// TransactionUpdate carries the only editable fields of a transaction.
type TransactionUpdate struct {
	Notes *string
	Date  *time.Time
}

// TxMeta is the JSON stored in Transaction.Meta.
type TxMeta struct {
	Source                  string     `json:"source"`
	CounterpartyPortfolioID *uuid.UUID `json:"counterpartyPortfolioId,omitempty"`
	CounterpartyAssetID     *uuid.UUID `json:"counterpartyAssetId,omitempty"`
}

// JSON encodes m for the Meta column.
func (m TxMeta) JSON() datatypes.JSON {
	if m.Source == "" {
		m.Source = SourceManual
	}
	b, _ := json.Marshal(m)
	return datatypes.JSON(b)
}

// Source returns the origin recorded in Meta, defaulting to manual.
func (t *Transaction) Source() string {
	var m TxMeta
	if len(t.Meta) == 0 || json.Unmarshal(t.Meta, &m) != nil || m.Source == "" {
		return SourceManual
	}
	return m.Source
}

// TransferRequest moves Amount of the source asset into TargetPortfolioID at cost basis
// LotPrice. A null LotPrice leaves the destination cost basis unknown.
type TransferRequest struct {
	SourceAssetID     uuid.UUID
	TargetPortfolioID uuid.UUID
	Amount            decimal.Decimal
	LotPrice          decimal.NullDecimal
	Date              time.Time
}

// TransferResult lists everything a transfer wrote.
type TransferResult struct {
	Source        *Asset       `json:"source"`
	SourceDeleted bool         `json:"sourceDeleted"`
	Destination   Asset        `json:"destination"`
	Withdraw      *Transaction `json:"withdraw"`
	Deposit       Transaction  `json:"deposit"`
}
