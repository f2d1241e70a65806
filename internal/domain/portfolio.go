package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Portfolio is either wallet-derived (IsEns with a wallet address) or manually managed (neither).
type Portfolio struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name             string     `gorm:"column:name;not null" json:"name"`
	UserID           *uuid.UUID `gorm:"column:user_id;type:uuid;index" json:"userId"`
	WalletAddress    *string    `gorm:"column:wallet_address;uniqueIndex" json:"walletAddress"`
	IsEns            bool       `gorm:"column:is_ens;not null;default:false" json:"isEns"`
	EnsName          *string    `gorm:"column:ens_name" json:"ensName"`
	IncludeInSummary bool       `gorm:"column:include_in_summary;not null" json:"includeInSummary"`
	CreatedAt        time.Time  `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt        time.Time  `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Portfolio) TableName() string {
	return "Portfolios"
}

func (p *Portfolio) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// NewPortfolio is the input to Store.CreatePortfolio. A wallet address implies IsEns.
type NewPortfolio struct {
	Name             string
	UserID           *uuid.UUID
	WalletAddress    *string
	EnsName          *string
	IncludeInSummary bool
}

// PortfolioUpdate carries the mutable portfolio fields; nil means unchanged.
type PortfolioUpdate struct {
	Name             *string
	IncludeInSummary *bool
}

// NormalizeAddress returns the canonical lower-cased form of a hex address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
