package ledger

import (
	"context"

	"cryptofolio-backend/internal/domain"

	"github.com/google/uuid"
)

// PortfolioFilter selects portfolios by owner. A nil UserID selects anonymous portfolios
// unless All is set.
type PortfolioFilter struct {
	UserID *uuid.UUID
	All    bool
}

// TxFilter selects transactions. Empty fields do not filter.
type TxFilter struct {
	PortfolioIDs []uuid.UUID
	AssetID      *uuid.UUID
}

// Repo is the row-level view of ledger storage inside one unit of work.
// Lookups return domain.ErrNotFound on a miss.
type Repo interface {
	GetPortfolio(id uuid.UUID) (*domain.Portfolio, error)
	FindPortfolioByAddress(address string) (*domain.Portfolio, error)
	ListPortfolios(filter PortfolioFilter) ([]domain.Portfolio, error)
	InsertPortfolio(p *domain.Portfolio) error
	SavePortfolio(p *domain.Portfolio) error
	DeletePortfolio(id uuid.UUID) error

	// GetAsset and FindAssetBySymbol lock the row for the rest of an Update unit.
	GetAsset(id uuid.UUID) (*domain.Asset, error)
	FindAssetBySymbol(portfolioID uuid.UUID, symbol string) (*domain.Asset, error)
	// ListAssets returns assets of the given portfolios, or all assets for a nil slice.
	ListAssets(portfolioIDs []uuid.UUID) ([]domain.Asset, error)
	InsertAsset(a *domain.Asset) error
	SaveAsset(a *domain.Asset) error
	DeleteAsset(id uuid.UUID) error

	GetTransaction(id uuid.UUID) (*domain.Transaction, error)
	ListTransactions(filter TxFilter) ([]domain.Transaction, error)
	InsertTransaction(t *domain.Transaction) error
	SaveTransaction(t *domain.Transaction) error
	DeleteTransaction(id uuid.UUID) error
	// DeleteTransactionsForAsset removes every transaction naming the asset as source or destination.
	DeleteTransactionsForAsset(assetID uuid.UUID) error

	PriceIDs() ([]string, error)
}

// Backend runs units of work against one storage technology. Update is atomic:
// either every write in fn lands or none does.
type Backend interface {
	View(ctx context.Context, fn func(Repo) error) error
	Update(ctx context.Context, fn func(Repo) error) error
	Ping(ctx context.Context) error
	Close() error
}
