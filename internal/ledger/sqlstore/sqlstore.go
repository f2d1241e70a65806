// Package sqlstore is the GORM ledger backend used with Postgres in production and
// SQLite in development and tests.
package sqlstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/ledger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMaxAttempts = 3
	retryBackoff       = 25 * time.Millisecond
)

// Postgres error codes that make a unit of work worth replaying.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// Backend runs ledger units of work as database transactions.
type Backend struct {
	db          *gorm.DB
	lockRows    bool
	maxAttempts int
}

// New wraps an open GORM handle. Row locks are taken only on Postgres; SQLite
// serializes writers on its own.
func New(db *gorm.DB) *Backend {
	return &Backend{
		db:          db,
		lockRows:    db.Dialector.Name() == "postgres",
		maxAttempts: defaultMaxAttempts,
	}
}

var _ ledger.Backend = (*Backend)(nil)

func (b *Backend) View(ctx context.Context, fn func(ledger.Repo) error) error {
	return fn(&repo{db: b.db.WithContext(ctx)})
}

// Update replays fn on serialization failures, deadlocks and unique-key races up to
// maxAttempts times, then reports a Conflict.
func (b *Backend) Update(ctx context.Context, fn func(ledger.Repo) error) error {
	var err error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&repo{db: tx, lock: b.lockRows})
		})
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("ledger unit of work contended, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return domain.Conflict("ledger is busy, retry the request", err)
}

func (b *Backend) Ping(ctx context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeUniqueViolation
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// translate maps driver errors onto the domain taxonomy. The original error stays
// wrapped so Update can still classify it for retries.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.NotFound("%s not found", what)
	case isUniqueViolation(err):
		return domain.Conflict(what+" already exists", err)
	default:
		return err
	}
}

type repo struct {
	db   *gorm.DB
	lock bool
}

func (r *repo) forUpdate() *gorm.DB {
	if r.lock {
		return r.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.db
}

func (r *repo) GetPortfolio(id uuid.UUID) (*domain.Portfolio, error) {
	var p domain.Portfolio
	if err := r.db.Where("id = ?", id).First(&p).Error; err != nil {
		return nil, translate(err, "portfolio "+id.String())
	}
	return &p, nil
}

func (r *repo) FindPortfolioByAddress(address string) (*domain.Portfolio, error) {
	var p domain.Portfolio
	if err := r.db.Where("wallet_address = ?", address).First(&p).Error; err != nil {
		return nil, translate(err, "portfolio for "+address)
	}
	return &p, nil
}

func (r *repo) ListPortfolios(filter ledger.PortfolioFilter) ([]domain.Portfolio, error) {
	q := r.db.Model(&domain.Portfolio{})
	if !filter.All {
		if filter.UserID == nil {
			q = q.Where("user_id IS NULL")
		} else {
			q = q.Where("user_id = ?", *filter.UserID)
		}
	}
	out := make([]domain.Portfolio, 0)
	err := q.Order(clause.OrderByColumn{Column: clause.Column{Name: "createdAt"}}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).
		Find(&out).Error
	return out, err
}

func (r *repo) InsertPortfolio(p *domain.Portfolio) error {
	return translate(r.db.Create(p).Error, "portfolio")
}

func (r *repo) SavePortfolio(p *domain.Portfolio) error {
	return translate(r.db.Save(p).Error, "portfolio")
}

func (r *repo) DeletePortfolio(id uuid.UUID) error {
	return r.db.Where("id = ?", id).Delete(&domain.Portfolio{}).Error
}

func (r *repo) GetAsset(id uuid.UUID) (*domain.Asset, error) {
	var a domain.Asset
	if err := r.forUpdate().Where("id = ?", id).First(&a).Error; err != nil {
		return nil, translate(err, "asset "+id.String())
	}
	return &a, nil
}

func (r *repo) FindAssetBySymbol(portfolioID uuid.UUID, symbol string) (*domain.Asset, error) {
	var a domain.Asset
	err := r.forUpdate().Where("portfolio_id = ? AND symbol = ?", portfolioID, symbol).First(&a).Error
	if err != nil {
		return nil, translate(err, "asset "+symbol)
	}
	return &a, nil
}

func (r *repo) ListAssets(portfolioIDs []uuid.UUID) ([]domain.Asset, error) {
	out := make([]domain.Asset, 0)
	q := r.db.Model(&domain.Asset{})
	if portfolioIDs != nil {
		if len(portfolioIDs) == 0 {
			return out, nil
		}
		q = q.Where("portfolio_id IN ?", portfolioIDs)
	}
	err := q.Order("symbol ASC").Order("id ASC").Find(&out).Error
	return out, err
}

func (r *repo) InsertAsset(a *domain.Asset) error {
	return translate(r.db.Create(a).Error, "asset "+a.Symbol)
}

func (r *repo) SaveAsset(a *domain.Asset) error {
	return translate(r.db.Save(a).Error, "asset "+a.Symbol)
}

func (r *repo) DeleteAsset(id uuid.UUID) error {
	return r.db.Where("id = ?", id).Delete(&domain.Asset{}).Error
}

func (r *repo) GetTransaction(id uuid.UUID) (*domain.Transaction, error) {
	var t domain.Transaction
	if err := r.db.Where("id = ?", id).First(&t).Error; err != nil {
		return nil, translate(err, "transaction "+id.String())
	}
	return &t, nil
}

func (r *repo) ListTransactions(filter ledger.TxFilter) ([]domain.Transaction, error) {
	q := r.db.Model(&domain.Transaction{})
	if len(filter.PortfolioIDs) > 0 {
		q = q.Where("portfolio_id IN ?", filter.PortfolioIDs)
	}
	if filter.AssetID != nil {
		q = q.Where("asset_id = ? OR to_asset_id = ?", *filter.AssetID, *filter.AssetID)
	}
	out := make([]domain.Transaction, 0)
	err := q.Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "createdAt"}, Desc: true}).
		Find(&out).Error
	return out, err
}

func (r *repo) InsertTransaction(t *domain.Transaction) error {
	return translate(r.db.Create(t).Error, "transaction")
}

func (r *repo) SaveTransaction(t *domain.Transaction) error {
	return translate(r.db.Save(t).Error, "transaction")
}

func (r *repo) DeleteTransaction(id uuid.UUID) error {
	return r.db.Where("id = ?", id).Delete(&domain.Transaction{}).Error
}

func (r *repo) DeleteTransactionsForAsset(assetID uuid.UUID) error {
	return r.db.Where("asset_id = ? OR to_asset_id = ?", assetID, assetID).Delete(&domain.Transaction{}).Error
}

func (r *repo) PriceIDs() ([]string, error) {
	ids := make([]string, 0)
	err := r.db.Model(&domain.Asset{}).Distinct("price_id").Order("price_id ASC").Pluck("price_id", &ids).Error
	return ids, err
}
