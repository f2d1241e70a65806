package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/infrastructure/database"
	"cryptofolio-backend/internal/ledger"
	"cryptofolio-backend/internal/ledger/ledgertest"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteBackend(t *testing.T) ledger.Backend {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return New(db)
}

func TestStoreOnSQLite(t *testing.T) {
	ledgertest.Run(t, newSQLiteBackend)
}

func TestDecimalsRoundTripExactly(t *testing.T) {
	b := newSQLiteBackend(t)
	s := ledger.NewStore(b)
	ctx := context.Background()

	p, err := s.CreatePortfolio(ctx, domain.NewPortfolio{Name: "precise"})
	require.NoError(t, err)
	a, err := s.CreateAsset(ctx, domain.NewAsset{
		PortfolioID: p.ID,
		Symbol:      "WBTC",
		PriceID:     "wrapped-bitcoin",
		Balance:     decimal.RequireFromString("0.123456789012345678"),
		AvgBuyPrice: decimal.NewNullDecimal(decimal.RequireFromString("61234.56")),
	})
	require.NoError(t, err)

	got, err := s.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.123456789012345678", got.Balance.String())
	assert.Equal(t, "61234.56", got.AvgBuyPrice.Decimal.String())
}

func TestUniqueSymbolIsConflict(t *testing.T) {
	b := newSQLiteBackend(t)
	ctx := context.Background()
	pid := uuid.New()
	require.NoError(t, b.Update(ctx, func(r ledger.Repo) error {
		return r.InsertPortfolio(&domain.Portfolio{ID: pid, Name: "p", IncludeInSummary: true})
	}))
	require.NoError(t, b.Update(ctx, func(r ledger.Repo) error {
		return r.InsertAsset(&domain.Asset{ID: uuid.New(), PortfolioID: pid, Symbol: "ETH", Name: "Ether", PriceID: "ethereum"})
	}))

	err := b.Update(ctx, func(r ledger.Repo) error {
		return r.InsertAsset(&domain.Asset{ID: uuid.New(), PortfolioID: pid, Symbol: "ETH", Name: "Ether", PriceID: "ethereum"})
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestUpdateRollsBack(t *testing.T) {
	b := newSQLiteBackend(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := b.Update(ctx, func(r ledger.Repo) error {
		if err := r.InsertPortfolio(&domain.Portfolio{ID: uuid.New(), Name: "dropped"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, b.View(ctx, func(r ledger.Repo) error {
		ps, err := r.ListPortfolios(ledger.PortfolioFilter{All: true})
		require.NoError(t, err)
		assert.Empty(t, ps)
		return nil
	}))
}

func TestUpdateRetriesSerializationFailures(t *testing.T) {
	b := newSQLiteBackend(t).(*Backend)
	ctx := context.Background()

	calls := 0
	err := b.Update(ctx, func(r ledger.Repo) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: codeSerializationFailure, Message: "could not serialize access"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = b.Update(ctx, func(r ledger.Repo) error {
		calls++
		return fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: codeDeadlockDetected})
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.Equal(t, defaultMaxAttempts, calls)
	assert.True(t, domain.KindOf(err) == domain.KindConflict)
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&pgconn.PgError{Code: codeUniqueViolation}))
	assert.False(t, retryable(&pgconn.PgError{Code: "22P02"}))
	assert.True(t, retryable(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, retryable(domain.Invariant("insufficient balance")))
}
