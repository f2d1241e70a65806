package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/ledger"
	"cryptofolio-backend/internal/ledger/ledgertest"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreOnMemory(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Backend { return New() })
}

func TestUpdateRollsBackOnError(t *testing.T) {
	b := New()
	ctx := context.Background()
	p := domain.Portfolio{ID: uuid.New(), Name: "kept"}
	require.NoError(t, b.Update(ctx, func(r ledger.Repo) error { return r.InsertPortfolio(&p) }))

	boom := errors.New("boom")
	err := b.Update(ctx, func(r ledger.Repo) error {
		q := domain.Portfolio{ID: uuid.New(), Name: "dropped"}
		if err := r.InsertPortfolio(&q); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, b.View(ctx, func(r ledger.Repo) error {
		ps, err := r.ListPortfolios(ledger.PortfolioFilter{All: true})
		n = len(ps)
		return err
	}))
	assert.Equal(t, 1, n)
}

func TestViewIsReadOnly(t *testing.T) {
	b := New()
	err := b.View(context.Background(), func(r ledger.Repo) error {
		return r.InsertPortfolio(&domain.Portfolio{ID: uuid.New(), Name: "x"})
	})
	assert.Error(t, err)
}

func TestReturnedRowsAreCopies(t *testing.T) {
	b := New()
	ctx := context.Background()
	p := domain.Portfolio{ID: uuid.New(), Name: "orig"}
	require.NoError(t, b.Update(ctx, func(r ledger.Repo) error { return r.InsertPortfolio(&p) }))

	require.NoError(t, b.View(ctx, func(r ledger.Repo) error {
		got, err := r.GetPortfolio(p.ID)
		if err != nil {
			return err
		}
		got.Name = "mutated"
		return nil
	}))
	require.NoError(t, b.View(ctx, func(r ledger.Repo) error {
		got, err := r.GetPortfolio(p.ID)
		require.NoError(t, err)
		assert.Equal(t, "orig", got.Name)
		return nil
	}))
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, New().Ping(ctx), context.Canceled)
}

// replayOnce rolls back the first unit of work and runs it again, the way the SQL
// backend does after a serialization failure.
type replayOnce struct {
	ledger.Backend
	between func()
	replayed bool
}

var errReplay = errors.New("replay")

func (b *replayOnce) Update(ctx context.Context, fn func(ledger.Repo) error) error {
	if !b.replayed {
		b.replayed = true
		err := b.Backend.Update(ctx, func(r ledger.Repo) error {
			if err := fn(r); err != nil {
				return err
			}
			return errReplay
		})
		if !errors.Is(err, errReplay) {
			return err
		}
		b.between()
	}
	return b.Backend.Update(ctx, fn)
}

func TestTransferResultReflectsOnlyTheCommittedAttempt(t *testing.T) {
	ctx := context.Background()
	b := &replayOnce{Backend: New(), replayed: true}
	s := ledger.NewStore(b)

	from, err := s.CreatePortfolio(ctx, domain.NewPortfolio{Name: "Exchange"})
	require.NoError(t, err)
	to, err := s.CreatePortfolio(ctx, domain.NewPortfolio{Name: "Cold"})
	require.NoError(t, err)
	src, err := s.CreateAsset(ctx, domain.NewAsset{PortfolioID: from.ID, Symbol: "eth", PriceID: "ethereum", Balance: decimal.NewFromInt(3)})
	require.NoError(t, err)

	// First attempt sees 3 and leaves a remainder. Before the replay the balance
	// drops to 1, so the committed attempt drains the source.
	b.replayed = false
	b.between = func() {
		_, err := s.CreateTransaction(ctx, domain.NewTransaction{AssetID: src.ID, Type: domain.TxSell, Amount: decimal.NewFromInt(2)})
		require.NoError(t, err)
	}

	res, err := s.Transfer(ctx, domain.TransferRequest{
		SourceAssetID:     src.ID,
		TargetPortfolioID: to.ID,
		Amount:            decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.True(t, res.SourceDeleted)
	assert.Nil(t, res.Source)
	assert.Nil(t, res.Withdraw)
	assert.True(t, res.Destination.Balance.Equal(decimal.NewFromInt(1)))
}

func TestDefaultTransactionDateUsesStoreClock(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := ledger.NewStore(New()).WithClock(func() time.Time { return at })
	ctx := context.Background()

	p, err := s.CreatePortfolio(ctx, domain.NewPortfolio{Name: "clock"})
	require.NoError(t, err)
	a, err := s.CreateAsset(ctx, domain.NewAsset{PortfolioID: p.ID, Symbol: "btc", PriceID: "bitcoin"})
	require.NoError(t, err)

	tx, err := s.CreateTransaction(ctx, domain.NewTransaction{
		AssetID: a.ID,
		Type:    domain.TxBuy,
		Amount:  decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.True(t, tx.Date.Equal(at))
}
