package portfolio

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"cryptofolio-backend/internal/application/valuation"
	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/infrastructure/history"
	"cryptofolio-backend/internal/ledger"
	"cryptofolio-backend/internal/ledger/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vitalik = "0xd8da6bf26964af9d7eed9e03e53415d37aa96045"

type fakeChain struct {
	identity domain.Identity
	balances []domain.ChainBalance
	err      error
	reads    int
}

func (f *fakeChain) ResolveIdentity(ctx context.Context, nameOrAddress string) (domain.Identity, error) {
	if f.err != nil {
		return domain.Identity{}, f.err
	}
	return f.identity, nil
}

func (f *fakeChain) ReadBalances(ctx context.Context, address string) ([]domain.ChainBalance, error) {
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	return f.balances, nil
}

type fakeQuotes struct {
	quotes map[string]domain.Quote
	err    error
}

func (f *fakeQuotes) Quotes(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]domain.Quote)
	for _, id := range ids {
		if q, ok := f.quotes[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

type fixture struct {
	svc    *Service
	store  *ledger.Store
	chain  *fakeChain
	quotes *fakeQuotes
	mr     *miniredis.Miniredis
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		store:  ledger.NewStore(memory.New()),
		chain:  &fakeChain{},
		quotes: &fakeQuotes{quotes: map[string]domain.Quote{}},
		mr:     mr,
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	keys := KeyFuncs{Portfolio: history.PortfolioKey, Summary: history.SummaryKey}
	f.svc = NewService(f.store, valuation.NewService(f.quotes, 0), f.chain, history.New(rdb), keys)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) quote(id, price string) {
	f.quotes.quotes[id] = domain.Quote{ID: id, Price: d(price), PercentChange24h: decimal.Zero}
}

func (f *fixture) portfolio(t *testing.T, name string, include bool) *domain.Portfolio {
	t.Helper()
	p, err := f.store.CreatePortfolio(context.Background(), domain.NewPortfolio{Name: name, IncludeInSummary: include})
	require.NoError(t, err)
	return p
}

func (f *fixture) asset(t *testing.T, portfolioID uuid.UUID, symbol, priceID, balance, avg string) *domain.Asset {
	t.Helper()
	in := domain.NewAsset{PortfolioID: portfolioID, Symbol: symbol, PriceID: priceID, Balance: d(balance)}
	if avg != "" {
		in.AvgBuyPrice = decimal.NewNullDecimal(d(avg))
	}
	a, err := f.store.CreateAsset(context.Background(), in)
	require.NoError(t, err)
	return a
}

func TestConnectWalletCreatesThenReuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.chain.identity = domain.Identity{Address: vitalik, DisplayName: "vitalik.eth"}
	f.chain.balances = []domain.ChainBalance{
		{AssetKey: "native", Symbol: "ETH", Name: "Ethereum", PriceID: "ethereum", Balance: d("2")},
		{AssetKey: "0xa0b8", Symbol: "USDC", Name: "USD Coin", PriceID: "usd-coin", Balance: d("0")},
	}

	res, err := f.svc.ConnectWallet(ctx, "vitalik.eth", true, nil)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "vitalik.eth", res.Portfolio.Name)
	assert.True(t, res.Portfolio.IsEns)
	require.NotNil(t, res.Portfolio.EnsName)

	assets, err := f.store.ListAssets(ctx, res.Portfolio.ID)
	require.NoError(t, err)
	require.Len(t, assets, 2)

	again, err := f.svc.ConnectWallet(ctx, vitalik, false, nil)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, res.Portfolio.ID, again.Portfolio.ID)
	assert.Equal(t, 1, f.chain.reads)
}

func TestConnectWalletNamesRawAddress(t *testing.T) {
	f := newFixture(t)
	f.chain.identity = domain.Identity{Address: vitalik}

	res, err := f.svc.ConnectWallet(context.Background(), vitalik, true, nil)
	require.NoError(t, err)
	assert.Equal(t, "Wallet 0xd8da...6045", res.Portfolio.Name)
}

func TestConnectWalletFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.chain.err = domain.Upstream("rpc down", errors.New("502"))

	_, err := f.svc.ConnectWallet(ctx, vitalik, true, nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamUnavailable, domain.KindOf(err))

	ps, err := f.store.ListPortfolios(ctx, ledger.PortfolioFilter{All: true})
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestTransferAssetUsesMarketPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.portfolio(t, "Main", true)
	dst := f.portfolio(t, "Cold", true)
	a := f.asset(t, src.ID, "BTC", "bitcoin", "2", "20000")
	f.quote("bitcoin", "60000")

	res, err := f.svc.TransferAsset(ctx, a.ID, dst.ID, d("0.5"))
	require.NoError(t, err)
	assert.False(t, res.SourceDeleted)
	require.True(t, res.Destination.AvgBuyPrice.Valid)
	assert.True(t, res.Destination.AvgBuyPrice.Decimal.Equal(d("60000")))
	assert.True(t, res.Source.Balance.Equal(d("1.5")))
}

func TestTransferAssetFallsBackToAverage(t *testing.T) {
	f := newFixture(t)
	src := f.portfolio(t, "Main", true)
	dst := f.portfolio(t, "Cold", true)
	a := f.asset(t, src.ID, "BTC", "bitcoin", "2", "20000")

	res, err := f.svc.TransferAsset(context.Background(), a.ID, dst.ID, d("2"))
	require.NoError(t, err)
	assert.True(t, res.SourceDeleted)
	assert.True(t, res.Destination.AvgBuyPrice.Decimal.Equal(d("20000")))
}

func TestTransferAssetWithoutPriceOrAverageCostsZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.portfolio(t, "Main", true)
	dst := f.portfolio(t, "Cold", true)
	a := f.asset(t, src.ID, "SYM", "no-such-coin", "10", "")

	res, err := f.svc.TransferAsset(ctx, a.ID, dst.ID, d("4"))
	require.NoError(t, err)
	require.True(t, res.Destination.AvgBuyPrice.Valid)
	assert.True(t, res.Destination.AvgBuyPrice.Decimal.IsZero())
	assert.True(t, res.Destination.Balance.Equal(d("4")))
	require.True(t, res.Deposit.Price.Valid)
	assert.True(t, res.Deposit.Price.Decimal.IsZero())

	left, err := f.store.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, left.Balance.Equal(d("6")))
	assert.False(t, left.AvgBuyPrice.Valid)
}

func TestTransferAssetPriceFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.portfolio(t, "Main", true)
	dst := f.portfolio(t, "Cold", true)
	a := f.asset(t, src.ID, "BTC", "bitcoin", "2", "20000")
	f.quotes.err = domain.Upstream("rate limited", errors.New("429"))

	_, err := f.svc.TransferAsset(ctx, a.ID, dst.ID, d("1"))
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamUnavailable, domain.KindOf(err))
	assert.False(t, domain.WasApplied(err))

	got, err := f.store.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(d("2")))
	dstAssets, err := f.store.ListAssets(ctx, dst.ID)
	require.NoError(t, err)
	assert.Empty(t, dstAssets)
}

func TestTransferAssetValidation(t *testing.T) {
	f := newFixture(t)
	src := f.portfolio(t, "Main", true)
	dst := f.portfolio(t, "Cold", true)
	a := f.asset(t, src.ID, "BTC", "bitcoin", "1", "")

	_, err := f.svc.TransferAsset(context.Background(), a.ID, dst.ID, d("0"))
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))

	_, err = f.svc.TransferAsset(context.Background(), a.ID, dst.ID, d("3"))
	assert.Equal(t, domain.KindInvariantViolation, domain.KindOf(err))

	_, err = f.svc.TransferAsset(context.Background(), a.ID, uuid.New(), d("1"))
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestSummaryHonoursIncludeFlag(t *testing.T) {
	f := newFixture(t)
	in := f.portfolio(t, "Included", true)
	out := f.portfolio(t, "Excluded", false)
	f.asset(t, in.ID, "ETH", "ethereum", "2", "")
	f.asset(t, out.ID, "ETH", "ethereum", "5", "")
	f.quote("ethereum", "3000")

	sum, err := f.svc.Summary(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.PortfolioCount)
	assert.True(t, sum.TotalValue.Equal(d("6000")))
}

func TestValuedAndTransactionViews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.portfolio(t, "Main", true)
	a := f.asset(t, p.ID, "ETH", "ethereum", "0", "")
	f.quote("ethereum", "3000")

	_, err := f.store.CreateTransaction(ctx, domain.NewTransaction{
		AssetID: a.ID,
		Type:    domain.TxBuy,
		Amount:  d("2"),
		Price:   decimal.NewNullDecimal(d("1500")),
	})
	require.NoError(t, err)

	view, err := f.svc.Valued(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, view.Assets, 1)
	assert.True(t, view.Overview.TotalValue.Equal(d("6000")))
	assert.True(t, view.Assets[0].ProfitLoss.Equal(d("3000")))

	txs, err := f.svc.TransactionViews(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Value.Equal(d("3000")))
	assert.Equal(t, "ETH", txs[0].AssetSymbol)

	_, err = f.svc.TransactionViews(ctx, uuid.New())
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestRecordValuesFeedsChart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.portfolio(t, "Main", true)
	f.asset(t, p.ID, "ETH", "ethereum", "1", "")

	for i, price := range []string{"1000", "1100", "1200"} {
		at := f.now.Add(time.Duration(i-2) * time.Hour)
		quotes := map[string]domain.Quote{"ethereum": {ID: "ethereum", Price: d(price)}}
		require.NoError(t, f.svc.RecordValues(ctx, quotes, at))
	}
	f.quote("ethereum", "1200")

	series, err := f.svc.ChartSeries(ctx, "24h", &p.ID, nil)
	require.NoError(t, err)
	assert.False(t, series.Synthetic)
	pts := slices.Collect(series.Points)
	require.Len(t, pts, 3)
	assert.True(t, pts[0].Value.Equal(d("1000")))

	summary, err := f.svc.ChartSeries(ctx, "24h", nil, nil)
	require.NoError(t, err)
	assert.False(t, summary.Synthetic)
	assert.Len(t, slices.Collect(summary.Points), 3)
}

func TestChartSeriesSimulatesWithoutHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.portfolio(t, "Main", true)
	f.asset(t, p.ID, "ETH", "ethereum", "2", "")
	f.quote("ethereum", "3000")

	series, err := f.svc.ChartSeries(ctx, "7d", &p.ID, nil)
	require.NoError(t, err)
	assert.True(t, series.Synthetic)
	first := slices.Collect(series.Points)
	second := slices.Collect(series.Points)
	require.Len(t, first, 28)
	assert.Equal(t, first, second)

	last := first[len(first)-1]
	assert.True(t, last.Value.Equal(d("6000")))
	assert.True(t, last.Timestamp.Equal(f.now))
	for i, pt := range first {
		assert.False(t, pt.Value.IsNegative())
		if i > 0 {
			assert.Equal(t, 6*time.Hour, pt.Timestamp.Sub(first[i-1].Timestamp))
		}
	}
}

func TestChartSeriesRejectsUnknownTimeframe(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ChartSeries(context.Background(), "5m", nil, nil)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestSimulateZeroValueIsFlat(t *testing.T) {
	tf, err := ParseTimeframe("30d")
	require.NoError(t, err)
	for pt := range Simulate(tf, decimal.Zero, time.Now(), 7) {
		assert.True(t, pt.Value.IsZero())
	}
}

func TestDeletePortfolioDropsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.portfolio(t, "Main", true)
	require.NoError(t, f.svc.RecordValues(ctx, nil, f.now))
	assert.True(t, f.mr.Exists(history.PortfolioKey(p.ID)))

	require.NoError(t, f.svc.DeletePortfolio(ctx, p.ID))
	assert.False(t, f.mr.Exists(history.PortfolioKey(p.ID)))
	_, err := f.store.GetPortfolio(ctx, p.ID)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}
