// Package ledgertest holds the behavioural suite every ledger backend must pass.
package ledgertest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory builds a fresh, empty backend for one subtest.
type Factory func(t *testing.T) ledger.Backend

// Run exercises ledger.Store on top of the backend produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s *ledger.Store)
	}{
		{"CreatePortfolioNormalizesAddress", testCreatePortfolioNormalizesAddress},
		{"DuplicateWalletIsConflict", testDuplicateWalletIsConflict},
		{"CreateAssetMergesBySymbol", testCreateAssetMergesBySymbol},
		{"BuyThenSellKeepsAverage", testBuyThenSellKeepsAverage},
		{"OversellRejectedWithoutWrites", testOversellRejectedWithoutWrites},
		{"SwapMovesBothLegs", testSwapMovesBothLegs},
		{"DeleteTransactionReverses", testDeleteTransactionReverses},
		{"DeleteTransactionRejectsNegative", testDeleteTransactionRejectsNegative},
		{"UpdateAssetBalanceSynthesizesTransaction", testUpdateAssetBalanceSynthesizesTransaction},
		{"UpdateTransactionOnlyEditsNotesAndDate", testUpdateTransactionOnlyEditsNotesAndDate},
		{"PartialTransfer", testPartialTransfer},
		{"FullTransferDeletesSource", testFullTransferDeletesSource},
		{"TransferInsufficientBalance", testTransferInsufficientBalance},
		{"DeletePortfolioCascades", testDeletePortfolioCascades},
		{"DeleteAssetCascades", testDeleteAssetCascades},
		{"DeleteTransferDepositRestoresAverage", testDeleteTransferDepositRestoresAverage},
		{"ListPortfoliosByOwner", testListPortfoliosByOwner},
		{"PriceIDsDistinct", testPriceIDsDistinct},
		{"ConcurrentSellsNeverOverdraw", testConcurrentSellsNeverOverdraw},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := newBackend(t)
			t.Cleanup(func() { _ = b.Close() })
			tc.fn(t, ledger.NewStore(b))
		})
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ndec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func strPtr(s string) *string {
	return &s
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func manual(t *testing.T, s *ledger.Store, name string) *domain.Portfolio {
	t.Helper()
	p, err := s.CreatePortfolio(context.Background(), domain.NewPortfolio{Name: name, IncludeInSummary: true})
	require.NoError(t, err)
	return p
}

func holding(t *testing.T, s *ledger.Store, portfolioID uuid.UUID, symbol, balance string, avg decimal.NullDecimal) *domain.Asset {
	t.Helper()
	a, err := s.CreateAsset(context.Background(), domain.NewAsset{
		PortfolioID: portfolioID,
		Symbol:      symbol,
		PriceID:     symbol + "-id",
		Balance:     dec(balance),
		AvgBuyPrice: avg,
	})
	require.NoError(t, err)
	return a
}

func testCreatePortfolioNormalizesAddress(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	p, err := s.CreatePortfolio(ctx, domain.NewPortfolio{
		Name:          "Vitalik",
		WalletAddress: strPtr("0xD8dA6BF26964aF9D7eEd9e03E53415D37aA96045"),
		EnsName:       strPtr("vitalik.eth"),
	})
	require.NoError(t, err)
	require.NotNil(t, p.WalletAddress)
	assert.Equal(t, "0xd8da6bf26964af9d7eed9e03e53415d37aa96045", *p.WalletAddress)
	assert.True(t, p.IsEns)

	found, err := s.FindPortfolioByAddress(ctx, "0xD8DA6BF26964AF9D7EED9E03E53415D37AA96045")
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ID)

	_, err = s.CreatePortfolio(ctx, domain.NewPortfolio{Name: "bad", WalletAddress: strPtr("0x123")})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	_, err = s.CreatePortfolio(ctx, domain.NewPortfolio{Name: "   "})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func testDuplicateWalletIsConflict(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	addr := "0xab5801a7d398351b8be11c439e05c5b3259aec9b"
	_, err := s.CreatePortfolio(ctx, domain.NewPortfolio{Name: "one", WalletAddress: strPtr(addr)})
	require.NoError(t, err)
	_, err = s.CreatePortfolio(ctx, domain.NewPortfolio{Name: "two", WalletAddress: strPtr(addr)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func testCreateAssetMergesBySymbol(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	p := manual(t, s, "Main")
	first := holding(t, s, p.ID, "eth", "1", ndec("1000"))
	assert.Equal(t, "ETH", first.Symbol)

	second, err := s.CreateAsset(ctx, domain.NewAsset{
		PortfolioID: p.ID,
		Symbol:      "ETH",
		PriceID:     "ETH-id",
		Balance:     dec("1"),
		AvgBuyPrice: ndec("3000"),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assertDec(t, "2", second.Balance)
	require.True(t, second.AvgBuyPrice.Valid)
	assertDec(t, "2000", second.AvgBuyPrice.Decimal)

	assets, err := s.ListAssets(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, assets, 1)

	txs, err := s.ListTransactions(ctx, ledger.TxFilter{PortfolioIDs: []uuid.UUID{p.ID}})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func testBuyThenSellKeepsAverage(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	p := manual(t, s, "Main")
	a := holding(t, s, p.ID, "BTC", "0", decimal.NullDecimal{})

	_, err := s.CreateTransaction(ctx, domain.NewTransaction{AssetID: a.ID, Type: domain.TxBuy, Amount: dec("2"), Price: ndec("100")})
	require.NoError(t, err)
	_, err = s.CreateTransaction(ctx, domain.NewTransaction{AssetID: a.ID, Type: domain.TxBuy, Amount: dec("2"), Price: ndec("200")})
	require.NoError(t, err)
	tx, err := s.CreateTransaction(ctx, domain.NewTransaction{AssetID: a.ID, Type: domain.TxSell, Amount: dec("1"), Price: ndec("500")})
	require.NoError(t, err)
	assert.Equal(t, p.ID, tx.PortfolioID)
	assert.False(t, tx.Date.IsZero())

	got, err := s.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assertDec(t, "3", got.Balance)
	require.True(t, got.AvgBuyPrice.Valid)
	assertDec(t, "150", got.AvgBuyPrice.Decimal)
}

func testOversellRejectedWithoutWrites(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	p := manual(t, s, "Main")
	a := holding(t, s, p.ID, "SOL", "1", ndec("20"))

	_, err := s.CreateTransaction(ctx, domain.NewTransaction{AssetID: a.ID, Type: domain.TxSell, Amount: dec("1.01")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvariantViolation))

	got, err := s.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assertDec(t, "1", got.Balance)
	txs, err := s.ListTransactions(ctx, ledger.TxFilter{AssetID: &a.ID})
	require.NoError(t, err)
	assert.Empty(t, txs)

	_, err = s.CreateTransaction(ctx, domain.NewTransaction{AssetID: uuid.New(), Type: domain.TxBuy, Amount: dec("1")})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func testSwapMovesBothLegs(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	p := manual(t, s, "Main")
	eth := holding(t, s, p.ID, "ETH", "2", ndec("1500"))
	usdc := holding(t, s, p.ID, "USDC", "0", decimal.NullDecimal{})

	_, err := s.CreateTransaction(ctx, domain.NewTransaction{
		AssetID:   eth.ID,
		Type:      domain.TxSwap,
		Amount:    dec("0.5"),
		ToAssetID: &usdc.ID,
		ToAmount:  ndec("1000"),
		ToPrice:   ndec("1"),
	})
	require.NoError(t, err)

	gotEth, err := s.GetAsset(ctx, eth.ID)
	require.NoError(t, err)
	assertDec(t, "1.5", gotEth.Balance)
	assertDec(t, "1500", gotEth.AvgBuyPrice.Decimal)

	gotUsdc, err := s.GetAsset(ctx, usdc.ID)
	require.NoError(t, err)
	assertDec(t, "1000", gotUsdc.Balance)
	require.True(t, gotUsdc.AvgBuyPrice.Valid)
	assertDec(t, "1", gotUsdc.AvgBuyPrice.Decimal)

	byDest, err := s.ListTransactions(ctx, ledger.TxFilter{AssetID: &usdc.ID})
	require.NoError(t, err)
	assert.Len(t, byDest, 1)
}

func testDeleteTransactionReverses(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	p := manual(t, s, "Main")
	a := holding(t, s, p.ID, "ETH", "2", ndec("100"))

	buy, err := s.CreateTransaction(ctx, domain.NewTransaction{AssetID: a.ID, Type: domain.TxBuy, Amount: dec("2"), Price: ndec("200")})
	require.NoError(t, err)

	require.NoError(t, s.DeleteTransaction(ctx, buy.ID))

	got, err := s.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assertDec(t, "2", got.Balance)
	assertDec(t, "100", got.AvgBuyPrice.Decimal)

	_, err = s.GetTransaction(ctx, buy.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteTransaction(ctx, buy.ID), domain.ErrNotFound))
}

func testDeleteTransactionRejectsNegative(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	p := manual(t, s, "Main")
	a := holding(t, s, p.ID, "ETH", "0", decimal.NullDecimal{})

	dep, err := s.CreateTransaction(ctx, domain.NewTransaction{AssetID: a.ID, Type: domain.TxDeposit, Amount: dec("3")})
	require.NoError(t, err)
	_, err = s.CreateTransaction(ctx, domain.NewTransaction{AssetID: a.ID, Type: domain.TxSell, Amount: dec("2")})
	require.NoError(t, err)

	err = s.DeleteTransaction(ctx, dep.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvariantViolation))

	_, err = s.GetTransaction(ctx, dep.ID)
	assert.NoError(t, err)
	got, err := s.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assertDec(t, "1", got.Balance)
}

func testUpdateAssetBalanceSynthesizesTransaction(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	p := manual(t, s, "Main")
	a := holding(t, s, p.ID, "ETH", "2", ndec("100"))

	lower := dec("0.5")
	got, err := s.UpdateAsset(ctx, a.ID, domain.AssetUpdate{Balance: &lower, Name: strPtr("Ether")})
	require.NoError(t, err)
	assertDec(t, "0.5", got.Balance)
	assert.Equal(t, "Ether", got.Name)

	txs, err := s.ListTransactions(ctx, ledger.TxFilter{AssetID: &a.ID})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxSell, txs[0].Type)
	assertDec(t, "1.5", txs[0].Amount)
	require.NotNil(t, txs[0].Notes)
	assert.Equal(t, "balance adjustment", *txs[0].Notes)
	assert.Contains(t, string(txs[0].Meta), domain.SourceBalanceAdjustment)

	neg := dec("-1")
	_, err = s.UpdateAsset(ctx, a.ID, domain.AssetUpdate{Balance: &neg})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	holding(t, s, p.ID, "BTC", "1", decimal.NullDecimal{})
	_, err = s.UpdateAsset(ctx, a.ID, domain.AssetUpdate{Symbol: strPtr("btc")})
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func testUpdateTransactionOnlyEditsNotesAndDate(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	p := manual(t, s, "Main")
	a := holding(t, s, p.ID, "ETH", "0", decimal.NullDecimal{})
	tx, err := s.CreateTransaction(ctx, domain.NewTransaction{AssetID: a.ID, Type: domain.TxBuy, Amount: dec("1"), Price: ndec("10")})
	require.NoError(t, err)

	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	got, err := s.UpdateTransaction(ctx, tx.ID, domain.TransactionUpdate{Notes: strPtr("dca"), Date: &when})
	require.NoError(t, err)
	assert.Equal(t, "dca", *got.Notes)
	assert.True(t, when.Equal(got.Date))
	assertDec(t, "1", got.Amount)

	reread, err := s.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, when.Equal(reread.Date))

	asset, err := s.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assertDec(t, "1", asset.Balance)
}

func testPartialTransfer(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	from := manual(t, s, "Exchange")
	to := manual(t, s, "Cold")
	src := holding(t, s, from.ID, "ETH", "3", ndec("1000"))

	res, err := s.Transfer(ctx, domain.TransferRequest{
		SourceAssetID:     src.ID,
		TargetPortfolioID: to.ID,
		Amount:            dec("1"),
		LotPrice:          ndec("2500"),
	})
	require.NoError(t, err)
	assert.False(t, res.SourceDeleted)
	require.NotNil(t, res.Source)
	assertDec(t, "2", res.Source.Balance)
	require.NotNil(t, res.Withdraw)
	assert.Equal(t, domain.TxWithdraw, res.Withdraw.Type)
	assert.Equal(t, domain.TxDeposit, res.Deposit.Type)
	assert.Equal(t, to.ID, res.Destination.PortfolioID)
	assertDec(t, "1", res.Destination.Balance)
	assertDec(t, "2500", res.Destination.AvgBuyPrice.Decimal)

	// Balance is conserved across the two portfolios.
	all, err := s.ListAssetsForPortfolios(ctx, []uuid.UUID{from.ID, to.ID})
	require.NoError(t, err)
	total := decimal.Zero
	for _, a := range all {
		total = total.Add(a.Balance)
	}
	assertDec(t, "3", total)

	// Second transfer merges into the existing destination row.
	res, err = s.Transfer(ctx, domain.TransferRequest{SourceAssetID: src.ID, TargetPortfolioID: to.ID, Amount: dec("1"), LotPrice: ndec("3500")})
	require.NoError(t, err)
	assertDec(t, "2", res.Destination.Balance)
	assertDec(t, "3000", res.Destination.AvgBuyPrice.Decimal)

	destTxs, err := s.ListTransactions(ctx, ledger.TxFilter{PortfolioIDs: []uuid.UUID{to.ID}})
	require.NoError(t, err)
	assert.Len(t, destTxs, 2)
}

func testFullTransferDeletesSource(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	from := manual(t, s, "Exchange")
	to := manual(t, s, "Cold")
	src := holding(t, s, from.ID, "BTC", "0.25", ndec("40000"))

	res, err := s.Transfer(ctx, domain.TransferRequest{SourceAssetID: src.ID, TargetPortfolioID: to.ID, Amount: dec("0.25")})
	require.NoError(t, err)
	assert.True(t, res.SourceDeleted)
	assert.Nil(t, res.Source)
	assert.Nil(t, res.Withdraw)
	assert.False(t, res.Destination.AvgBuyPrice.Valid)

	_, err = s.GetAsset(ctx, src.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	srcTxs, err := s.ListTransactions(ctx, ledger.TxFilter{PortfolioIDs: []uuid.UUID{from.ID}})
	require.NoError(t, err)
	assert.Empty(t, srcTxs)
}

func testTransferInsufficientBalance(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	from := manual(t, s, "Exchange")
	to := manual(t, s, "Cold")
	src := holding(t, s, from.ID, "BTC", "1", decimal.NullDecimal{})

	_, err := s.Transfer(ctx, domain.TransferRequest{SourceAssetID: src.ID, TargetPortfolioID: to.ID, Amount: dec("2")})
	assert.True(t, errors.Is(err, domain.ErrInvariantViolation))

	_, err = s.Transfer(ctx, domain.TransferRequest{SourceAssetID: src.ID, TargetPortfolioID: from.ID, Amount: dec("1")})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	_, err = s.Transfer(ctx, domain.TransferRequest{SourceAssetID: src.ID, TargetPortfolioID: uuid.New(), Amount: dec("1")})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	dest, err := s.ListAssets(ctx, to.ID)
	require.NoError(t, err)
	assert.Empty(t, dest)
}

func testDeletePortfolioCascades(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	p := manual(t, s, "Main")
	a := holding(t, s, p.ID, "ETH", "0", decimal.NullDecimal{})
	_, err := s.CreateTransaction(ctx, domain.NewTransaction{AssetID: a.ID, Type: domain.TxBuy, Amount: dec("1")})
	require.NoError(t, err)

	require.NoError(t, s.DeletePortfolio(ctx, p.ID))

	_, err = s.GetPortfolio(ctx, p.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = s.GetAsset(ctx, a.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	txs, err := s.ListTransactions(ctx, ledger.TxFilter{AssetID: &a.ID})
	require.NoError(t, err)
	assert.Empty(t, txs)

	assert.True(t, errors.Is(s.DeletePortfolio(ctx, p.ID), domain.ErrNotFound))
}

func testDeleteAssetCascades(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	p := manual(t, s, "Main")
	eth := holding(t, s, p.ID, "ETH", "2", ndec("1500"))
	usdc := holding(t, s, p.ID, "USDC", "0", decimal.NullDecimal{})
	_, err := s.CreateTransaction(ctx, domain.NewTransaction{
		AssetID:   eth.ID,
		Type:      domain.TxSwap,
		Amount:    dec("0.5"),
		ToAssetID: &usdc.ID,
		ToAmount:  ndec("1000"),
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteAsset(ctx, usdc.ID))

	_, err = s.GetAsset(ctx, usdc.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	for _, id := range []uuid.UUID{eth.ID, usdc.ID} {
		txs, err := s.ListTransactions(ctx, ledger.TxFilter{AssetID: &id})
		require.NoError(t, err)
		assert.Empty(t, txs)
	}
	txs, err := s.ListTransactions(ctx, ledger.TxFilter{PortfolioIDs: []uuid.UUID{p.ID}})
	require.NoError(t, err)
	assert.Empty(t, txs)

	kept, err := s.GetAsset(ctx, eth.ID)
	require.NoError(t, err)
	assertDec(t, "1.5", kept.Balance)
}

func testDeleteTransferDepositRestoresAverage(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	from := manual(t, s, "Exchange")
	to := manual(t, s, "Cold")
	src := holding(t, s, from.ID, "ETH", "3", ndec("1000"))
	dst := holding(t, s, to.ID, "ETH", "1", ndec("1500"))

	res, err := s.Transfer(ctx, domain.TransferRequest{
		SourceAssetID:     src.ID,
		TargetPortfolioID: to.ID,
		Amount:            dec("1"),
		LotPrice:          ndec("2500"),
	})
	require.NoError(t, err)
	assert.Equal(t, dst.ID, res.Destination.ID)
	assertDec(t, "2000", res.Destination.AvgBuyPrice.Decimal)

	require.NoError(t, s.DeleteTransaction(ctx, res.Deposit.ID))

	got, err := s.GetAsset(ctx, dst.ID)
	require.NoError(t, err)
	assertDec(t, "1", got.Balance)
	require.True(t, got.AvgBuyPrice.Valid)
	assertDec(t, "1500", got.AvgBuyPrice.Decimal)
}

func testListPortfoliosByOwner(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	owner := uuid.New()
	_, err := s.CreatePortfolio(ctx, domain.NewPortfolio{Name: "mine", UserID: &owner})
	require.NoError(t, err)
	manual(t, s, "anon")

	mine, err := s.ListPortfolios(ctx, ledger.PortfolioFilter{UserID: &owner})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "mine", mine[0].Name)

	anon, err := s.ListPortfolios(ctx, ledger.PortfolioFilter{})
	require.NoError(t, err)
	require.Len(t, anon, 1)
	assert.Equal(t, "anon", anon[0].Name)

	all, err := s.ListPortfolios(ctx, ledger.PortfolioFilter{All: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	off := false
	upd, err := s.UpdatePortfolio(ctx, mine[0].ID, domain.PortfolioUpdate{Name: strPtr("renamed"), IncludeInSummary: &off})
	require.NoError(t, err)
	assert.Equal(t, "renamed", upd.Name)
	assert.False(t, upd.IncludeInSummary)
}

func testPriceIDsDistinct(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	a := manual(t, s, "A")
	b := manual(t, s, "B")
	holding(t, s, a.ID, "ETH", "1", decimal.NullDecimal{})
	holding(t, s, b.ID, "ETH", "1", decimal.NullDecimal{})
	holding(t, s, b.ID, "BTC", "1", decimal.NullDecimal{})

	ids, err := s.PriceIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ETH-id", "BTC-id"}, ids)
}

func testConcurrentSellsNeverOverdraw(t *testing.T, s *ledger.Store) {
	ctx := context.Background()
	p := manual(t, s, "Main")
	a := holding(t, s, p.ID, "ETH", "5", decimal.NullDecimal{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateTransaction(ctx, domain.NewTransaction{AssetID: a.ID, Type: domain.TxSell, Amount: dec("1")})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, domain.ErrInvariantViolation) || errors.Is(err, domain.ErrConflict), err.Error())
		}()
	}
	wg.Wait()

	got, err := s.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Balance.IsNegative())
	assertDec(t, decimal.NewFromInt(int64(5-succeeded)).String(), got.Balance)
	txs, err := s.ListTransactions(ctx, ledger.TxFilter{AssetID: &a.ID})
	require.NoError(t, err)
	assert.Len(t, txs, succeeded)
}
