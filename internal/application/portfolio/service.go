package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cryptofolio-backend/internal/application/valuation"
	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/ledger"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ChainReader resolves wallets and reads their balances.
type ChainReader interface {
	ResolveIdentity(ctx context.Context, nameOrAddress string) (domain.Identity, error)
	ReadBalances(ctx context.Context, address string) ([]domain.ChainBalance, error)
}

// HistoryStore records and reads portfolio value snapshots.
type HistoryStore interface {
	Record(ctx context.Context, key string, at time.Time, v decimal.Decimal) error
	Range(ctx context.Context, key string, from, to time.Time) ([]domain.ValuePoint, error)
	Delete(ctx context.Context, key string) error
}

// KeyFuncs name the history series of a portfolio and of an owner's summary.
type KeyFuncs struct {
	Portfolio func(id uuid.UUID) string
	Summary   func(userID *uuid.UUID) string
}

// Service runs the multi-step portfolio flows on top of the ledger.
type Service struct {
	store     *ledger.Store
	valuation *valuation.Service
	chain     ChainReader
	history   HistoryStore
	keys      KeyFuncs
	now       func() time.Time
}

func NewService(store *ledger.Store, val *valuation.Service, chain ChainReader, history HistoryStore, keys KeyFuncs) *Service {
	return &Service{
		store:     store,
		valuation: val,
		chain:     chain,
		history:   history,
		keys:      keys,
		now:       time.Now,
	}
}

// PortfolioView is a portfolio with its priced assets and overview.
type PortfolioView struct {
	Portfolio domain.Portfolio           `json:"portfolio"`
	Assets    []valuation.AssetWithPrice `json:"assets"`
	Overview  valuation.Overview         `json:"overview"`
}

// SummaryView aggregates every portfolio an owner includes in the summary.
type SummaryView struct {
	valuation.Overview
	PortfolioCount int `json:"portfolioCount"`
}

// TransactionView is the read model of a transaction with derived value and joined
// asset display fields.
type TransactionView struct {
	domain.Transaction
	Value         decimal.Decimal `json:"value"`
	AssetName     string          `json:"assetName"`
	AssetSymbol   string          `json:"assetSymbol"`
	AssetImageURL *string         `json:"assetImageUrl"`
	ToAssetSymbol *string         `json:"toAssetSymbol,omitempty"`
}

// WalletResult reports the portfolio a wallet connection landed on.
type WalletResult struct {
	Portfolio domain.Portfolio `json:"portfolio"`
	Created   bool             `json:"created"`
}

// ConnectWallet resolves identifier, reuses an existing portfolio for the address or
// creates one seeded with every allow-listed balance. Nothing is written when
// resolution or the balance read fails.
func (s *Service) ConnectWallet(ctx context.Context, identifier string, includeInSummary bool, userID *uuid.UUID) (*WalletResult, error) {
	identity, err := s.chain.ResolveIdentity(ctx, identifier)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.FindPortfolioByAddress(ctx, identity.Address)
	if err == nil {
		return &WalletResult{Portfolio: *existing}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	balances, err := s.chain.ReadBalances(ctx, identity.Address)
	if err != nil {
		return nil, err
	}
	holdings := make([]domain.NewAsset, 0, len(balances))
	for _, b := range balances {
		h := domain.NewAsset{
			Name:    b.Name,
			Symbol:  b.Symbol,
			PriceID: b.PriceID,
			Balance: b.Balance,
		}
		if b.ImageURL != "" {
			img := b.ImageURL
			h.ImageURL = &img
		}
		holdings = append(holdings, h)
	}

	in := domain.NewPortfolio{
		Name:             walletName(identity),
		UserID:           userID,
		WalletAddress:    &identity.Address,
		IncludeInSummary: includeInSummary,
	}
	if identity.DisplayName != "" {
		ens := identity.DisplayName
		in.EnsName = &ens
	}
	p, _, err := s.store.CreateWalletPortfolio(ctx, in, holdings)
	if errors.Is(err, domain.ErrConflict) {
		// a concurrent connect of the same wallet won the race
		if existing, ferr := s.store.FindPortfolioByAddress(ctx, identity.Address); ferr == nil {
			return &WalletResult{Portfolio: *existing}, nil
		}
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("portfolio_id", p.ID.String()).Str("address", identity.Address).Int("assets", len(holdings)).Msg("wallet connected")
	return &WalletResult{Portfolio: *p, Created: true}, nil
}

func walletName(id domain.Identity) string {
	if id.DisplayName != "" {
		return id.DisplayName
	}
	a := id.Address
	if len(a) < 10 {
		return "Wallet " + a
	}
	return fmt.Sprintf("Wallet %s...%s", a[:6], a[len(a)-4:])
}

// TransferAsset moves amount of an asset into another portfolio. The lot's cost basis
// is the current market price, falling back to the average buy price and then to zero. The price is
// fetched before anything is written, so an unavailable price source aborts cleanly.
func (s *Service) TransferAsset(ctx context.Context, assetID, targetPortfolioID uuid.UUID, amount decimal.Decimal) (*domain.TransferResult, error) {
	if !amount.IsPositive() {
		return nil, domain.Invalid("amount must be greater than zero")
	}
	src, err := s.store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(src.Balance) {
		return nil, domain.Invariant("insufficient balance: have %s, need %s", src.Balance.String(), amount.String())
	}
	if _, err := s.store.GetPortfolio(ctx, targetPortfolioID); err != nil {
		return nil, err
	}

	quote, ok, err := s.valuation.StrictQuote(ctx, src.PriceID)
	if err != nil {
		return nil, err
	}
	lot := decimal.NewNullDecimal(decimal.Zero)
	switch {
	case ok && quote.Price.IsPositive():
		lot = decimal.NewNullDecimal(quote.Price)
	case src.AvgBuyPrice.Valid && src.AvgBuyPrice.Decimal.IsPositive():
		lot = src.AvgBuyPrice
	}

	res, err := s.store.Transfer(ctx, domain.TransferRequest{
		SourceAssetID:     assetID,
		TargetPortfolioID: targetPortfolioID,
		Amount:            amount,
		LotPrice:          lot,
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("asset_id", assetID.String()).
		Str("target_portfolio_id", targetPortfolioID.String()).
		Str("amount", amount.String()).
		Bool("source_deleted", res.SourceDeleted).
		Msg("asset transferred")
	return res, nil
}

// Valued returns a portfolio with priced assets and its overview.
func (s *Service) Valued(ctx context.Context, portfolioID uuid.UUID) (*PortfolioView, error) {
	p, err := s.store.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	assets, err := s.store.ListAssets(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	priced := s.valuation.Value(ctx, assets)
	return &PortfolioView{
		Portfolio: *p,
		Assets:    priced,
		Overview:  valuation.Summarize(priced, s.now()),
	}, nil
}

// Overview values one portfolio.
func (s *Service) Overview(ctx context.Context, portfolioID uuid.UUID) (valuation.Overview, error) {
	assets, err := s.store.ListAssets(ctx, portfolioID)
	if err != nil {
		return valuation.Overview{}, err
	}
	return s.valuation.Overview(ctx, assets), nil
}

// Summary values every portfolio of userID that is included in the summary.
func (s *Service) Summary(ctx context.Context, userID *uuid.UUID) (*SummaryView, error) {
	ids, err := s.summaryPortfolios(ctx, userID)
	if err != nil {
		return nil, err
	}
	assets, err := s.store.ListAssetsForPortfolios(ctx, ids)
	if err != nil {
		return nil, err
	}
	return &SummaryView{Overview: s.valuation.Overview(ctx, assets), PortfolioCount: len(ids)}, nil
}

func (s *Service) summaryPortfolios(ctx context.Context, userID *uuid.UUID) ([]uuid.UUID, error) {
	ps, err := s.store.ListPortfolios(ctx, ledger.PortfolioFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(ps))
	for _, p := range ps {
		if p.IncludeInSummary {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

// TransactionViews lists a portfolio's transactions, newest first, with value = amount * price.
func (s *Service) TransactionViews(ctx context.Context, portfolioID uuid.UUID) ([]TransactionView, error) {
	if _, err := s.store.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, ledger.TxFilter{PortfolioIDs: []uuid.UUID{portfolioID}})
	if err != nil {
		return nil, err
	}
	assets, err := s.store.ListAssets(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]domain.Asset, len(assets))
	for _, a := range assets {
		byID[a.ID] = a
	}

	out := make([]TransactionView, 0, len(txs))
	for _, t := range txs {
		v := TransactionView{Transaction: t, Value: decimal.Zero}
		if t.Price.Valid {
			v.Value = t.Amount.Mul(t.Price.Decimal)
		}
		if a, ok := byID[t.AssetID]; ok {
			v.AssetName = a.Name
			v.AssetSymbol = a.Symbol
			v.AssetImageURL = a.ImageURL
		}
		if t.ToAssetID != nil {
			if a, ok := byID[*t.ToAssetID]; ok {
				sym := a.Symbol
				v.ToAssetSymbol = &sym
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// DeletePortfolio removes a portfolio with everything it owns and drops its history.
func (s *Service) DeletePortfolio(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeletePortfolio(ctx, id); err != nil {
		return err
	}
	if s.history != nil {
		if err := s.history.Delete(ctx, s.keys.Portfolio(id)); err != nil {
			log.Warn().Err(err).Str("portfolio_id", id.String()).Msg("could not drop portfolio history")
		}
	}
	return nil
}

// RecordValues stores one value snapshot per portfolio and per summary owner, priced
// with quotes. It is called after every price refresh.
func (s *Service) RecordValues(ctx context.Context, quotes map[string]domain.Quote, at time.Time) error {
	if s.history == nil {
		return nil
	}
	ps, err := s.store.ListPortfolios(ctx, ledger.PortfolioFilter{All: true})
	if err != nil {
		return err
	}
	if len(ps) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	assets, err := s.store.ListAssetsForPortfolios(ctx, ids)
	if err != nil {
		return err
	}
	byPortfolio := make(map[uuid.UUID][]domain.Asset, len(ps))
	for _, a := range assets {
		byPortfolio[a.PortfolioID] = append(byPortfolio[a.PortfolioID], a)
	}

	summaries := make(map[string]decimal.Decimal)
	for _, p := range ps {
		total := valuation.Summarize(valuation.PriceAssets(byPortfolio[p.ID], quotes), at).TotalValue
		if err := s.history.Record(ctx, s.keys.Portfolio(p.ID), at, total); err != nil {
			return err
		}
		if !p.IncludeInSummary {
			continue
		}
		key := s.keys.Summary(p.UserID)
		summaries[key] = summaries[key].Add(total)
	}
	for key, total := range summaries {
		if err := s.history.Record(ctx, key, at, total); err != nil {
			return err
		}
	}
	return nil
}
