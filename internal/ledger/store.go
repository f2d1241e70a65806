package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const balanceAdjustmentNote = "balance adjustment"

// Store owns portfolios, assets and transactions and keeps balances and cost
// basis consistent with the transaction log. Every mutation runs as one unit of
// work on the configured Backend.
type Store struct {
	backend Backend
	now     func() time.Time
}

// NewStore wraps a Backend.
func NewStore(b Backend) *Store {
	return &Store{backend: b, now: time.Now}
}

// WithClock replaces the clock used for defaulted transaction dates.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Ping checks the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// ---- portfolios ----

// CreatePortfolio persists a new portfolio. A wallet address is lower-cased and marks
// the portfolio as wallet-derived; an address already in use is a conflict.
func (s *Store) CreatePortfolio(ctx context.Context, in domain.NewPortfolio) (*domain.Portfolio, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.Invalid("portfolio name is required")
	}
	p := domain.Portfolio{
		ID:               uuid.New(),
		Name:             name,
		UserID:           in.UserID,
		IncludeInSummary: in.IncludeInSummary,
	}
	if in.WalletAddress != nil {
		addr := domain.NormalizeAddress(*in.WalletAddress)
		if !validation.IsHexAddress(addr) {
			return nil, domain.Invalid("malformed wallet address %q", *in.WalletAddress)
		}
		p.WalletAddress = &addr
		p.IsEns = true
		p.EnsName = in.EnsName
	}

	err := s.backend.Update(ctx, func(r Repo) error {
		if p.WalletAddress != nil {
			_, err := r.FindPortfolioByAddress(*p.WalletAddress)
			if err == nil {
				return domain.Conflict("wallet address already connected", nil)
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}
		return r.InsertPortfolio(&p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateWalletPortfolio creates a wallet portfolio and seeds it with the given holdings
// in one unit of work, so a failure leaves no portfolio behind.
func (s *Store) CreateWalletPortfolio(ctx context.Context, in domain.NewPortfolio, holdings []domain.NewAsset) (*domain.Portfolio, []domain.Asset, error) {
	if in.WalletAddress == nil {
		return nil, nil, domain.Invalid("wallet address is required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, domain.Invalid("portfolio name is required")
	}
	addr := domain.NormalizeAddress(*in.WalletAddress)
	if !validation.IsHexAddress(addr) {
		return nil, nil, domain.Invalid("malformed wallet address %q", *in.WalletAddress)
	}
	p := domain.Portfolio{
		ID:               uuid.New(),
		Name:             name,
		UserID:           in.UserID,
		WalletAddress:    &addr,
		IsEns:            true,
		EnsName:          in.EnsName,
		IncludeInSummary: in.IncludeInSummary,
	}

	var assets []domain.Asset
	err := s.backend.Update(ctx, func(r Repo) error {
		assets = assets[:0]
		_, err := r.FindPortfolioByAddress(addr)
		if err == nil {
			return domain.Conflict("wallet address already connected", nil)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := r.InsertPortfolio(&p); err != nil {
			return err
		}
		for _, h := range holdings {
			symbol := domain.NormalizeSymbol(h.Symbol)
			if symbol == "" || h.Balance.IsNegative() {
				return domain.Invalid("invalid holding %q", h.Symbol)
			}
			a, err := mergeAsset(r, p.ID, domain.Asset{
				Name:     h.Name,
				Symbol:   symbol,
				PriceID:  h.PriceID,
				ImageURL: h.ImageURL,
			}, h.Balance, h.AvgBuyPrice)
			if err != nil {
				return err
			}
			assets = append(assets, *a)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &p, assets, nil
}

func (s *Store) GetPortfolio(ctx context.Context, id uuid.UUID) (*domain.Portfolio, error) {
	var out *domain.Portfolio
	err := s.backend.View(ctx, func(r Repo) error {
		p, err := r.GetPortfolio(id)
		out = p
		return err
	})
	return out, err
}

// FindPortfolioByAddress looks a wallet portfolio up case-insensitively.
func (s *Store) FindPortfolioByAddress(ctx context.Context, address string) (*domain.Portfolio, error) {
	var out *domain.Portfolio
	err := s.backend.View(ctx, func(r Repo) error {
		p, err := r.FindPortfolioByAddress(domain.NormalizeAddress(address))
		out = p
		return err
	})
	return out, err
}

func (s *Store) ListPortfolios(ctx context.Context, filter PortfolioFilter) ([]domain.Portfolio, error) {
	var out []domain.Portfolio
	err := s.backend.View(ctx, func(r Repo) error {
		ps, err := r.ListPortfolios(filter)
		out = ps
		return err
	})
	return out, err
}

// UpdatePortfolio renames a portfolio or toggles its summary inclusion.
func (s *Store) UpdatePortfolio(ctx context.Context, id uuid.UUID, upd domain.PortfolioUpdate) (*domain.Portfolio, error) {
	var name string
	if upd.Name != nil {
		name = strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, domain.Invalid("portfolio name is required")
		}
	}
	var out *domain.Portfolio
	err := s.backend.Update(ctx, func(r Repo) error {
		p, err := r.GetPortfolio(id)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			p.Name = name
		}
		if upd.IncludeInSummary != nil {
			p.IncludeInSummary = *upd.IncludeInSummary
		}
		if err := r.SavePortfolio(p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// DeletePortfolio removes a portfolio with every asset and transaction it owns.
func (s *Store) DeletePortfolio(ctx context.Context, id uuid.UUID) error {
	return s.backend.Update(ctx, func(r Repo) error {
		if _, err := r.GetPortfolio(id); err != nil {
			return err
		}
		assets, err := r.ListAssets([]uuid.UUID{id})
		if err != nil {
			return err
		}
		for _, a := range assets {
			if err := deleteAsset(r, a.ID); err != nil {
				return err
			}
		}
		txs, err := r.ListTransactions(TxFilter{PortfolioIDs: []uuid.UUID{id}})
		if err != nil {
			return err
		}
		for _, t := range txs {
			if err := r.DeleteTransaction(t.ID); err != nil {
				return err
			}
		}
		return r.DeletePortfolio(id)
	})
}

// ---- assets ----

// CreateAsset adds a holding. When the portfolio already holds the symbol the balance
// is merged into the existing row, so calling it twice with the same amount doubles
// the balance. A priced lot is folded into the cost basis.
func (s *Store) CreateAsset(ctx context.Context, in domain.NewAsset) (*domain.Asset, error) {
	symbol := domain.NormalizeSymbol(in.Symbol)
	if in.PortfolioID == uuid.Nil {
		return nil, domain.Invalid("portfolioId is required")
	}
	if symbol == "" {
		return nil, domain.Invalid("symbol is required")
	}
	priceID := strings.TrimSpace(in.PriceID)
	if priceID == "" {
		return nil, domain.Invalid("priceId is required")
	}
	if in.Balance.IsNegative() {
		return nil, domain.Invalid("balance must not be negative")
	}
	if in.AvgBuyPrice.Valid && in.AvgBuyPrice.Decimal.IsNegative() {
		return nil, domain.Invalid("avgBuyPrice must not be negative")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = symbol
	}

	var out *domain.Asset
	err := s.backend.Update(ctx, func(r Repo) error {
		if _, err := r.GetPortfolio(in.PortfolioID); err != nil {
			return err
		}
		a, err := mergeAsset(r, in.PortfolioID, domain.Asset{
			Name:     name,
			Symbol:   symbol,
			PriceID:  priceID,
			ImageURL: in.ImageURL,
		}, in.Balance, in.AvgBuyPrice)
		out = a
		return err
	})
	return out, err
}

// mergeAsset credits amount to the portfolio's row for proto.Symbol, creating it if needed.
func mergeAsset(r Repo, portfolioID uuid.UUID, proto domain.Asset, amount decimal.Decimal, lotPrice decimal.NullDecimal) (*domain.Asset, error) {
	existing, err := r.FindAssetBySymbol(portfolioID, proto.Symbol)
	switch {
	case err == nil:
		h := HoldingOf(existing)
		if lotPrice.Valid && amount.IsPositive() {
			h.AvgBuyPrice = WeightedAverage(h, amount, lotPrice.Decimal)
		}
		h.Balance = h.Balance.Add(amount)
		h.Set(existing)
		if existing.ImageURL == nil {
			existing.ImageURL = proto.ImageURL
		}
		if err := r.SaveAsset(existing); err != nil {
			return nil, err
		}
		return existing, nil
	case errors.Is(err, domain.ErrNotFound):
		a := proto
		a.ID = uuid.New()
		a.PortfolioID = portfolioID
		a.Balance = amount
		a.AvgBuyPrice = lotPrice
		if err := r.InsertAsset(&a); err != nil {
			return nil, err
		}
		return &a, nil
	default:
		return nil, err
	}
}

func (s *Store) GetAsset(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	var out *domain.Asset
	err := s.backend.View(ctx, func(r Repo) error {
		a, err := r.GetAsset(id)
		out = a
		return err
	})
	return out, err
}

// ListAssets returns the assets of one portfolio.
func (s *Store) ListAssets(ctx context.Context, portfolioID uuid.UUID) ([]domain.Asset, error) {
	var out []domain.Asset
	err := s.backend.View(ctx, func(r Repo) error {
		if _, err := r.GetPortfolio(portfolioID); err != nil {
			return err
		}
		as, err := r.ListAssets([]uuid.UUID{portfolioID})
		out = as
		return err
	})
	return out, err
}

// ListAssetsForPortfolios returns the assets of several portfolios in one read.
func (s *Store) ListAssetsForPortfolios(ctx context.Context, portfolioIDs []uuid.UUID) ([]domain.Asset, error) {
	if len(portfolioIDs) == 0 {
		return []domain.Asset{}, nil
	}
	var out []domain.Asset
	err := s.backend.View(ctx, func(r Repo) error {
		as, err := r.ListAssets(portfolioIDs)
		out = as
		return err
	})
	return out, err
}

// UpdateAsset edits an asset. A balance change is explained by a synthesized buy
// (increase) or sell (decrease) priced at the current average buy price, so the
// transaction log keeps accounting for every balance movement.
func (s *Store) UpdateAsset(ctx context.Context, id uuid.UUID, upd domain.AssetUpdate) (*domain.Asset, error) {
	if upd.Balance != nil && upd.Balance.IsNegative() {
		return nil, domain.Invalid("balance must not be negative")
	}
	if upd.AvgBuyPrice != nil && upd.AvgBuyPrice.Valid && upd.AvgBuyPrice.Decimal.IsNegative() {
		return nil, domain.Invalid("avgBuyPrice must not be negative")
	}
	var out *domain.Asset
	err := s.backend.Update(ctx, func(r Repo) error {
		a, err := r.GetAsset(id)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			if n := strings.TrimSpace(*upd.Name); n != "" {
				a.Name = n
			}
		}
		if upd.Symbol != nil {
			sym := domain.NormalizeSymbol(*upd.Symbol)
			if sym == "" {
				return domain.Invalid("symbol must not be empty")
			}
			if sym != a.Symbol {
				other, err := r.FindAssetBySymbol(a.PortfolioID, sym)
				if err == nil && other.ID != a.ID {
					return domain.Conflict("portfolio already holds "+sym, nil)
				}
				if err != nil && !errors.Is(err, domain.ErrNotFound) {
					return err
				}
				a.Symbol = sym
			}
		}
		if upd.PriceID != nil {
			if p := strings.TrimSpace(*upd.PriceID); p != "" {
				a.PriceID = p
			}
		}
		if upd.ImageURL != nil {
			a.ImageURL = upd.ImageURL
		}
		if upd.AvgBuyPrice != nil {
			a.AvgBuyPrice = *upd.AvgBuyPrice
		}
		if upd.Balance != nil && !upd.Balance.Equal(a.Balance) {
			delta := upd.Balance.Sub(a.Balance)
			typ := domain.TxBuy
			if delta.IsNegative() {
				typ = domain.TxSell
			}
			note := balanceAdjustmentNote
			t := domain.Transaction{
				ID:          uuid.New(),
				PortfolioID: a.PortfolioID,
				AssetID:     a.ID,
				Type:        typ,
				Amount:      delta.Abs(),
				Price:       a.AvgBuyPrice,
				Date:        s.now(),
				Notes:       &note,
				Meta:        domain.TxMeta{Source: domain.SourceBalanceAdjustment}.JSON(),
			}
			if err := r.InsertTransaction(&t); err != nil {
				return err
			}
			a.Balance = *upd.Balance
		}
		if err := r.SaveAsset(a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// DeleteAsset removes an asset and every transaction naming it as source or destination.
func (s *Store) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	return s.backend.Update(ctx, func(r Repo) error {
		if _, err := r.GetAsset(id); err != nil {
			return err
		}
		return deleteAsset(r, id)
	})
}

func deleteAsset(r Repo, id uuid.UUID) error {
	if err := r.DeleteTransactionsForAsset(id); err != nil {
		return err
	}
	return r.DeleteAsset(id)
}

// ---- transactions ----

// CreateTransaction records a transaction and applies its balance effect in the
// same unit of work. The returned transaction reflects committed state.
func (s *Store) CreateTransaction(ctx context.Context, in domain.NewTransaction) (*domain.Transaction, error) {
	if err := ValidateTransaction(in); err != nil {
		return nil, err
	}
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	source := in.Source
	if source == "" {
		source = domain.SourceManual
	}

	var out *domain.Transaction
	err := s.backend.Update(ctx, func(r Repo) error {
		a, err := r.GetAsset(in.AssetID)
		if err != nil {
			return err
		}
		h, err := ApplySource(HoldingOf(a), in.Type, in.Amount, in.Price)
		if err != nil {
			return err
		}
		if in.Type == domain.TxSwap {
			d, err := r.GetAsset(*in.ToAssetID)
			if err != nil {
				return err
			}
			if d.PortfolioID != a.PortfolioID {
				return domain.Invalid("swap destination must belong to the same portfolio")
			}
			ApplyDestination(HoldingOf(d), in.ToAmount.Decimal, in.ToPrice).Set(d)
			if err := r.SaveAsset(d); err != nil {
				return err
			}
		}
		h.Set(a)
		if err := r.SaveAsset(a); err != nil {
			return err
		}
		t := domain.Transaction{
			ID:          uuid.New(),
			PortfolioID: a.PortfolioID,
			AssetID:     a.ID,
			Type:        in.Type,
			Amount:      in.Amount,
			Price:       in.Price,
			Date:        date,
			ToAssetID:   in.ToAssetID,
			ToAmount:    in.ToAmount,
			ToPrice:     in.ToPrice,
			Notes:       in.Notes,
			Meta:        domain.TxMeta{Source: source}.JSON(),
		}
		if err := r.InsertTransaction(&t); err != nil {
			return err
		}
		out = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("tx_id", out.ID.String()).Str("type", string(out.Type)).Str("amount", out.Amount.String()).Msg("transaction recorded")
	return out, nil
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := s.backend.View(ctx, func(r Repo) error {
		t, err := r.GetTransaction(id)
		out = t
		return err
	})
	return out, err
}

// ListTransactions returns matching transactions, newest first.
func (s *Store) ListTransactions(ctx context.Context, filter TxFilter) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := s.backend.View(ctx, func(r Repo) error {
		ts, err := r.ListTransactions(filter)
		out = ts
		return err
	})
	return out, err
}

// UpdateTransaction edits notes and date. Financial fields are immutable.
func (s *Store) UpdateTransaction(ctx context.Context, id uuid.UUID, upd domain.TransactionUpdate) (*domain.Transaction, error) {
	if upd.Date != nil && upd.Date.IsZero() {
		return nil, domain.Invalid("date must not be empty")
	}
	var out *domain.Transaction
	err := s.backend.Update(ctx, func(r Repo) error {
		t, err := r.GetTransaction(id)
		if err != nil {
			return err
		}
		if upd.Notes != nil {
			t.Notes = upd.Notes
		}
		if upd.Date != nil {
			t.Date = *upd.Date
		}
		if err := r.SaveTransaction(t); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// DeleteTransaction removes a transaction and reverses its balance effect. A reversal
// that would leave any balance negative is rejected and nothing changes.
func (s *Store) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	return s.backend.Update(ctx, func(r Repo) error {
		t, err := r.GetTransaction(id)
		if err != nil {
			return err
		}
		a, err := r.GetAsset(t.AssetID)
		switch {
		case err == nil:
			h, err := ReverseSource(HoldingOf(a), t.Type, t.Amount, t.Price)
			if err != nil {
				return err
			}
			// Transfer deposits folded their lot price into the average.
			if t.Type == domain.TxDeposit && t.Price.Valid && t.Source() == domain.SourceTransfer {
				h.AvgBuyPrice = UnwindAverage(HoldingOf(a), t.Amount, t.Price.Decimal)
			}
			h.Set(a)
			if err := r.SaveAsset(a); err != nil {
				return err
			}
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		if t.Type == domain.TxSwap && t.ToAssetID != nil && t.ToAmount.Valid {
			d, err := r.GetAsset(*t.ToAssetID)
			switch {
			case err == nil:
				h, err := ReverseDestination(HoldingOf(d), t.ToAmount.Decimal, t.ToPrice)
				if err != nil {
					return err
				}
				h.Set(d)
				if err := r.SaveAsset(d); err != nil {
					return err
				}
			case !errors.Is(err, domain.ErrNotFound):
				return err
			}
		}
		return r.DeleteTransaction(id)
	})
}

// ---- transfers ----

// Transfer moves an amount of one asset into another portfolio as a withdraw on the
// source and a deposit on the destination, all in one unit of work. A drained source
// asset is deleted together with its history, so Withdraw is nil in that case.
func (s *Store) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	if !req.Amount.IsPositive() {
		return nil, domain.Invalid("amount must be greater than zero")
	}
	if req.LotPrice.Valid && req.LotPrice.Decimal.IsNegative() {
		return nil, domain.Invalid("lot price must not be negative")
	}
	date := req.Date
	if date.IsZero() {
		date = s.now()
	}

	var res domain.TransferResult
	err := s.backend.Update(ctx, func(r Repo) error {
		res = domain.TransferResult{}
		src, err := r.GetAsset(req.SourceAssetID)
		if err != nil {
			return err
		}
		if src.PortfolioID == req.TargetPortfolioID {
			return domain.Invalid("source and target portfolio are the same")
		}
		if _, err := r.GetPortfolio(req.TargetPortfolioID); err != nil {
			return err
		}
		if req.Amount.GreaterThan(src.Balance) {
			return domain.Invariant("insufficient balance: have %s, need %s", src.Balance.String(), req.Amount.String())
		}

		h, err := ApplySource(HoldingOf(src), domain.TxWithdraw, req.Amount, decimal.NullDecimal{})
		if err != nil {
			return err
		}

		dest, err := mergeAsset(r, req.TargetPortfolioID, domain.Asset{
			Name:     src.Name,
			Symbol:   src.Symbol,
			PriceID:  src.PriceID,
			ImageURL: src.ImageURL,
		}, req.Amount, req.LotPrice)
		if err != nil {
			return err
		}

		srcPortfolio := src.PortfolioID
		if h.Balance.IsPositive() {
			h.Set(src)
			if err := r.SaveAsset(src); err != nil {
				return err
			}
			withdraw := domain.Transaction{
				ID:          uuid.New(),
				PortfolioID: srcPortfolio,
				AssetID:     src.ID,
				Type:        domain.TxWithdraw,
				Amount:      req.Amount,
				Date:        date,
				Meta: domain.TxMeta{
					Source:                  domain.SourceTransfer,
					CounterpartyPortfolioID: &req.TargetPortfolioID,
					CounterpartyAssetID:     &dest.ID,
				}.JSON(),
			}
			if err := r.InsertTransaction(&withdraw); err != nil {
				return err
			}
			res.Source = src
			res.Withdraw = &withdraw
		} else {
			if err := deleteAsset(r, src.ID); err != nil {
				return err
			}
			res.SourceDeleted = true
		}

		deposit := domain.Transaction{
			ID:          uuid.New(),
			PortfolioID: req.TargetPortfolioID,
			AssetID:     dest.ID,
			Type:        domain.TxDeposit,
			Amount:      req.Amount,
			Price:       req.LotPrice,
			Date:        date,
			Meta: domain.TxMeta{
				Source:                  domain.SourceTransfer,
				CounterpartyPortfolioID: &srcPortfolio,
			}.JSON(),
		}
		if err := r.InsertTransaction(&deposit); err != nil {
			return err
		}
		res.Destination = *dest
		res.Deposit = deposit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// PriceIDs returns every distinct price id held in any portfolio.
func (s *Store) PriceIDs(ctx context.Context) ([]string, error) {
	var out []string
	err := s.backend.View(ctx, func(r Repo) error {
		ids, err := r.PriceIDs()
		out = ids
		return err
	})
	return out, err
}
