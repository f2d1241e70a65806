// Package memory is an in-process ledger backend. Each Update works on a copy of
// the whole state and swaps it in only when the unit of work succeeds.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/ledger"

	"github.com/google/uuid"
)

type state struct {
	portfolios   map[uuid.UUID]domain.Portfolio
	assets       map[uuid.UUID]domain.Asset
	transactions map[uuid.UUID]domain.Transaction
}

func newState() *state {
	return &state{
		portfolios:   make(map[uuid.UUID]domain.Portfolio),
		assets:       make(map[uuid.UUID]domain.Asset),
		transactions: make(map[uuid.UUID]domain.Transaction),
	}
}

func (s *state) clone() *state {
	c := &state{
		portfolios:   make(map[uuid.UUID]domain.Portfolio, len(s.portfolios)),
		assets:       make(map[uuid.UUID]domain.Asset, len(s.assets)),
		transactions: make(map[uuid.UUID]domain.Transaction, len(s.transactions)),
	}
	for k, v := range s.portfolios {
		c.portfolios[k] = v
	}
	for k, v := range s.assets {
		c.assets[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	return c
}

// Backend keeps ledger rows in maps guarded by one lock.
type Backend struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{state: newState(), now: time.Now}
}

var _ ledger.Backend = (*Backend)(nil)

func (b *Backend) View(ctx context.Context, fn func(ledger.Repo) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fn(&repo{s: b.state, now: b.now, readOnly: true})
}

func (b *Backend) Update(ctx context.Context, fn func(ledger.Repo) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.state.clone()
	if err := fn(&repo{s: next, now: b.now}); err != nil {
		return err
	}
	b.state = next
	return nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (b *Backend) Close() error {
	return nil
}

// repo reads and writes one state snapshot. Values are copied in and out so callers
// never alias stored rows.
type repo struct {
	s        *state
	now      func() time.Time
	readOnly bool
}

var errReadOnly = &domain.Error{Kind: domain.KindInternal, Message: "write attempted in a read-only unit"}

func (r *repo) GetPortfolio(id uuid.UUID) (*domain.Portfolio, error) {
	p, ok := r.s.portfolios[id]
	if !ok {
		return nil, domain.NotFound("portfolio %s not found", id)
	}
	return &p, nil
}

func (r *repo) FindPortfolioByAddress(address string) (*domain.Portfolio, error) {
	for _, p := range r.s.portfolios {
		if p.WalletAddress != nil && *p.WalletAddress == address {
			out := p
			return &out, nil
		}
	}
	return nil, domain.NotFound("no portfolio for address %s", address)
}

func (r *repo) ListPortfolios(filter ledger.PortfolioFilter) ([]domain.Portfolio, error) {
	out := make([]domain.Portfolio, 0, len(r.s.portfolios))
	for _, p := range r.s.portfolios {
		if !filter.All {
			switch {
			case filter.UserID == nil && p.UserID != nil:
				continue
			case filter.UserID != nil && (p.UserID == nil || *p.UserID != *filter.UserID):
				continue
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *repo) InsertPortfolio(p *domain.Portfolio) error {
	if r.readOnly {
		return errReadOnly
	}
	if _, ok := r.s.portfolios[p.ID]; ok {
		return domain.Conflict("portfolio already exists", nil)
	}
	if p.WalletAddress != nil {
		if _, err := r.FindPortfolioByAddress(*p.WalletAddress); err == nil {
			return domain.Conflict("wallet address already connected", nil)
		}
	}
	now := r.now()
	p.CreatedAt, p.UpdatedAt = now, now
	r.s.portfolios[p.ID] = *p
	return nil
}

func (r *repo) SavePortfolio(p *domain.Portfolio) error {
	if r.readOnly {
		return errReadOnly
	}
	if _, ok := r.s.portfolios[p.ID]; !ok {
		return domain.NotFound("portfolio %s not found", p.ID)
	}
	p.UpdatedAt = r.now()
	r.s.portfolios[p.ID] = *p
	return nil
}

func (r *repo) DeletePortfolio(id uuid.UUID) error {
	if r.readOnly {
		return errReadOnly
	}
	delete(r.s.portfolios, id)
	return nil
}

func (r *repo) GetAsset(id uuid.UUID) (*domain.Asset, error) {
	a, ok := r.s.assets[id]
	if !ok {
		return nil, domain.NotFound("asset %s not found", id)
	}
	return &a, nil
}

func (r *repo) FindAssetBySymbol(portfolioID uuid.UUID, symbol string) (*domain.Asset, error) {
	for _, a := range r.s.assets {
		if a.PortfolioID == portfolioID && a.Symbol == symbol {
			out := a
			return &out, nil
		}
	}
	return nil, domain.NotFound("asset %s not found in portfolio %s", symbol, portfolioID)
}

func (r *repo) ListAssets(portfolioIDs []uuid.UUID) ([]domain.Asset, error) {
	var want map[uuid.UUID]struct{}
	if portfolioIDs != nil {
		want = make(map[uuid.UUID]struct{}, len(portfolioIDs))
		for _, id := range portfolioIDs {
			want[id] = struct{}{}
		}
	}
	out := make([]domain.Asset, 0)
	for _, a := range r.s.assets {
		if want != nil {
			if _, ok := want[a.PortfolioID]; !ok {
				continue
			}
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol == out[j].Symbol {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

func (r *repo) InsertAsset(a *domain.Asset) error {
	if r.readOnly {
		return errReadOnly
	}
	if _, err := r.FindAssetBySymbol(a.PortfolioID, a.Symbol); err == nil {
		return domain.Conflict("portfolio already holds "+a.Symbol, nil)
	}
	now := r.now()
	a.CreatedAt, a.UpdatedAt = now, now
	r.s.assets[a.ID] = *a
	return nil
}

func (r *repo) SaveAsset(a *domain.Asset) error {
	if r.readOnly {
		return errReadOnly
	}
	if _, ok := r.s.assets[a.ID]; !ok {
		return domain.NotFound("asset %s not found", a.ID)
	}
	a.UpdatedAt = r.now()
	r.s.assets[a.ID] = *a
	return nil
}

func (r *repo) DeleteAsset(id uuid.UUID) error {
	if r.readOnly {
		return errReadOnly
	}
	delete(r.s.assets, id)
	return nil
}

func (r *repo) GetTransaction(id uuid.UUID) (*domain.Transaction, error) {
	t, ok := r.s.transactions[id]
	if !ok {
		return nil, domain.NotFound("transaction %s not found", id)
	}
	return &t, nil
}

func (r *repo) ListTransactions(filter ledger.TxFilter) ([]domain.Transaction, error) {
	var want map[uuid.UUID]struct{}
	if len(filter.PortfolioIDs) > 0 {
		want = make(map[uuid.UUID]struct{}, len(filter.PortfolioIDs))
		for _, id := range filter.PortfolioIDs {
			want[id] = struct{}{}
		}
	}
	out := make([]domain.Transaction, 0)
	for _, t := range r.s.transactions {
		if want != nil {
			if _, ok := want[t.PortfolioID]; !ok {
				continue
			}
		}
		if filter.AssetID != nil && t.AssetID != *filter.AssetID && (t.ToAssetID == nil || *t.ToAssetID != *filter.AssetID) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Date.After(out[j].Date)
	})
	return out, nil
}

func (r *repo) InsertTransaction(t *domain.Transaction) error {
	if r.readOnly {
		return errReadOnly
	}
	t.CreatedAt = r.now()
	r.s.transactions[t.ID] = *t
	return nil
}

func (r *repo) SaveTransaction(t *domain.Transaction) error {
	if r.readOnly {
		return errReadOnly
	}
	if _, ok := r.s.transactions[t.ID]; !ok {
		return domain.NotFound("transaction %s not found", t.ID)
	}
	r.s.transactions[t.ID] = *t
	return nil
}

func (r *repo) DeleteTransaction(id uuid.UUID) error {
	if r.readOnly {
		return errReadOnly
	}
	delete(r.s.transactions, id)
	return nil
}

func (r *repo) DeleteTransactionsForAsset(assetID uuid.UUID) error {
	if r.readOnly {
		return errReadOnly
	}
	for id, t := range r.s.transactions {
		if t.AssetID == assetID || (t.ToAssetID != nil && *t.ToAssetID == assetID) {
			delete(r.s.transactions, id)
		}
	}
	return nil
}

func (r *repo) PriceIDs() ([]string, error) {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, a := range r.s.assets {
		if _, ok := seen[a.PriceID]; ok {
			continue
		}
		seen[a.PriceID] = struct{}{}
		out = append(out, a.PriceID)
	}
	sort.Strings(out)
	return out, nil
}
