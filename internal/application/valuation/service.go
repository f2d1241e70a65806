package valuation

import (
	"context"
	"sync"
	"time"

	"cryptofolio-backend/internal/domain"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is how many price ids go into one upstream quote request.
const DefaultBatchSize = 10

// QuoteSource returns quotes for ids. Unknown ids are omitted from the result.
type QuoteSource interface {
	Quotes(ctx context.Context, ids []string) (map[string]domain.Quote, error)
}

// Service values ledger assets against a QuoteSource.
type Service struct {
	source    QuoteSource
	batchSize int
	now       func() time.Time
}

func NewService(source QuoteSource, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Service{source: source, batchSize: batchSize, now: time.Now}
}

// Quotes fetches ids in batches. A failing batch is logged and its ids are treated
// as absent, so read paths degrade to zero prices.
func (s *Service) Quotes(ctx context.Context, ids []string) map[string]domain.Quote {
	out, _ := s.fetch(ctx, ids, false)
	return out
}

// StrictQuotes is Quotes for write paths: any batch failure fails the whole call.
func (s *Service) StrictQuotes(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
	return s.fetch(ctx, ids, true)
}

func (s *Service) fetch(ctx context.Context, ids []string, strict bool) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote)
	batches := Batches(ids, s.batchSize)
	if len(batches) == 0 {
		return out, nil
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, batch := range batches {
		g.Go(func() error {
			quotes, err := s.source.Quotes(gctx, batch)
			if err != nil {
				if strict {
					return err
				}
				log.Warn().Err(err).Strs("ids", batch).Msg("quote batch failed, pricing at zero")
				return nil
			}
			mu.Lock()
			for id, q := range quotes {
				out[id] = q
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			return nil, domain.Upstream("price source failed", err)
		}
		return nil, err
	}
	return out, nil
}

// Value prices assets with degraded-on-failure quotes.
func (s *Service) Value(ctx context.Context, assets []domain.Asset) []AssetWithPrice {
	if len(assets) == 0 {
		return []AssetWithPrice{}
	}
	return PriceAssets(assets, s.Quotes(ctx, priceIDs(assets)))
}

// Overview values assets and summarizes them. An empty list returns zeros without
// calling the quote source.
func (s *Service) Overview(ctx context.Context, assets []domain.Asset) Overview {
	if len(assets) == 0 {
		return Summarize(nil, s.now())
	}
	return Summarize(s.Value(ctx, assets), s.now())
}

// StrictQuote returns the quote for one id. ok is false when the source does not
// know the id; a source failure is an error.
func (s *Service) StrictQuote(ctx context.Context, id string) (domain.Quote, bool, error) {
	quotes, err := s.StrictQuotes(ctx, []string{id})
	if err != nil {
		return domain.Quote{}, false, err
	}
	q, ok := quotes[id]
	return q, ok, nil
}

func priceIDs(assets []domain.Asset) []string {
	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		ids = append(ids, a.PriceID)
	}
	return ids
}
