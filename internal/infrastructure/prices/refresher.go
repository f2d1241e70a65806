package prices

import (
	"context"
	"time"

	"cryptofolio-backend/internal/domain"

	"github.com/rs/zerolog/log"
)

// DefaultRefreshInterval is how often tracked quotes are refreshed.
const DefaultRefreshInterval = 30 * time.Second

// MessagePriceUpdate is the type of the message broadcast after every refresh.
const MessagePriceUpdate = "priceUpdate"

// PriceUpdate is the broadcast payload.
type PriceUpdate struct {
	Type string         `json:"type"`
	Data []domain.Quote `json:"data"`
}

// Publisher fans a message out to subscribers.
type Publisher interface {
	Broadcast(v any)
}

// FetchFunc returns whatever quotes it could get for ids.
type FetchFunc func(ctx context.Context, ids []string) (map[string]domain.Quote, error)

// TrackedFunc lists the price ids currently held in the ledger.
type TrackedFunc func(ctx context.Context) ([]string, error)

// Hook runs after every successful refresh with the new snapshot.
type Hook func(ctx context.Context, snap *Snapshot)

// Refresher owns the only timer that writes the price cache.
type Refresher struct {
	cache     *Cache
	fetch     FetchFunc
	tracked   TrackedFunc
	defaults  []string
	interval  time.Duration
	publisher Publisher
	hooks     []Hook
	now       func() time.Time
}

// RefresherConfig wires a Refresher. Publisher and Tracked may be nil.
type RefresherConfig struct {
	Cache      *Cache
	Fetch      FetchFunc
	Tracked    TrackedFunc
	DefaultIDs []string
	Interval   time.Duration
	Publisher  Publisher
	Hooks      []Hook
}

func NewRefresher(cfg RefresherConfig) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRefreshInterval
	}
	return &Refresher{
		cache:     cfg.Cache,
		fetch:     cfg.Fetch,
		tracked:   cfg.Tracked,
		defaults:  cfg.DefaultIDs,
		interval:  cfg.Interval,
		publisher: cfg.Publisher,
		hooks:     cfg.Hooks,
		now:       time.Now,
	}
}

// Run refreshes once immediately and then on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", r.interval).Msg("price refresher started")
	for {
		if err := r.RefreshOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("price refresh failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("price refresher stopped")
			return
		case <-ticker.C:
		}
	}
}

// RefreshOnce fetches every tracked id, swaps the snapshot, broadcasts it and runs hooks.
// Ids the fetch could not price keep their previous quote.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	ids := r.ids(ctx)
	if len(ids) == 0 {
		return nil
	}
	fetched, err := r.fetch(ctx, ids)
	if err != nil {
		return err
	}

	prev := r.cache.Load()
	next := make(map[string]domain.Quote, len(ids))
	for _, id := range ids {
		if q, ok := fetched[id]; ok {
			next[id] = q
		} else if q, ok := prev.Quotes[id]; ok {
			next[id] = q
		}
	}
	snap := r.cache.Swap(ctx, next, r.now())
	log.Debug().Int("tracked", len(ids)).Int("fetched", len(fetched)).Msg("price snapshot refreshed")

	if r.publisher != nil {
		r.publisher.Broadcast(PriceUpdate{Type: MessagePriceUpdate, Data: snap.List()})
	}
	for _, h := range r.hooks {
		h(ctx, snap)
	}
	return nil
}

func (r *Refresher) ids(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, id := range r.defaults {
		add(id)
	}
	if r.tracked != nil {
		held, err := r.tracked(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("could not list held price ids")
		}
		for _, id := range held {
			add(id)
		}
	}
	return ids
}
