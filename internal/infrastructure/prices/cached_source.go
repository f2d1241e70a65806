package prices

import (
	"context"
	"time"

	"cryptofolio-backend/internal/domain"
)

// CachedSource answers from the cache when the cached quote is fresh enough and asks
// upstream for the rest. It never writes the cache.
type CachedSource struct {
	cache    *Cache
	upstream Source
	maxAge   time.Duration
	now      func() time.Time
}

// NewCachedSource serves quotes younger than maxAge from cache.
func NewCachedSource(cache *Cache, upstream Source, maxAge time.Duration) *CachedSource {
	return &CachedSource{cache: cache, upstream: upstream, maxAge: maxAge, now: time.Now}
}

func (s *CachedSource) Quotes(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote, len(ids))
	snap := s.cache.Load()
	var misses []string
	for _, id := range ids {
		q, ok := snap.Quotes[id]
		if ok && s.now().Sub(q.UpdatedAt) <= s.maxAge {
			out[id] = q
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}
	fetched, err := s.upstream.Quotes(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, q := range fetched {
		out[id] = q
	}
	return out, nil
}
