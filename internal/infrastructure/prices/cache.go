package prices

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"cryptofolio-backend/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisKey holds the latest snapshot so another instance can warm-start from it.
const RedisKey = "prices:latest"

const redisTTL = 15 * time.Minute

// Snapshot is an immutable set of quotes. Readers never see a partially written one.
type Snapshot struct {
	Quotes    map[string]domain.Quote `json:"quotes"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

// List returns the quotes ordered by id.
func (s *Snapshot) List() []domain.Quote {
	out := make([]domain.Quote, 0, len(s.Quotes))
	for _, q := range s.Quotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cache is a single-writer, many-reader quote snapshot. The refresher is the only writer.
type Cache struct {
	snap atomic.Pointer[Snapshot]
	rdb  *redis.Client
}

// NewCache returns an empty cache. rdb may be nil, in which case nothing is mirrored.
func NewCache(rdb *redis.Client) *Cache {
	c := &Cache{rdb: rdb}
	c.snap.Store(&Snapshot{Quotes: map[string]domain.Quote{}})
	return c
}

// Load returns the current snapshot. It is never nil.
func (c *Cache) Load() *Snapshot {
	return c.snap.Load()
}

// Get returns the cached quote for id.
func (c *Cache) Get(id string) (domain.Quote, bool) {
	q, ok := c.snap.Load().Quotes[id]
	return q, ok
}

// Swap installs quotes as the new snapshot and mirrors it to Redis. The map must not
// be modified afterwards.
func (c *Cache) Swap(ctx context.Context, quotes map[string]domain.Quote, at time.Time) *Snapshot {
	s := &Snapshot{Quotes: quotes, UpdatedAt: at}
	c.snap.Store(s)
	if c.rdb != nil {
		b, err := json.Marshal(s)
		if err == nil {
			err = c.rdb.Set(ctx, RedisKey, b, redisTTL).Err()
		}
		if err != nil {
			log.Warn().Err(err).Msg("could not mirror price snapshot to redis")
		}
	}
	return s
}

// Warm loads the Redis mirror into an empty cache. It reports whether anything was loaded.
func (c *Cache) Warm(ctx context.Context) (bool, error) {
	if c.rdb == nil || len(c.Load().Quotes) > 0 {
		return false, nil
	}
	b, err := c.rdb.Get(ctx, RedisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return false, err
	}
	if s.Quotes == nil {
		s.Quotes = map[string]domain.Quote{}
	}
	c.snap.CompareAndSwap(c.Load(), &s)
	return len(s.Quotes) > 0, nil
}
