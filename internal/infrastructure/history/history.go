// Package history keeps portfolio value snapshots in Redis sorted sets.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cryptofolio-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// DefaultRetention bounds how far back snapshots are kept.
const DefaultRetention = 400 * 24 * time.Hour

// member is the JSON stored in the sorted set.
type member struct {
	T time.Time       `json:"t"`
	V decimal.Decimal `json:"v"`
}

// PortfolioKey is the sorted set holding one portfolio's values.
func PortfolioKey(id uuid.UUID) string {
	return "history:portfolio:" + id.String()
}

// SummaryKey is the sorted set holding the summary value of an owner's portfolios.
// Anonymous portfolios share one key.
func SummaryKey(userID *uuid.UUID) string {
	if userID == nil {
		return "history:summary"
	}
	return "history:summary:" + userID.String()
}

// Store records and reads value history. A Store without Redis records nothing and
// returns empty ranges.
type Store struct {
	rdb       *redis.Client
	retention time.Duration
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, retention: DefaultRetention}
}

// Record appends a point and drops points older than the retention window.
func (s *Store) Record(ctx context.Context, key string, at time.Time, v decimal.Decimal) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	m, err := json.Marshal(member{T: at.UTC(), V: v})
	if err != nil {
		return err
	}
	cutoff := at.Add(-s.retention).Unix()
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(at.Unix()), Member: m})
		p.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		return nil
	})
	if err != nil {
		return fmt.Errorf("record history %s: %w", key, err)
	}
	return nil
}

// Range returns points with from <= t <= to in time order.
func (s *Store) Range(ctx context.Context, key string, from, to time.Time) ([]domain.ValuePoint, error) {
	if s == nil || s.rdb == nil {
		return nil, nil
	}
	members, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(from.Unix(), 10),
		Max: strconv.FormatInt(to.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", key, err)
	}
	out := make([]domain.ValuePoint, 0, len(members))
	for _, raw := range members {
		var m member
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		out = append(out, domain.ValuePoint{Timestamp: m.T, Value: m.V})
	}
	return out, nil
}

// Delete drops a key, used when a portfolio is removed.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, key).Err()
}
