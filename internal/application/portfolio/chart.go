package portfolio

import (
	"context"
	"hash/fnv"
	"iter"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"cryptofolio-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Timeframe describes the window and resolution of a chart.
type Timeframe struct {
	Name       string
	Step       time.Duration
	Points     int
	Volatility float64
}

var timeframes = map[string]Timeframe{
	"24h": {Name: "24h", Step: time.Hour, Points: 24, Volatility: 0.02},
	"7d":  {Name: "7d", Step: 6 * time.Hour, Points: 28, Volatility: 0.05},
	"30d": {Name: "30d", Step: 24 * time.Hour, Points: 30, Volatility: 0.10},
	"1y":  {Name: "1y", Step: 7 * 24 * time.Hour, Points: 52, Volatility: 0.25},
	"all": {Name: "all", Step: 30 * 24 * time.Hour, Points: 60, Volatility: 0.40},
}

// ParseTimeframe looks up a timeframe by name; an empty name means 24h.
func ParseTimeframe(name string) (Timeframe, error) {
	if name == "" {
		name = "24h"
	}
	tf, ok := timeframes[name]
	if !ok {
		return Timeframe{}, domain.Invalid("unknown timeframe %q (want 24h, 7d, 30d, 1y or all)", name)
	}
	return tf, nil
}

// Series is a chart of portfolio value. Points can be ranged over any number of
// times and always yields the same values. Synthetic marks simulated data that is
// not real history.
type Series struct {
	Timeframe string
	Synthetic bool
	Points    iter.Seq[domain.ValuePoint]
}

// ChartSeries charts one portfolio, or the owner's summary when portfolioID is nil.
// Recorded history is used when it has at least two points in the window; otherwise
// a deterministic random walk ending at the current value is produced.
func (s *Service) ChartSeries(ctx context.Context, timeframe string, portfolioID *uuid.UUID, userID *uuid.UUID) (*Series, error) {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	var key string
	var current decimal.Decimal
	if portfolioID != nil {
		ov, err := s.Overview(ctx, *portfolioID)
		if err != nil {
			return nil, err
		}
		key = s.keys.Portfolio(*portfolioID)
		current = ov.TotalValue
	} else {
		sum, err := s.Summary(ctx, userID)
		if err != nil {
			return nil, err
		}
		key = s.keys.Summary(userID)
		current = sum.TotalValue
	}

	end := s.now()
	start := end.Add(-tf.Step * time.Duration(tf.Points-1))
	if s.history != nil {
		recorded, err := s.history.Range(ctx, key, start, end)
		if err == nil && len(recorded) >= 2 {
			return &Series{Timeframe: tf.Name, Points: slices.Values(recorded)}, nil
		}
	}
	return &Series{
		Timeframe: tf.Name,
		Synthetic: true,
		Points:    Simulate(tf, current, end, seedFor(key, tf.Name)),
	}, nil
}

func seedFor(key, timeframe string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(timeframe))
	return h.Sum64()
}

// Simulate walks backwards from current so the final point equals current. Each step
// moves by at most tf.Volatility/sqrt(tf.Points), and values never go below zero.
func Simulate(tf Timeframe, current decimal.Decimal, end time.Time, seed uint64) iter.Seq[domain.ValuePoint] {
	return func(yield func(domain.ValuePoint) bool) {
		values := make([]decimal.Decimal, tf.Points)
		values[tf.Points-1] = current
		if current.IsPositive() {
			rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
			maxStep := tf.Volatility / math.Sqrt(float64(tf.Points))
			for i := tf.Points - 2; i >= 0; i-- {
				move := (rng.Float64()*2 - 1) * maxStep
				v := values[i+1].Div(decimal.NewFromFloat(1 + move))
				if v.IsNegative() {
					v = decimal.Zero
				}
				values[i] = v
			}
		} else {
			for i := range values {
				values[i] = decimal.Zero
			}
		}
		for i, v := range values {
			p := domain.ValuePoint{
				Timestamp: end.Add(-tf.Step * time.Duration(tf.Points-1-i)),
				Value:     v.Round(2),
			}
			if i == tf.Points-1 {
				p.Value = current
			}
			if !yield(p) {
				return
			}
		}
	}
}
